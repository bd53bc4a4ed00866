// Package snapshot fetches still images from cameras over HTTP.
//
// HTTPFetcher issues a GET against the URL built by the config builder, sending the
// camera credentials as basic auth. A response counts as a snapshot only when it is
// 2xx, non-empty, no larger than MaxBytes and is a JPEG (by Content-Type or by the
// FF D8 FF magic bytes). Errors wrapping ErrFatal mean retrying with the same
// configuration cannot succeed.
package snapshot
