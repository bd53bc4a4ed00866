package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/types"
)

// DefaultMaxBytes is the largest snapshot body accepted
const DefaultMaxBytes = 10 << 20

var (
	// ErrFatal marks fetch errors that retrying cannot fix. Workers stop with an
	// error when they see it so the supervisor restarts them.
	ErrFatal = errors.New("fatal snapshot error")

	// ErrNotJPEG is returned when the camera answers with something other than a JPEG
	ErrNotJPEG = errors.New("response is not a JPEG image")

	// ErrTooLarge is returned when the body exceeds the size limit
	ErrTooLarge = errors.New("snapshot exceeds size limit")
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// Snapshot is one fetched image
type Snapshot struct {
	Image       []byte
	ContentType string
	FetchedAt   time.Time
	Duration    time.Duration
}

// Fetcher retrieves a snapshot for a worker configuration
type Fetcher interface {
	Fetch(ctx context.Context, cfg *types.SnapshotConfig) (*Snapshot, error)
}

// HTTPFetcher fetches JPEG snapshots with a plain HTTP GET
type HTTPFetcher struct {
	// Headers are custom HTTP headers to include in every request
	Headers map[string]string

	// MaxBytes caps the accepted body size (default: 10 MiB)
	MaxBytes int64

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPFetcher creates a new HTTP snapshot fetcher
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Headers:  map[string]string{"User-Agent": "shutter"},
		MaxBytes: DefaultMaxBytes,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs the GET request described by cfg
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg *types.SnapshotConfig) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.SnapshotFetchDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFatal, err)
	}

	for key, value := range f.Headers {
		req.Header.Set(key, value)
	}
	if !cfg.Auth.Empty() {
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isJPEG(contentType, body) {
		return nil, fmt.Errorf("%w: content type %q", ErrNotJPEG, contentType)
	}

	return &Snapshot{
		Image:       body,
		ContentType: "image/jpeg",
		FetchedAt:   start,
		Duration:    time.Since(start),
	}, nil
}

// WithHeader adds a custom HTTP header
func (f *HTTPFetcher) WithHeader(key, value string) *HTTPFetcher {
	f.Headers[key] = value
	return f
}

// WithMaxBytes sets the body size limit
func (f *HTTPFetcher) WithMaxBytes(n int64) *HTTPFetcher {
	f.MaxBytes = n
	return f
}

func isJPEG(contentType string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "image/jpeg" {
		return true
	}
	return bytes.HasPrefix(body, jpegMagic)
}
