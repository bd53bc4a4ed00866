/*
Package api provides the operational HTTP surface of shutter.

The server exposes health, readiness and metrics for orchestration, a read-only view of
the supervisor's workers, the latest cached snapshot and recorded status per camera, and
a websocket feed of worker events. There is no API for editing device records; cameras
are managed with `shutter camera import`.

# Endpoints

	GET  /health                    component health (200 healthy/degraded, 503 unhealthy)
	GET  /live                      liveness
	GET  /ready                     supervisor started and store answering
	GET  /metrics                   Prometheus metrics
	GET  /workers                   registered workers and rejected cameras
	POST /workers/retry             retry every rejected camera
	GET  /cameras/{exid}/snapshot   latest cached JPEG (X-Captured-At header)
	GET  /cameras/{exid}/status     latest CameraStatus
	GET  /ws[?camera=<exid>]        websocket stream of events as JSON

Readiness does not wait for the worker bootstrap: a supervisor with thousands of cameras
becomes ready as soon as Start returns, and /workers shows workers appearing as the
bootstrap progresses.

# Event Stream

Each websocket client gets its own broker subscription, optionally filtered to one camera.
Events are written as JSON objects:

	{"id":"6f0c...","type":"camera.offline","worker":"front-gate",
	 "camera_exid":"front-gate","timestamp":"2024-01-31T13:05:09Z","message":"..."}

Image bytes are never sent on the stream; fetch /cameras/{exid}/snapshot instead. A
client that falls behind loses events rather than slowing the workers down.

# Metrics

Every endpoint except /metrics is counted in shutter_api_requests_total{path,status} and
timed in shutter_api_request_duration_seconds{path}, labelled with the route pattern rather
than the raw URL so camera ids do not explode label cardinality.
*/
package api
