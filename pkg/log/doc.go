/*
Package log provides structured logging for shutter using zerolog.

The package wraps zerolog with a single global Logger, a level/format configuration
read from the shutter config file, and helpers that create child loggers carrying the
context shutter cares about: the component, the camera being polled and the worker
incarnation that is polling it.

# Architecture

	┌──────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                         │
	│  log.Init(Config) ──► global zerolog.Logger             │
	│        │                                                │
	│        ├── WithComponent("supervisor")                  │
	│        ├── WithCamera("handlers", "front-gate")         │
	│        └── WithWorker("front-gate", "<incarnation>")    │
	│                                                         │
	│  Output: JSON (production) or console (development)     │
	└─────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	supLog := log.WithComponent("supervisor")
	supLog.Info().Str("worker", "front-gate").Msg("Worker started")

	wlog := log.WithWorker("front-gate", incarnationID)
	wlog.Warn().Err(err).Int("failures", 3).Msg("Snapshot failed")

A restarted worker logs under a new incarnation id while its worker name stays the same,
which makes restarts easy to follow in aggregated logs:

	{"level":"warn","component":"supervisor","worker":"front-gate","restarts":2,"message":"Worker crashed, restarting"}
	{"level":"info","component":"worker","worker":"front-gate","incarnation":"7c1e...","message":"Worker started"}

# Security

Camera credentials are never logged. Snapshot URLs are logged as built from the camera
record, which does not embed credentials (authentication is sent as a header).
*/
package log
