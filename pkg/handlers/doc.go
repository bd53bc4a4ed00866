/*
Package handlers provides the built-in event handlers and the registry that turns a
list of handler identities into a worker's chain.

# Built-in Handlers

	broadcast  publishes every event to the events.Broker (live websocket feed)
	cache      keeps the latest captured JPEG per camera (memory or Redis)
	persist    writes online state, last poll and last error to the status store
	poll       doubles the worker's interval on failure, capped at max_sleep,
	           and restores it on the next capture
	upload     archives captured JPEGs of cameras whose recording is on
	motion     compares consecutive frames and records a 0..100 motion level

# Registry

Registry.Chain is called once per worker incarnation, so every handler instance
belongs to exactly one worker and may keep per-camera state without locking. An
identity without a factory is an error, which the supervisor reports as a spawn
fault for that camera.

	registry := handlers.NewDefaultRegistry(handlers.Deps{
		Broker:  broker,
		Cache:   handlers.NewMemoryCache(10 * time.Minute),
		Status:  store,
		Archive: archive,
	}, 10*time.Second)

	chain, err := registry.Chain("front-gate", cfg.EventHandlers)

# Redis Cache

RedisCache stores one hash per camera under snapshot:<exid> with the fields image
and captured_at (Unix milliseconds), refreshed with the configured TTL on every write.

# Archive Layout

	<archive>/<exid>/snapshots/2024/01/31/13/05_09_042.jpg

Files are written to a temporary name and renamed into place, so readers never see
a partial JPEG.

# Motion Analysis

Each frame is decoded and reduced to a 32x24 grid of mean luminance. The level is
the percentage of cells whose mean moved by at least 24 between the previous and
the current frame. The first frame of a worker only primes the comparison.
*/
package handlers
