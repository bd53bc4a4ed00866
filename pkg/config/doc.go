/*
Package config loads shutter's process configuration and builds per-camera worker
configurations.

# Process Configuration

Configuration is layered: built-in defaults, then an optional YAML file, then
environment variables. Every key has an environment override named SHUTTER_*; the
bootstrap skip flag is SHUTTER_SKIP_WORKERS.

	data_dir: /var/lib/shutter
	secret_key: ""            # enables AES-GCM encryption of camera passwords
	log:
	  level: info
	  json: false
	http:
	  addr: ":9090"
	supervisor:
	  skip_bootstrap: false
	  bootstrap_timeout: 15s
	  bootstrap_concurrency: 16
	  restart_backoff_initial: 1s
	  restart_backoff_max: 30s
	  restart_reset_after: 1m
	  retry_rejected_interval: 0s   # 0 = rejected cameras wait for a manual start
	worker:
	  request_timeout: 10s
	  offline_after: 3
	  max_sleep: 5m
	  queue_size: 64
	  handler_timeout: 10s
	handlers: [broadcast, cache, persist, poll, upload, motion]
	cache:
	  backend: memory           # or redis
	  redis_addr: localhost:6379
	  ttl: 10m
	archive:
	  path: /var/lib/shutter/archive
	motion:
	  threshold: 20

# Worker Configuration

Builder converts one device record into a types.WorkerConfig. It loads the camera's
cloud recording association from the directory when the record arrived without it,
concatenates the base URL with the "jpg" snapshot path and accepts the result only
when it has a host and a port strictly between 0 and 65535. URLs without an explicit
port use 80 for http and 443 for https; any other scheme needs an explicit port.

The polling interval is derived from the recording frequency (snapshots per minute)
when there is one, otherwise from the camera's own interval, otherwise one second.
A recording schedule replaces the camera schedule.

Every failure is a *RejectedError naming the camera, the URL and the reason. Build
has no side effects and never panics.
*/
package config
