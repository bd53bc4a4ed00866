/*
Package metrics provides Prometheus metrics and the component health registry for
shutter.

All collectors are package-level variables registered with the default Prometheus
registry in init, so any package can record a measurement without plumbing a registry
through constructors. The HTTP surface exposes them on /metrics through Handler.

# Metric Families

Directory and supervisor:

	shutter_cameras_total                  gauge     cameras in the device directory
	shutter_workers_running                gauge     workers registered with the supervisor
	shutter_worker_restarts_total{worker}  counter   abnormal terminations followed by a restart
	shutter_config_rejections_total        counter   camera records rejected by the config builder
	shutter_bootstrap_duration_seconds     histogram time to start workers for the whole directory

Workers and handlers:

	shutter_snapshots_total{result}            counter   fetch outcomes: captured, failed, skipped
	shutter_snapshot_fetch_duration_seconds    histogram fetch latency
	shutter_events_dropped_total               counter   events lost to a full dispatch queue
	shutter_handler_errors_total{handler}      counter   failed or panicking handler calls
	shutter_handler_duration_seconds{handler}  histogram handler latency
	shutter_motion_detected_total              counter   snapshots above the motion threshold

API:

	shutter_api_requests_total{path,status}
	shutter_api_request_duration_seconds{path}

# Timing

Timer wraps time.Now so a duration can be observed in one line:

	timer := metrics.NewTimer()
	err := handler.Handle(ctx, ev)
	timer.ObserveDurationVec(metrics.HandlerDuration, handler.Name())

# Collector

Collector samples gauges on a 15 second ticker: the camera count from the device
directory and the worker count from anything implementing WorkerCounter (the
supervisor). Start and Stop follow the usual stop-channel pattern; Stop waits for the
sampling goroutine to exit.

# Health Registry

Components report their state with RegisterComponent and UpdateComponent. The
registry distinguishes critical components (store, supervisor, api) from the rest:

	/health   healthy | degraded | unhealthy
	          unhealthy (503) when a critical component is unhealthy,
	          degraded (200) when only a non-critical one is, e.g. a failed bootstrap
	/live     always 200 while the process runs

A failed bulk bootstrap therefore shows up on /health without taking the process out
of rotation; workers can still be started individually.

# Readiness

Readiness is pulled rather than pushed. A Readiness holds named Check functions that
are run in registration order on every request, bounded by one timeout:

	r := metrics.NewReadiness(2 * time.Second)
	r.Add("storage", func(ctx context.Context) (string, error) {
		if err := store.Ping(); err != nil {
			return "", err
		}
		return "ok", nil
	})
	mux.Handle("GET /ready", r.Handler())

/ready answers 503 until every check passes. The first failing check names the
message ("waiting for storage"), and each check's detail or error appears under
checks.
*/
package metrics
