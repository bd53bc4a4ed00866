/*
Package worker implements the per-camera polling loop.

The worker package is the data plane of shutter. A Worker owns one camera's
WorkerConfig and runs until its context is cancelled: it checks the weekly schedule
in the camera's timezone, fetches a snapshot when the schedule is active, turns the
outcome into events and sleeps. Workers know nothing about each other or about the
supervisor; the supervisor only sees the value Run returns.

# Architecture

	┌─────────────────────── WORKER (one camera) ───────────────────────┐
	│                                                                      │
	│  ┌──────────────────────── poll loop ─────────────────────────┐    │
	│  │  schedule.Weekly.Active(now, loc)                            │    │
	│  │        │                                                     │    │
	│  │  snapshot.Fetcher.Fetch(ctx, &cfg.Config)                    │    │
	│  │        │                                                     │    │
	│  │  availability.update ──► online / offline transitions        │    │
	│  │        │                                                     │    │
	│  │  emit(ev) ──► queue (QueueSize, drop when full)              │    │
	│  │        │                                                     │    │
	│  │  sleep(control.Sleep()) ◄── woken by control.changed         │    │
	│  └──────────────────────────┬───────────────────────────────────┘    │
	│                             │                                         │
	│  ┌──────────────────────────▼──────────────── dispatcher ───────┐    │
	│  │  for ev := range queue { chain.Dispatch(dispatchCtx, ev) }   │    │
	│  │  dispatchCtx outlives the poll loop's ctx until drain ends   │    │
	│  └──────────────────────────────────────────────────────────────┘    │
	│                                                                      │
	│  control       events.Controller handed to handlers (latest wins)   │
	│  availability  consecutive failures/successes, Online flag          │
	└──────────────────────────────────────────────────────────────────────┘

# Core Components

Worker:
  - Created by New from a WorkerConfig it keeps as its only user
  - Run may be called once; a restart builds a new Worker
  - Logs under the worker name and its incarnation id

control:
  - The events.Controller placed in every event
  - Stores the interval atomically and signals a one-slot channel
  - SetSleep with a non-positive duration restores the configured interval

availability:
  - Counts consecutive failed and successful fetches
  - Reports wentOffline when failures reach OfflineAfter while online
  - Reports wentOnline on the first success while offline

# Worker Lifecycle

	Run(ctx)
	  │  resolve timezone, parse schedule ──► error (configuration fault)
	  ▼
	worker.started
	  │  wait InitialSleep (ctx cancelled ──► return nil)
	  ▼
	┌─► schedule active? ──no──► skip (schedule.changed on transitions)
	│        │ yes
	│        ▼
	│     fetch ── ok ──► snapshot.captured (+ camera.online after an outage)
	│        │
	│        └── err ──► snapshot.failed (+ camera.offline at OfflineAfter)
	│                     ErrFatal ──► return error
	│        ▼
	└── sleep current interval (ctx cancelled ──► return nil)

	drain: worker.stopped, then wait for the dispatcher (bounded by DrainTimeout)

A fetch cancelled by ctx is a normal stop, not a failure: no snapshot.failed is
emitted and Run returns nil.

# Return Values

Run's result is what the supervisor uses to classify the termination:

	nil     the context was cancelled, a normal stop
	error   the configuration cannot work (unknown timezone, invalid schedule,
	        snapshot.ErrFatal from the fetcher)
	panic   propagated unchanged; the supervisor recovers it

Fetch failures such as timeouts, refused connections, 401s or HTML error pages are
ordinary camera behaviour. They produce events and availability transitions, never a
returned error, so a camera that is unplugged does not restart its worker.

# Shutdown and Draining

When the poll loop exits, for any of the reasons above, Run drains before returning:

 1. worker.stopped is queued, waiting while the queue is full
 2. the queue is closed and Run waits for the dispatcher to deliver what is left
 3. both waits share one DrainTimeout deadline (default 5s)

If the deadline passes, the dispatcher's context is cancelled, the dispatcher is
abandoned to finish on its own, the abandonment is logged and counted in
shutter_dispatch_abandoned_total, and Run returns. Events still queued after the
cancellation are skipped. A handler that ignores its context can therefore delay a stop
by at most DrainTimeout; StopWorker and Supervisor.Stop always complete.

	normal stop:     ... snapshot.captured, worker.stopped      (Run waits)
	stuck handler:   ... snapshot.captured                      (Run returns after
	                 DrainTimeout, worker.stopped may be dropped)

# Polling Interval

Handlers receive the worker's Controller in every event. SetSleep stores the new
interval and signals without blocking; a sleeping worker wakes, re-measures from the
start of its sleep and continues with the latest value:

	sleeping 5s, 2s elapsed, SetSleep(10s)  ──► wakes after 8 more seconds
	sleeping 5s, 4s elapsed, SetSleep(3s)   ──► wakes immediately

The poll handler uses this to double the interval on every failure up to max_sleep
and to restore it on the next capture.

# Dropped Events

The poll loop never blocks on the handler chain. When the queue is full the event is
dropped, logged and counted in shutter_events_dropped_total. A sustained rate of drops
means a handler in the chain is slower than the camera's interval.

# Configuration

	worker:
	  request_timeout: 10s   # per fetch, enforced by the fetcher
	  offline_after: 3       # consecutive failures before camera.offline
	  max_sleep: 5m          # cap for the poll handler's back off
	  queue_size: 64         # events waiting for the handler chain
	  handler_timeout: 10s   # context deadline of one handler call
	  drain_timeout: 5s      # how long a stopping worker waits for its chain

# Usage

	w := worker.New(cfg, chain, snapshot.NewHTTPFetcher(10*time.Second), worker.Options{
		Incarnation:  incarnation,
		OfflineAfter: 3,
		QueueSize:    64,
		DrainTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Worker failed")
		}
	}()

	// later
	cancel()

# Integration Points

This package integrates with:

  - pkg/supervisor: runs workers through its Factory and restarts failed ones
  - pkg/events: event vocabulary and the handler chain
  - pkg/snapshot: the fetcher and ErrFatal
  - pkg/schedule: weekly windows and timezone resolution
  - pkg/metrics: snapshot, drop and abandonment counters

# Troubleshooting

Worker restarting in a loop:
  - Look for the error in "Worker crashed, restarting"; it is a configuration fault
    (timezone, schedule or a request that cannot be built), not a camera outage

Snapshots skipped:
  - shutter_snapshots_total{result="skipped"} counts polls outside the schedule window;
    check the camera's timezone

Slow shutdown:
  - shutter_dispatch_abandoned_total increasing means a handler ignored its context
    during a stop; find it with shutter_handler_duration_seconds
*/
package worker
