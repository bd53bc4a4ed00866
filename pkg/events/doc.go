/*
Package events defines worker lifecycle events, the ordered handler chain that reacts
to them and an in-memory broker for live subscribers.

Every polling worker describes what happened to its camera as a stream of events:
a snapshot was captured, a fetch failed, the camera went offline, the schedule window
closed. Those events are the only way the rest of shutter learns about a camera. They
feed the latest-snapshot cache, the status store, the archive, motion analysis and
the live websocket feed. The package provides three pieces:

  - Event and EventType, the vocabulary shared by workers and handlers
  - Chain, which delivers one event to an ordered list of Handlers with per-call
    isolation
  - Broker, an in-memory pub/sub fan-out used by the broadcast handler

# Architecture

	┌─────────────────────────── EVENT PATH ────────────────────────────┐
	│                                                                     │
	│  ┌──────────── worker (one per camera) ────────────┐               │
	│  │                                                  │               │
	│  │  poll loop ──► emit(ev) ──► dispatch queue       │               │
	│  │                              (bounded, drops     │               │
	│  │                               when full)         │               │
	│  │                                   │              │               │
	│  │                       dispatcher goroutine       │               │
	│  └───────────────────────────────────┼──────────────┘               │
	│                                      ▼                              │
	│                       Chain.Dispatch(ctx, ev)                       │
	│                                      │                              │
	│     ┌──────── ordered, one handler at a time, isolated ────────┐   │
	│     ▼          ▼           ▼          ▼          ▼          ▼   │   │
	│  broadcast   cache      persist     poll      upload     motion │   │
	│     │          │           │          │          │          │   │   │
	│     │       memory/     bbolt      Controller  local      status│   │
	│     │       redis       status     (sleep)     archive    store │   │
	│     ▼                                                            │   │
	│  ┌──────────────────── Broker ─────────────────────┐                │
	│  │  eventCh (buffer: 100) ──► distribution loop     │                │
	│  │        ──► subscriber channels (buffer: 50)      │                │
	│  │            optionally filtered by camera exid    │                │
	│  └──────────────────────┬───────────────────────────┘                │
	│                         ▼                                           │
	│              API websocket clients (/ws)                            │
	└─────────────────────────────────────────────────────────────────────┘

# Core Components

Event:
  - ID: uuid, unique per event
  - Type: one of the EventType constants below
  - Worker: name of the emitting worker (equal to the camera exid)
  - CameraExID: camera the event is about
  - Timestamp: UTC; for snapshot.captured the time the fetch completed
  - Message: human readable detail, set on failures
  - Metadata: small key/value context, e.g. active=true on schedule.changed
  - Camera: the worker's SnapshotConfig, shared read-only by every handler
  - Image: JPEG bytes on snapshot.captured, never serialized
  - Err: the fetch error on snapshot.failed and camera.offline, never serialized
  - Control: the emitting worker's Controller

Handler:
  - Name() identifies the handler in logs and metric labels
  - Handle(ctx, ev) reacts to one event and returns an error on failure
  - Named wraps a plain function, which is how tests and small handlers are built

Chain:
  - Fixed, ordered list of handlers created once per worker incarnation
  - Optional per-handler timeout delivered through the handler's context
  - Dispatch never panics and never returns early

Broker:
  - Central fan-out for live subscribers
  - Per-subscriber camera filter ("" receives every camera)
  - Non-blocking distribution, full subscribers are skipped
  - Graceful shutdown via stop channel

# Event Types Catalog

snapshot.captured:
  - Emitted when: a fetch returned a JPEG while the schedule is active
  - Carries: Image, Timestamp of the fetch
  - Handled by: broadcast, cache, persist (last poll, online), poll (restore
    interval), upload, motion

snapshot.failed:
  - Emitted when: a fetch failed (network, non-2xx status, not a JPEG)
  - Carries: Err, Message
  - Handled by: broadcast, persist (last error), poll (back off)

camera.online:
  - Emitted when: the first success after the camera was considered offline
  - Handled by: broadcast, persist

camera.offline:
  - Emitted when: consecutive failures reached the worker's OfflineAfter threshold
  - Carries: Err, Message of the failure that crossed the threshold
  - Handled by: broadcast, persist

schedule.changed:
  - Emitted when: the weekly schedule window opened or closed between two polls
  - Carries: Metadata["active"] = "true" | "false"
  - Handled by: broadcast

worker.started:
  - Emitted when: a worker incarnation begins polling
  - Handled by: broadcast

worker.stopped:
  - Emitted when: a worker incarnation is exiting; the last event of an incarnation
    unless the dispatch queue stayed full for the whole drain timeout
  - Handled by: broadcast

# Chain Semantics

Dispatch calls every handler in configured order and waits for each call before the
next one starts, so for a single event cache and persist always finish before upload
and motion begin. Each call is isolated:

  - a returned error is wrapped in a HandlerError
  - a panic is recovered and converted into a HandlerError
  - an expired per-handler deadline surfaces as whatever error the handler returns
    for its cancelled context

Every failure is logged with handler, event and camera, counted in
shutter_handler_errors_total{handler} and then the next handler runs. The duration of
every call is observed in shutter_handler_duration_seconds{handler}. Dispatch returns
the collected failures so tests can inspect them; the worker ignores them.

The deadline reaches a handler only through its context. Dispatch does not run a
handler on a separate goroutine and does not abandon one that overruns, because the
next event must not start while the previous one is still inside the chain. A handler
that ignores its context can therefore hold up its own worker's dispatcher, never the
worker's poll loop: the loop only ever writes to the bounded queue. On stop the worker
waits for the dispatcher for at most its drain timeout.

Each worker incarnation owns its own chain instance. Handler state such as the
previous frame kept by motion analysis is never shared between cameras or carried
across a restart.

# Controller

Handlers adjust their worker's polling cadence through ev.Control:

	Sleep()        interval currently in effect
	SetSleep(d)    replace the interval; the latest request wins
	ResetSleep()   restore the configured interval

None of the calls block. A sleeping worker wakes on a change, re-measures from the
start of its sleep and continues with the new value.

# Broker

PublishContext enqueues on a 100 event buffer and waits only while that buffer is
full, giving up when its context is done. After Stop it returns immediately. The
distribution loop copies each event to every matching subscriber's 50 event buffer
and skips subscribers whose buffer is full, so one slow websocket client never stalls
the others or the publishing handler.

Subscribe Flow:
 1. SubscribeCamera(exid) creates a buffered channel registered with its filter
 2. The distribution loop delivers matching events to it
 3. Unsubscribe removes and closes the channel; a second call is a no-op

# Usage

Building a chain by hand:

	chain := events.NewChain(10*time.Second,
		events.Named("log", func(ctx context.Context, ev *events.Event) error {
			logger.Info().Str("event", string(ev.Type)).Msg("Event")
			return nil
		}),
		events.Named("slow-down", func(ctx context.Context, ev *events.Event) error {
			if ev.Type == events.EventSnapshotFailed {
				ev.Control.SetSleep(2 * ev.Control.Sleep())
			}
			return nil
		}),
	)

	for _, err := range chain.Dispatch(ctx, ev) {
		var herr *events.HandlerError
		if errors.As(err, &herr) {
			fmt.Println(herr.Handler, herr.Err)
		}
	}

Following one camera:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeCamera("front-gate")
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Printf("[%s] %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Message)
		}
	}()

	_ = broker.PublishContext(ctx, events.NewEvent(events.EventCameraOffline, "front-gate", cfg))

# Integration Points

This package integrates with:

  - pkg/worker: emits events and runs the dispatcher that calls Chain.Dispatch
  - pkg/handlers: the built-in handlers and the registry that assembles chains
  - pkg/api: streams broker events to websocket clients
  - pkg/metrics: handler error and duration metrics

# Troubleshooting

Handler errors climbing for one handler:
  - Check shutter_handler_errors_total{handler} and the "Event handler failed" log
    lines, which carry the camera exid
  - A cache handler failing on every event usually means Redis is unreachable

Events missing on the websocket feed:
  - The client fell behind and its 50 event buffer was full; events are skipped,
    not queued
  - The subscription filter names a different camera exid

Events missing from every handler:
  - Check shutter_events_dropped_total; the worker's dispatch queue was full because a
    handler in its chain is slow
*/
package events
