package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/log"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/schedule"
	"github.com/cuemby/shutter/pkg/snapshot"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/rs/zerolog"
)

// Options tunes a worker
type Options struct {
	// Incarnation identifies this run of the worker in logs
	Incarnation string

	// OfflineAfter is the number of consecutive failures before camera.offline (default: 3)
	OfflineAfter int

	// QueueSize bounds the events waiting for the handler chain (default: 64)
	QueueSize int

	// DrainTimeout bounds how long a stopping worker waits for queued events
	// to pass through the handler chain (default: 5s)
	DrainTimeout time.Duration

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Worker polls one camera and feeds the outcome to its handler chain
type Worker struct {
	cfg     *types.WorkerConfig
	chain   *events.Chain
	fetcher snapshot.Fetcher
	opts    Options
	logger  zerolog.Logger

	control *control
	status  *availability
	queue   chan *events.Event
}

// New creates a worker. The worker keeps cfg and must be its only user.
func New(cfg *types.WorkerConfig, chain *events.Chain, fetcher snapshot.Fetcher, opts Options) *Worker {
	if opts.OfflineAfter <= 0 {
		opts.OfflineAfter = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if chain == nil {
		chain = events.NewChain(0)
	}

	return &Worker{
		cfg:     cfg,
		chain:   chain,
		fetcher: fetcher,
		opts:    opts,
		logger:  log.WithWorker(cfg.Name, opts.Incarnation),
		control: newControl(cfg.Config.Sleep),
		status:  newAvailability(),
		queue:   make(chan *events.Event, opts.QueueSize),
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.cfg.Name
}

// Controller returns the handle handlers use to adjust the polling interval
func (w *Worker) Controller() events.Controller {
	return w.control
}

// Run polls until ctx is cancelled. It returns nil on cancellation and an error
// when the worker cannot continue with its configuration. Run must be called
// at most once; a restart uses a new Worker.
func (w *Worker) Run(ctx context.Context) error {
	loc, err := schedule.LoadLocation(w.cfg.Config.Timezone)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.cfg.Name, err)
	}
	sched, err := schedule.Parse(w.cfg.Config.Schedule)
	if err != nil {
		return fmt.Errorf("worker %s: invalid schedule: %w", w.cfg.Name, err)
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan struct{})
	go w.dispatch(dispatchCtx, dispatchDone)
	defer func() {
		w.drain(cancelDispatch, dispatchDone)
		w.logger.Info().Msg("Worker stopped")
	}()

	w.logger.Info().
		Str("url", w.cfg.Config.URL).
		Dur("sleep", w.cfg.Config.Sleep).
		Msg("Worker started")
	w.emit(w.event(events.EventWorkerStarted))

	if !wait(ctx, w.cfg.Config.InitialSleep) {
		return nil
	}

	var active, known bool
	for {
		now := w.opts.Now()
		isActive := sched.Active(now, loc)
		if known && isActive != active {
			ev := w.event(events.EventScheduleChanged)
			ev.Metadata = map[string]string{"active": strconv.FormatBool(isActive)}
			w.emit(ev)
		}
		active, known = isActive, true

		if active {
			if err := w.poll(ctx); err != nil {
				return err
			}
		} else {
			metrics.SnapshotsTotal.WithLabelValues("skipped").Inc()
		}

		if !w.sleep(ctx) {
			return nil
		}
	}
}

// poll fetches one snapshot and emits the resulting events
func (w *Worker) poll(ctx context.Context) error {
	snap, err := w.fetcher.Fetch(ctx, &w.cfg.Config)
	if ctx.Err() != nil {
		return nil
	}

	if err != nil {
		if errors.Is(err, snapshot.ErrFatal) {
			return fmt.Errorf("failed to fetch snapshot for %s: %w", w.cfg.Name, err)
		}

		metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
		ev := w.event(events.EventSnapshotFailed)
		ev.Err = err
		ev.Message = err.Error()
		w.emit(ev)

		if w.status.update(false, w.opts.Now(), w.opts.OfflineAfter) == wentOffline {
			w.logger.Warn().
				Err(err).
				Int("failures", w.status.ConsecutiveFailures).
				Msg("Camera offline")
			off := w.event(events.EventCameraOffline)
			off.Err = err
			off.Message = err.Error()
			w.emit(off)
		} else {
			w.logger.Debug().Err(err).Msg("Snapshot failed")
		}
		return nil
	}

	metrics.SnapshotsTotal.WithLabelValues("captured").Inc()
	ev := w.event(events.EventSnapshotCaptured)
	ev.Image = snap.Image
	if !snap.FetchedAt.IsZero() {
		ev.Timestamp = snap.FetchedAt.UTC()
	}
	w.emit(ev)

	if w.status.update(true, w.opts.Now(), w.opts.OfflineAfter) == wentOnline {
		w.logger.Info().Msg("Camera online")
		w.emit(w.event(events.EventCameraOnline))
	}
	return nil
}

func (w *Worker) event(typ events.EventType) *events.Event {
	ev := events.NewEvent(typ, w.cfg.Name, &w.cfg.Config)
	ev.Control = w.control
	return ev
}

// emit queues ev for the handler chain, dropping it when the queue is full
func (w *Worker) emit(ev *events.Event) {
	select {
	case w.queue <- ev:
	default:
		metrics.EventsDroppedTotal.Inc()
		w.logger.Warn().Str("event", string(ev.Type)).Msg("Event queue full, dropping event")
	}
}

// drain queues worker.stopped and waits for the dispatcher to finish. Past
// DrainTimeout the dispatcher is cancelled and left to exit on its own, so a
// handler that ignores its context cannot hold up Run.
func (w *Worker) drain(cancel context.CancelFunc, done <-chan struct{}) {
	deadline := time.NewTimer(w.opts.DrainTimeout)
	defer deadline.Stop()

	stopped := w.event(events.EventWorkerStopped)
	select {
	case w.queue <- stopped:
	case <-deadline.C:
		metrics.EventsDroppedTotal.Inc()
		w.logger.Warn().Str("event", string(stopped.Type)).Msg("Event queue full, dropping event")
		close(w.queue)
		w.abandon(cancel)
		return
	}
	close(w.queue)

	select {
	case <-done:
		cancel()
	case <-deadline.C:
		w.abandon(cancel)
	}
}

func (w *Worker) abandon(cancel context.CancelFunc) {
	cancel()
	metrics.DispatchAbandonedTotal.Inc()
	w.logger.Warn().
		Dur("drain_timeout", w.opts.DrainTimeout).
		Int("queued", len(w.queue)).
		Msg("Handler chain did not drain, abandoning dispatcher")
}

func (w *Worker) dispatch(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for ev := range w.queue {
		if ctx.Err() != nil {
			continue
		}
		w.chain.Dispatch(ctx, ev)
	}
}

// sleep waits for the current interval. A new interval requested while sleeping
// is measured from the start of the sleep. Returns false when ctx is done.
func (w *Worker) sleep(ctx context.Context) bool {
	start := time.Now()
	timer := time.NewTimer(w.control.Sleep())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-w.control.changed:
			remaining := w.control.Sleep() - time.Since(start)
			if remaining <= 0 {
				return true
			}
			timer.Reset(remaining)
		}
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
