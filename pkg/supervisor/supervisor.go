package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/log"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when a worker with the same name is registered
	ErrAlreadyRunning = errors.New("worker already running")

	// ErrNotRunning is returned when stopping a worker that is not registered
	ErrNotRunning = errors.New("worker not running")

	// ErrStopped is returned when spawning after Stop
	ErrStopped = errors.New("supervisor stopped")
)

// Runner is a supervised worker. Run blocks until the worker exits: nil or a
// cancelled context is a normal exit, an error or a panic is abnormal.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx)
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Factory creates one worker incarnation. cfg is owned by the incarnation.
type Factory func(cfg *types.WorkerConfig, incarnation string) (Runner, error)

// Builder turns a device record into a worker configuration
type Builder interface {
	Build(ctx context.Context, camera *types.Camera) (*types.WorkerConfig, error)
}

// Options configures the supervisor
type Options struct {
	SkipBootstrap         bool
	BootstrapTimeout      time.Duration
	BootstrapConcurrency  int
	BackoffInitial        time.Duration
	BackoffMax            time.Duration
	BackoffResetAfter     time.Duration
	RetryRejectedInterval time.Duration
}

// OptionsFromConfig maps the supervisor section of the config file
func OptionsFromConfig(c config.SupervisorConfig) Options {
	return Options{
		SkipBootstrap:         c.SkipBootstrap,
		BootstrapTimeout:      c.BootstrapTimeout,
		BootstrapConcurrency:  c.BootstrapConcurrency,
		BackoffInitial:        c.RestartBackoffInitial,
		BackoffMax:            c.RestartBackoffMax,
		BackoffResetAfter:     c.RestartResetAfter,
		RetryRejectedInterval: c.RetryRejectedInterval,
	}
}

func (o *Options) applyDefaults() {
	if o.BootstrapTimeout <= 0 {
		o.BootstrapTimeout = 15 * time.Second
	}
	if o.BootstrapConcurrency <= 0 {
		o.BootstrapConcurrency = 16
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = 30 * o.BackoffInitial
	}
	if o.BackoffResetAfter <= 0 {
		o.BackoffResetAfter = time.Minute
	}
}

// Summary reports the outcome of a bulk bootstrap
type Summary struct {
	Total          int `json:"total"`
	Started        int `json:"started"`
	Rejected       int `json:"rejected"`
	AlreadyRunning int `json:"already_running"`
	Failed         int `json:"failed"`
}

// WorkerInfo describes one registered worker
type WorkerInfo struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Incarnation string    `json:"incarnation"`
	Restarts    int       `json:"restarts"`
	StartedAt   time.Time `json:"started_at"`
	Running     bool      `json:"running"`
}

// Rejection is a camera the config builder refused
type Rejection struct {
	CameraExID string    `json:"camera_exid"`
	URL        string    `json:"url,omitempty"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

type child struct {
	name   string
	cfg    *types.WorkerConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Supervisor.mu
	incarnation string
	restarts    int
	startedAt   time.Time
	running     bool
}

// Supervisor owns one worker per camera and restarts workers that fail
type Supervisor struct {
	directory storage.Directory
	builder   Builder
	factory   Factory
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	children map[string]*child
	pending  map[string]struct{} // names reserved while their factory runs
	rejected map[string]Rejection
	stopped  bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    chan struct{}
	readyOne sync.Once
	stopOnce sync.Once
}

// New creates a supervisor
func New(directory storage.Directory, builder Builder, factory Factory, opts Options) (*Supervisor, error) {
	if directory == nil {
		return nil, fmt.Errorf("device directory is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("config builder is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("worker factory is required")
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		directory: directory,
		builder:   builder,
		factory:   factory,
		opts:      opts,
		logger:    log.WithComponent("supervisor"),
		children:  make(map[string]*child),
		pending:   make(map[string]struct{}),
		rejected:  make(map[string]Rejection),
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
	}, nil
}

// Start marks the supervisor ready and, unless bootstrap is skipped,
// starts workers for the whole device directory in the background
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.readyOne.Do(func() { close(s.ready) })
	metrics.RegisterComponent("supervisor", true, "ready")

	if !s.opts.SkipBootstrap {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.InitiateWorkers(s.ctx)
		}()
	}
	if s.opts.RetryRejectedInterval > 0 {
		s.wg.Add(1)
		go s.retryLoop()
	}
	s.mu.Unlock()

	if s.opts.SkipBootstrap {
		s.logger.Info().Msg("Worker bootstrap skipped")
	}
	s.logger.Info().Msg("Supervisor started")
	return nil
}

// Ready is closed once Start has completed
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// StartWorker builds the configuration for camera and spawns its worker
func (s *Supervisor) StartWorker(ctx context.Context, camera *types.Camera) error {
	cfg, err := s.builder.Build(ctx, camera)
	if err != nil {
		s.reject(camera, err)
		return err
	}
	return s.spawn(cfg)
}

func (s *Supervisor) reject(camera *types.Camera, err error) {
	metrics.ConfigRejectionsTotal.Inc()

	r := Rejection{Reason: err.Error(), At: time.Now()}
	if camera != nil {
		r.CameraExID = camera.ExID
	}
	var rej *config.RejectedError
	if errors.As(err, &rej) {
		r.Reason = rej.Reason
		r.URL = rej.URL
	}

	s.logger.Error().
		Str("camera", r.CameraExID).
		Str("url", r.URL).
		Str("reason", r.Reason).
		Msg("Camera configuration rejected")

	if r.CameraExID == "" {
		return
	}
	s.mu.Lock()
	s.rejected[r.CameraExID] = r
	s.mu.Unlock()
}

func (s *Supervisor) spawn(cfg *types.WorkerConfig) error {
	// the factory runs outside the lock; pending holds the name meanwhile
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	_, running := s.children[cfg.Name]
	_, reserved := s.pending[cfg.Name]
	if running || reserved {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.Name)
	}
	s.pending[cfg.Name] = struct{}{}
	s.mu.Unlock()

	incarnation := uuid.NewString()
	runner, err := s.factory(cfg.Clone(), incarnation)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, cfg.Name)

	if err != nil {
		s.logger.Error().Err(err).Str("worker", cfg.Name).Msg("Failed to spawn worker")
		return fmt.Errorf("failed to spawn worker %s: %w", cfg.Name, err)
	}
	if s.stopped {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &child{
		name:        cfg.Name,
		cfg:         cfg.Clone(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		incarnation: incarnation,
		startedAt:   time.Now(),
		running:     true,
	}
	s.children[c.name] = c
	delete(s.rejected, c.name)
	metrics.WorkersRunning.Set(float64(len(s.children)))

	s.wg.Add(1)
	go s.supervise(c, runner)

	s.logger.Info().
		Str("worker", c.name).
		Str("incarnation", incarnation).
		Str("url", cfg.Config.URL).
		Msg("Worker started")
	return nil
}

// supervise runs one child under the transient restart policy
func (s *Supervisor) supervise(c *child, runner Runner) {
	defer s.wg.Done()
	defer close(c.done)
	defer s.remove(c)

	b := s.newBackOff()
	for {
		started := time.Now()
		err := run(c.ctx, runner)
		if err == nil || c.ctx.Err() != nil {
			s.logger.Debug().Str("worker", c.name).Msg("Worker exited normally")
			return
		}

		metrics.WorkerRestartsTotal.WithLabelValues(c.name).Inc()
		if time.Since(started) >= s.opts.BackoffResetAfter {
			b.Reset()
		}
		delay := b.NextBackOff()

		s.mu.Lock()
		c.running = false
		restarts := c.restarts + 1
		s.mu.Unlock()

		s.logger.Warn().
			Err(err).
			Str("worker", c.name).
			Int("restarts", restarts).
			Dur("backoff", delay).
			Msg("Worker crashed, restarting")

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		incarnation := uuid.NewString()
		runner, err = s.factory(c.cfg.Clone(), incarnation)
		if err != nil {
			s.logger.Error().Err(err).Str("worker", c.name).Msg("Failed to respawn worker")
			spawnErr := err
			runner = RunnerFunc(func(context.Context) error { return spawnErr })
		}

		s.mu.Lock()
		c.incarnation = incarnation
		c.restarts = restarts
		c.startedAt = time.Now()
		c.running = true
		s.mu.Unlock()
	}
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BackoffInitial
	b.MaxInterval = s.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run calls r.Run, converting a panic into an error
func run(ctx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panicked: %v", p)
		}
	}()
	return r.Run(ctx)
}

func (s *Supervisor) remove(c *child) {
	c.cancel()

	s.mu.Lock()
	if s.children[c.name] == c {
		delete(s.children, c.name)
	}
	n := len(s.children)
	s.mu.Unlock()

	metrics.WorkersRunning.Set(float64(n))
	s.logger.Info().Str("worker", c.name).Msg("Worker removed")
}

// StopWorker terminates a worker normally and waits for it to exit.
// A stopped worker is never restarted.
func (s *Supervisor) StopWorker(name string) error {
	s.mu.Lock()
	c, ok := s.children[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	c.cancel()
	<-c.done
	return nil
}

// InitiateWorkers starts a worker for every camera in the device directory.
// Failures of individual cameras never abort the others.
func (s *Supervisor) InitiateWorkers(ctx context.Context) (Summary, error) {
	timer := metrics.NewTimer()

	listCtx, cancel := context.WithTimeout(ctx, s.opts.BootstrapTimeout)
	cameras, err := s.directory.ListCameras(listCtx)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load device directory")
		metrics.RegisterComponent("bootstrap", false, err.Error())
		return Summary{}, fmt.Errorf("failed to load device directory: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Total: len(cameras)}
	)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.BootstrapConcurrency)
	for _, camera := range cameras {
		g.Go(func() error {
			err := s.StartWorker(ctx, camera)

			var rej *config.RejectedError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Started++
			case errors.As(err, &rej):
				summary.Rejected++
			case errors.Is(err, ErrAlreadyRunning):
				summary.AlreadyRunning++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	timer.ObserveDuration(metrics.BootstrapDuration)
	metrics.RegisterComponent("bootstrap", true,
		fmt.Sprintf("%d of %d workers started", summary.Started, summary.Total))

	s.logger.Info().
		Int("total", summary.Total).
		Int("started", summary.Started).
		Int("rejected", summary.Rejected).
		Int("already_running", summary.AlreadyRunning).
		Int("failed", summary.Failed).
		Dur("duration", timer.Duration()).
		Msg("Worker bootstrap finished")
	return summary, nil
}

// RetryRejected re-reads every rejected camera and tries to start it again.
// Cameras removed from the directory are forgotten. Returns how many started.
func (s *Supervisor) RetryRejected(ctx context.Context) int {
	s.mu.Lock()
	names := make([]string, 0, len(s.rejected))
	for name := range s.rejected {
		names = append(names, name)
	}
	s.mu.Unlock()

	started := 0
	for _, name := range names {
		camera, err := s.directory.GetCamera(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			s.mu.Lock()
			delete(s.rejected, name)
			s.mu.Unlock()
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("camera", name).Msg("Failed to reload rejected camera")
			continue
		}
		if err := s.StartWorker(ctx, camera); err == nil {
			started++
		}
	}
	return started
}

func (s *Supervisor) retryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.RetryRejectedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.RetryRejected(s.ctx); n > 0 {
				s.logger.Info().Int("started", n).Msg("Started previously rejected workers")
			}
		}
	}
}

// Stop terminates every worker normally and waits for all of them
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()

		metrics.UpdateComponent("supervisor", false, "stopped")
		s.logger.Info().Msg("Supervisor stopped")
	})
}

// Workers lists registered workers sorted by name
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerInfo, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, WorkerInfo{
			Name:        c.name,
			URL:         c.cfg.Config.URL,
			Incarnation: c.incarnation,
			Restarts:    c.restarts,
			StartedAt:   c.startedAt,
			Running:     c.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WorkerCount returns the number of registered workers
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Rejected lists cameras currently rejected by the config builder
func (s *Supervisor) Rejected() []Rejection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rejection, 0, len(s.rejected))
	for _, r := range s.rejected {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraExID < out[j].CameraExID })
	return out
}
