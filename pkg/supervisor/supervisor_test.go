package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDirectory struct {
	mu      sync.Mutex
	cameras map[string]*types.Camera
	err     error
	gate    chan struct{}
	lists   int
}

func newDirectory(cameras ...*types.Camera) *fakeDirectory {
	d := &fakeDirectory{cameras: make(map[string]*types.Camera)}
	for _, c := range cameras {
		d.cameras[c.ExID] = c
	}
	return d
}

func (d *fakeDirectory) ListCameras(ctx context.Context) ([]*types.Camera, error) {
	d.mu.Lock()
	d.lists++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]*types.Camera, 0, len(d.cameras))
	for _, c := range d.cameras {
		out = append(out, c)
	}
	return out, nil
}

func (d *fakeDirectory) GetCamera(ctx context.Context, exid string) (*types.Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cameras[exid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (d *fakeDirectory) GetCloudRecording(ctx context.Context, exid string) (*types.CloudRecording, error) {
	return nil, nil
}

func (d *fakeDirectory) put(c *types.Camera) {
	d.mu.Lock()
	d.cameras[c.ExID] = c
	d.mu.Unlock()
}

func (d *fakeDirectory) listCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lists
}

func camera(exid string) *types.Camera {
	return &types.Camera{
		ExID:          exid,
		BaseURL:       "http://192.0.2.10:8080",
		SnapshotPaths: map[string]string{"jpg": "/snapshot.jpg"},
	}
}

func badCamera(exid string) *types.Camera {
	c := camera(exid)
	c.BaseURL = "http://192.0.2.10:abc"
	return c
}

// spawnLog records every incarnation created by the factory
type spawnLog struct {
	mu      sync.Mutex
	configs []*types.WorkerConfig
	ids     []string
}

func (l *spawnLog) add(cfg *types.WorkerConfig, id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs = append(l.configs, cfg)
	l.ids = append(l.ids, id)
	return len(l.configs)
}

func (l *spawnLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.configs)
}

func (l *spawnLog) snapshot() ([]*types.WorkerConfig, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*types.WorkerConfig(nil), l.configs...), append([]string(nil), l.ids...)
}

// blockingFactory spawns workers that run until cancelled
func blockingFactory(l *spawnLog) Factory {
	return func(cfg *types.WorkerConfig, id string) (Runner, error) {
		l.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}), nil
	}
}

func testOptions() Options {
	return Options{
		SkipBootstrap:     true,
		BootstrapTimeout:  time.Second,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		BackoffResetAfter: time.Minute,
	}
}

func newSupervisor(t *testing.T, dir *fakeDirectory, factory Factory, opts Options) *Supervisor {
	t.Helper()
	s, err := New(dir, config.NewBuilder(dir, config.DefaultHandlers), factory, opts)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestNew_RequiresCollaborators(t *testing.T) {
	dir := newDirectory()
	builder := config.NewBuilder(dir, nil)
	factory := blockingFactory(&spawnLog{})

	_, err := New(nil, builder, factory, Options{})
	assert.Error(t, err)
	_, err = New(dir, nil, factory, Options{})
	assert.Error(t, err)
	_, err = New(dir, builder, nil, Options{})
	assert.Error(t, err)
}

func TestStartWorker(t *testing.T) {
	spawns := &spawnLog{}
	s := newSupervisor(t, newDirectory(), blockingFactory(spawns), testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))

	workers := s.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, "front-gate", workers[0].Name)
	assert.Equal(t, "http://192.0.2.10:8080/snapshot.jpg", workers[0].URL)
	assert.True(t, workers[0].Running)
	assert.NotEmpty(t, workers[0].Incarnation)

	configs, ids := spawns.snapshot()
	require.Len(t, configs, 1)
	assert.Equal(t, config.DefaultHandlers, configs[0].EventHandlers)
	assert.Equal(t, ids[0], workers[0].Incarnation)
}

func TestStartWorker_Rejected(t *testing.T) {
	spawns := &spawnLog{}
	s := newSupervisor(t, newDirectory(), blockingFactory(spawns), testOptions())
	before := testutil.ToFloat64(metrics.ConfigRejectionsTotal)

	err := s.StartWorker(context.Background(), badCamera("lobby"))

	var rej *config.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "lobby", rej.CameraExID)
	assert.Equal(t, 0, spawns.count())
	assert.Equal(t, 0, s.WorkerCount())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConfigRejectionsTotal))

	rejected := s.Rejected()
	require.Len(t, rejected, 1)
	assert.Equal(t, "lobby", rejected[0].CameraExID)
	assert.Equal(t, "http://192.0.2.10:abc/snapshot.jpg", rejected[0].URL)
}

func TestStartWorker_Unique(t *testing.T) {
	spawns := &spawnLog{}
	s := newSupervisor(t, newDirectory(), blockingFactory(spawns), testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	err := s.StartWorker(context.Background(), camera("front-gate"))

	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, spawns.count())
	assert.Equal(t, 1, s.WorkerCount())
}

func TestStartWorker_SpawnFault(t *testing.T) {
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		return nil, errors.New("unknown handler")
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	err := s.StartWorker(context.Background(), camera("front-gate"))
	assert.ErrorContains(t, err, "unknown handler")
	assert.Equal(t, 0, s.WorkerCount())
}

func TestStartWorker_SlowFactoryDoesNotBlock(t *testing.T) {
	spawns := &spawnLog{}
	entered := make(chan struct{})
	release := make(chan struct{})
	inner := blockingFactory(spawns)
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		if cfg.Name == "slow" {
			close(entered)
			<-release
		}
		return inner(cfg, id)
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	slowDone := make(chan error, 1)
	go func() { slowDone <- s.StartWorker(context.Background(), camera("slow")) }()
	<-entered

	// readers, other spawns and stops proceed while the factory runs
	assert.Empty(t, s.Workers())
	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	require.NoError(t, s.StopWorker("front-gate"))

	// the name is reserved until the factory returns
	err := s.StartWorker(context.Background(), camera("slow"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-slowDone)
	assert.Equal(t, 1, s.WorkerCount())
	assert.Equal(t, 2, spawns.count())
}

func TestStartWorker_SpawnFaultReleasesName(t *testing.T) {
	fail := true
	var mu sync.Mutex
	inner := blockingFactory(&spawnLog{})
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, errors.New("unknown handler")
		}
		return inner(cfg, id)
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	require.Error(t, s.StartWorker(context.Background(), camera("front-gate")))
	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	assert.Equal(t, 1, s.WorkerCount())
}

func TestStartWorker_StopDuringFactory(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	inner := blockingFactory(&spawnLog{})
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		close(entered)
		<-release
		return inner(cfg, id)
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	done := make(chan error, 1)
	go func() { done <- s.StartWorker(context.Background(), camera("front-gate")) }()
	<-entered

	s.Stop()
	close(release)
	assert.ErrorIs(t, <-done, ErrStopped)
	assert.Equal(t, 0, s.WorkerCount())
}

func TestSupervise_RestartsCrashedWorker(t *testing.T) {
	spawns := &spawnLog{}
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		n := spawns.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error {
			if n <= 2 {
				return fmt.Errorf("crash %d", n)
			}
			<-ctx.Done()
			return nil
		}), nil
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())
	before := testutil.ToFloat64(metrics.WorkerRestartsTotal.WithLabelValues("front-gate"))

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))

	require.Eventually(t, func() bool {
		w := s.Workers()
		return len(w) == 1 && w[0].Restarts == 2 && w[0].Running
	}, 2*time.Second, 5*time.Millisecond)

	configs, ids := spawns.snapshot()
	require.Len(t, configs, 3)
	for i := 1; i < len(configs); i++ {
		assert.Equal(t, configs[0], configs[i], "restart must reuse the original configuration")
		assert.NotSame(t, configs[0], configs[i], "each incarnation owns its configuration")
		assert.NotEqual(t, ids[0], ids[i])
	}
	assert.Equal(t, ids[2], s.Workers()[0].Incarnation)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.WorkerRestartsTotal.WithLabelValues("front-gate")))
}

func TestSupervise_RestartsPanickedWorker(t *testing.T) {
	spawns := &spawnLog{}
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		n := spawns.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error {
			if n == 1 {
				panic("nil pointer")
			}
			<-ctx.Done()
			return nil
		}), nil
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))

	require.Eventually(t, func() bool {
		w := s.Workers()
		return len(w) == 1 && w[0].Restarts == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, spawns.count())
}

func TestSupervise_NormalExitIsNotRestarted(t *testing.T) {
	spawns := &spawnLog{}
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		spawns.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error { return nil }), nil
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))

	require.Eventually(t, func() bool { return s.WorkerCount() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, spawns.count())

	// the name is free again
	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
}

func TestSupervise_CrashDoesNotTouchSiblings(t *testing.T) {
	var once sync.Once
	crash := make(chan struct{})
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		return RunnerFunc(func(ctx context.Context) error {
			if cfg.Name == "lobby" {
				crashed := false
				once.Do(func() { crashed = true })
				if crashed {
					<-crash
					return errors.New("connection reset")
				}
			}
			<-ctx.Done()
			return nil
		}), nil
	}
	s := newSupervisor(t, newDirectory(), factory, testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	require.NoError(t, s.StartWorker(context.Background(), camera("lobby")))
	sibling := s.Workers()[0]
	require.Equal(t, "front-gate", sibling.Name)

	close(crash)
	require.Eventually(t, func() bool {
		w := s.Workers()
		return len(w) == 2 && w[1].Restarts == 1
	}, 2*time.Second, 5*time.Millisecond)

	after := s.Workers()[0]
	assert.Equal(t, sibling.Incarnation, after.Incarnation)
	assert.Equal(t, 0, after.Restarts)
}

func TestSupervise_UnboundedRestarts(t *testing.T) {
	spawns := &spawnLog{}
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		spawns.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error { return errors.New("camera unreachable") }), nil
	}
	opts := testOptions()
	opts.BackoffInitial = 100 * time.Microsecond
	opts.BackoffMax = 200 * time.Microsecond
	s := newSupervisor(t, newDirectory(), factory, opts)

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))

	require.Eventually(t, func() bool { return spawns.count() > 20 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.WorkerCount())
}

func TestStopWorker(t *testing.T) {
	spawns := &spawnLog{}
	s := newSupervisor(t, newDirectory(), blockingFactory(spawns), testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	require.NoError(t, s.StopWorker("front-gate"))

	assert.Equal(t, 0, s.WorkerCount())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, spawns.count())

	assert.ErrorIs(t, s.StopWorker("front-gate"), ErrNotRunning)
}

func TestStopWorker_DuringBackoff(t *testing.T) {
	spawns := &spawnLog{}
	factory := func(cfg *types.WorkerConfig, id string) (Runner, error) {
		spawns.add(cfg, id)
		return RunnerFunc(func(ctx context.Context) error { return errors.New("boom") }), nil
	}
	opts := testOptions()
	opts.BackoffInitial = time.Minute
	opts.BackoffMax = time.Minute
	s := newSupervisor(t, newDirectory(), factory, opts)

	require.NoError(t, s.StartWorker(context.Background(), camera("front-gate")))
	require.Eventually(t, func() bool {
		w := s.Workers()
		return len(w) == 1 && !w[0].Running
	}, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.StopWorker("front-gate") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StopWorker blocked on pending restart")
	}
	assert.Equal(t, 1, spawns.count())
	assert.Equal(t, 0, s.WorkerCount())
}

func TestInitiateWorkers_PartialFailure(t *testing.T) {
	dir := newDirectory(
		camera("cam-1"), camera("cam-2"), camera("cam-3"),
		badCamera("cam-4"), badCamera("cam-5"),
	)
	spawns := &spawnLog{}
	opts := testOptions()
	opts.BootstrapConcurrency = 2
	s := newSupervisor(t, dir, blockingFactory(spawns), opts)

	summary, err := s.InitiateWorkers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 5, Started: 3, Rejected: 2}, summary)
	assert.Equal(t, 3, s.WorkerCount())
	assert.Equal(t, 3, spawns.count())
	assert.Len(t, s.Rejected(), 2)

	h, ok := metrics.Component("bootstrap")
	require.True(t, ok)
	assert.True(t, h.Healthy)
}

func TestInitiateWorkers_SkipsRunning(t *testing.T) {
	dir := newDirectory(camera("cam-1"), camera("cam-2"))
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("cam-1")))

	summary, err := s.InitiateWorkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Started: 1, AlreadyRunning: 1}, summary)
}

func TestInitiateWorkers_DirectoryFailure(t *testing.T) {
	dir := newDirectory(camera("cam-1"))
	dir.err = errors.New("database locked")
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), testOptions())

	_, err := s.InitiateWorkers(context.Background())
	assert.ErrorContains(t, err, "database locked")

	h, ok := metrics.Component("bootstrap")
	require.True(t, ok)
	assert.False(t, h.Healthy)

	// the supervisor remains usable
	require.NoError(t, s.StartWorker(context.Background(), camera("cam-1")))
}

func TestInitiateWorkers_DirectoryTimeout(t *testing.T) {
	dir := newDirectory(camera("cam-1"))
	dir.gate = make(chan struct{})
	opts := testOptions()
	opts.BootstrapTimeout = 20 * time.Millisecond
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), opts)

	_, err := s.InitiateWorkers(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, s.WorkerCount())
}

func TestStart_SkipBootstrap(t *testing.T) {
	dir := newDirectory(camera("cam-1"))
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), testOptions())

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Ready():
	default:
		t.Fatal("supervisor not ready after Start")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, dir.listCalls())
	assert.Equal(t, 0, s.WorkerCount())

	// individual starts still work
	require.NoError(t, s.StartWorker(context.Background(), camera("cam-1")))
}

func TestStart_BootstrapRunsInBackground(t *testing.T) {
	dir := newDirectory(camera("cam-1"), camera("cam-2"))
	dir.gate = make(chan struct{})
	opts := testOptions()
	opts.SkipBootstrap = false
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), opts)

	require.NoError(t, s.Start(context.Background()))
	<-s.Ready()

	// bootstrap is still blocked on the directory
	require.Eventually(t, func() bool { return dir.listCalls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.WorkerCount())

	close(dir.gate)
	require.Eventually(t, func() bool { return s.WorkerCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStart_Cancelled(t *testing.T) {
	s := newSupervisor(t, newDirectory(), blockingFactory(&spawnLog{}), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Start(ctx))
}

func TestRetryRejected(t *testing.T) {
	dir := newDirectory(badCamera("lobby"), badCamera("gone"))
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), testOptions())

	summary, err := s.InitiateWorkers(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Rejected)

	// operator fixes one record and removes the other
	dir.put(camera("lobby"))
	dir.mu.Lock()
	delete(dir.cameras, "gone")
	dir.mu.Unlock()

	assert.Equal(t, 1, s.RetryRejected(context.Background()))
	assert.Equal(t, 1, s.WorkerCount())
	assert.Empty(t, s.Rejected())
}

func TestRetryRejected_Loop(t *testing.T) {
	dir := newDirectory(badCamera("lobby"))
	opts := testOptions()
	opts.RetryRejectedInterval = 10 * time.Millisecond
	s := newSupervisor(t, dir, blockingFactory(&spawnLog{}), opts)

	require.Error(t, s.StartWorker(context.Background(), badCamera("lobby")))
	require.NoError(t, s.Start(context.Background()))

	dir.put(camera("lobby"))
	require.Eventually(t, func() bool { return s.WorkerCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop(t *testing.T) {
	spawns := &spawnLog{}
	s := newSupervisor(t, newDirectory(), blockingFactory(spawns), testOptions())

	require.NoError(t, s.StartWorker(context.Background(), camera("cam-1")))
	require.NoError(t, s.StartWorker(context.Background(), camera("cam-2")))

	s.Stop()
	s.Stop()

	assert.Equal(t, 0, s.WorkerCount())
	assert.ErrorIs(t, s.StartWorker(context.Background(), camera("cam-3")), ErrStopped)
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	assert.Equal(t, 2, spawns.count())
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Default().Supervisor
	c.SkipBootstrap = true

	opts := OptionsFromConfig(c)
	assert.True(t, opts.SkipBootstrap)
	assert.Equal(t, c.BootstrapTimeout, opts.BootstrapTimeout)
	assert.Equal(t, c.RestartBackoffInitial, opts.BackoffInitial)
	assert.Equal(t, c.RestartBackoffMax, opts.BackoffMax)
}
