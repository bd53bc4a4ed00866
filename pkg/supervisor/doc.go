/*
Package supervisor runs one polling worker per camera and keeps it running.

The supervisor is the control plane of shutter. It turns device records into worker
configurations through the config builder, spawns one worker per camera, restarts
workers that fail and stops workers on request. It never sits on the event path:
workers dispatch their own events through their private handler chain, and the
supervisor only observes how a worker's Run returns.

# Architecture

	┌──────────────────────── SUPERVISOR ─────────────────────────┐
	│                                                               │
	│  Start(ctx) ──► Ready() closed                                │
	│      │                                                        │
	│      ├──► go InitiateWorkers ─► ListCameras (bounded timeout) │
	│      │              │                                         │
	│      │              └─► errgroup (SetLimit) ─► StartWorker    │
	│      │                                            │           │
	│      └──► go retryLoop (RetryRejectedInterval > 0)│           │
	│                                                   ▼           │
	│       Builder.Build ──► RejectedError ──► rejected set        │
	│             │                                                 │
	│             └──► reserve name (pending)                       │
	│                         │                                     │
	│                  Factory(cfg.Clone(), incarnation)            │
	│                         │   (outside the lock)                │
	│                         ▼                                     │
	│                  commit child ──► go supervise(child)         │
	│                                                               │
	│  children: map[name]*child   pending: map[name]struct{}       │
	│  rejected: map[exid]Rejection     (all under one mutex)       │
	└───────────────────────────────────────────────────────────────┘

# Core Components

Supervisor:
  - Owns the registry of running children, keyed by worker name
  - Guarantees at most one child per name, including while a child is being
    constructed or is waiting to be restarted
  - Holds the device directory, the config builder and the worker factory

Builder:
  - Turns one camera record into a WorkerConfig or a *config.RejectedError
  - Rejections are recorded, never spawned

Factory:
  - Creates the Runner for one incarnation from a private clone of the config
  - Receives the incarnation id so worker logs and Workers() agree
  - An error is a spawn fault for that camera only

Runner:
  - Run(ctx) error; nil or a cancelled ctx is a normal exit, anything else
    (including a panic) is abnormal

# Worker Lifecycle

	StartWorker(camera)
	  │
	  ├─ Build fails ────────► rejected set, shutter_config_rejections_total
	  ├─ name registered ────► ErrAlreadyRunning
	  ├─ Factory fails ──────► spawn fault, name released
	  ▼
	running ──── Run returns nil / ctx cancelled ───► removed (never restarted)
	  │
	  └──── Run returns error / panics ──► shutter_worker_restarts_total
	                 │
	                 ▼
	          backoff wait ── StopWorker / Stop ──► removed
	                 │
	                 ▼
	          Factory(clone of original config, new incarnation) ──► running

# Restart Policy

Every child is transient:

  - Run returns nil, or returns after its context was cancelled: normal exit. The
    child is removed and never restarted. StopWorker and Stop produce normal exits.
  - Run returns an error or panics: abnormal exit. shutter_worker_restarts_total is
    incremented, a warning is logged and, after an exponential backoff, the factory is
    called again with a fresh clone of the configuration the child was first built
    from. The incarnation id changes, the worker name and configuration do not.

There is no restart intensity limit. A camera whose configuration makes its worker fail
keeps restarting at the maximum backoff interval without affecting its siblings or the
supervisor. The backoff is reset when an incarnation ran longer than BackoffResetAfter.
StopWorker during a backoff wait cancels the pending restart.

	attempt   delay (BackoffInitial 1s, BackoffMax 30s, ±50% jitter)
	1         ~1s
	2         ~1.5s
	3         ~2.25s
	...
	n         ~30s

A factory error during a restart does not end the child: it is treated as one more
abnormal exit and retried after the next backoff.

# Uniqueness

The worker name is reserved before the factory runs and released if it fails, so two
concurrent StartWorker calls for one camera never both spawn. A child stays registered
while it waits out a backoff; StartWorker for that camera returns ErrAlreadyRunning
until the child is stopped. The factory runs outside the supervisor's lock, so a slow
factory delays only its own camera.

# Bootstrap

InitiateWorkers reads the whole device directory in one call, bounded by
BootstrapTimeout, and starts a worker for every camera with at most
BootstrapConcurrency builds in flight. Cameras that are rejected, already running or
fail to spawn are counted in the returned Summary and never abort the others:

	{"total":5,"started":3,"rejected":2,"already_running":0,"failed":0}

A directory failure is logged, reported as the unhealthy "bootstrap" health component
and returned; no workers are started and the supervisor stays usable for individual
StartWorker calls. A successful bootstrap reports "bootstrap" healthy with the number
of workers started and observes shutter_bootstrap_duration_seconds.

Start does not wait for the bootstrap. The process becomes ready as soon as Start
returns and /workers shows workers appearing as the bootstrap progresses. With
SkipBootstrap set (SHUTTER_SKIP_WORKERS=true or --skip-workers) the bootstrap is not
run at all, which is how tests and single-camera debugging sessions start the service.

# Rejected Cameras

Cameras rejected by the builder are remembered with their URL, reason and time, and
listed by Rejected() and GET /workers. They are not retried automatically unless
RetryRejectedInterval is set. RetryRejected re-reads each one from the directory and
calls StartWorker again; cameras deleted from the directory are forgotten, and a camera
that now builds is removed from the set when its worker starts.

# Stopping

	StopWorker(name)   cancel one child and wait for it to exit
	Stop()             refuse new spawns, cancel every child and wait for all

Stop is idempotent. After Stop, Start and StartWorker return ErrStopped. A worker that
is being built when Stop is called is discarded when its factory returns. Waits are
bounded by the worker's own drain timeout, so a stuck handler cannot hang Stop.

# Configuration

	supervisor:
	  skip_bootstrap: false
	  bootstrap_timeout: 15s
	  bootstrap_concurrency: 16
	  restart_backoff_initial: 1s
	  restart_backoff_max: 30s
	  restart_reset_after: 1m
	  retry_rejected_interval: 0s    # 0 = retry only on request

# Usage

	factory := func(cfg *types.WorkerConfig, incarnation string) (supervisor.Runner, error) {
		chain, err := registry.Chain(cfg.Name, cfg.EventHandlers)
		if err != nil {
			return nil, err
		}
		return worker.New(cfg, chain, fetcher, worker.Options{Incarnation: incarnation}), nil
	}

	sup, err := supervisor.New(store, config.NewBuilder(store, cfg.Handlers), factory,
		supervisor.OptionsFromConfig(cfg.Supervisor))
	if err != nil {
		return err
	}
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()

	for _, w := range sup.Workers() {
		fmt.Printf("%-20s %-8d %s\n", w.Name, w.Restarts, w.Incarnation)
	}

# Metrics

	shutter_workers_running                 registered children
	shutter_worker_restarts_total{worker}   abnormal exits
	shutter_config_rejections_total         cameras refused by the builder
	shutter_bootstrap_duration_seconds      duration of InitiateWorkers

# Integration Points

This package integrates with:

  - pkg/config: Builder and SupervisorConfig
  - pkg/storage: the device directory read by the bootstrap and RetryRejected
  - pkg/worker: the Runner built by the production factory
  - pkg/api: /ready, /workers and POST /workers/retry
  - pkg/metrics: health components and the metrics above

# Troubleshooting

Camera missing from /workers:
  - Check the rejected list on /workers for a builder reason such as an invalid port
  - Check for "Failed to spawn worker" logs, e.g. an unknown handler identity

Worker restarts climbing:
  - shutter_worker_restarts_total{worker} grows only on abnormal exits; the
    "Worker crashed, restarting" log carries the error
  - Camera outages do not cause restarts; they show up as camera.offline events

Bootstrap degraded on /health:
  - The device directory did not answer within bootstrap_timeout; restart the service
    once the store is reachable, already running workers are unaffected
*/
package supervisor
