package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/cuemby/shutter/pkg/api"
	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/handlers"
	"github.com/cuemby/shutter/pkg/log"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/security"
	"github.com/cuemby/shutter/pkg/snapshot"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/supervisor"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/cuemby/shutter/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shutter",
	Short: "Shutter - camera snapshot polling service",
	Long: `Shutter polls a JPEG snapshot from every camera in its device directory
on a per-camera schedule and feeds each result through a chain of event
handlers: live broadcast, latest-snapshot cache, status persistence,
adaptive polling, archiving and motion detection.

Every camera gets its own supervised worker. A worker that crashes is
restarted with the same configuration without disturbing the others.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shutter version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cameraCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the snapshot service",
	Long: `Run the snapshot service in the foreground.

The HTTP server and the supervisor start immediately; workers for the
device directory are started in the background. Set --skip-workers (or
SHUTTER_SKIP_WORKERS=true) to start without any workers.`,
	RunE: runService,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Println(cfg.String())
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("skip-workers", false, "Do not start workers for the device directory")
	runCmd.Flags().String("http-addr", "", "Address for the HTTP server (overrides config)")
	runCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads the config file named by --config and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("skip-workers"); f != nil && f.Changed {
		cfg.Supervisor.SkipBootstrap, _ = cmd.Flags().GetBool("skip-workers")
	}
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = log.Level(level)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

// openStore opens the device directory, decrypting credentials with the
// configured secret key
func openStore(cfg *config.Config) (*storage.BoltStore, error) {
	var cipher *security.CredentialCipher
	if cfg.SecretKey != "" {
		c, err := security.NewCredentialCipherFromPassword(cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential cipher: %w", err)
		}
		cipher = c
	}

	store, err := storage.NewBoltStore(cfg.DataDir, cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(cfg.Log)
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)
	logger.Info().Str("version", Version).Str("config", cfg.String()).Msg("Starting shutter")

	// Storage
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "ok")

	// Event broker
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Handler dependencies
	deps := handlers.Deps{
		Broker:          broker,
		Status:          store,
		MaxSleep:        cfg.Worker.MaxSleep,
		MotionThreshold: cfg.Motion.Threshold,
	}

	if slices.Contains(cfg.Handlers, config.HandlerCache) {
		cache, closeCache, err := newSnapshotCache(cfg.Cache)
		if err != nil {
			return err
		}
		defer closeCache()
		deps.Cache = cache
	}

	if slices.Contains(cfg.Handlers, config.HandlerUpload) {
		archive, err := handlers.NewLocalArchive(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		deps.Archive = archive
	}

	registry := handlers.NewDefaultRegistry(deps, cfg.Worker.HandlerTimeout)
	fetcher := snapshot.NewHTTPFetcher(cfg.Worker.RequestTimeout)

	factory := func(wc *types.WorkerConfig, incarnation string) (supervisor.Runner, error) {
		chain, err := registry.Chain(wc.Name, wc.EventHandlers)
		if err != nil {
			return nil, err
		}
		return worker.New(wc, chain, fetcher, worker.Options{
			Incarnation:  incarnation,
			OfflineAfter: cfg.Worker.OfflineAfter,
			QueueSize:    cfg.Worker.QueueSize,
			DrainTimeout: cfg.Worker.DrainTimeout,
		}), nil
	}

	// Supervisor
	sup, err := supervisor.New(store, config.NewBuilder(store, cfg.Handlers), factory,
		supervisor.OptionsFromConfig(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	// HTTP server
	server := api.NewServer(api.Options{
		Supervisor: sup,
		Store:      store,
		Status:     store,
		Cache:      deps.Cache,
		Broker:     broker,
	})
	if err := server.Start(cfg.HTTP.Addr); err != nil {
		return err
	}

	if err := sup.Start(cmd.Context()); err != nil {
		return err
	}

	collector := metrics.NewCollector(store, sup)
	collector.Start()

	logger.Info().Str("http_addr", cfg.HTTP.Addr).Msg("Shutter is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	sup.Stop()
	collector.Stop()

	logger.Info().Msg("Shutdown complete")
	return nil
}

// newSnapshotCache creates the configured snapshot cache and its cleanup
func newSnapshotCache(cfg config.CacheConfig) (handlers.SnapshotCache, func(), error) {
	switch cfg.Backend {
	case config.CacheRedis:
		cache := handlers.NewRedisCache(redis.NewClient(cfg.RedisOptions()), cfg.TTL)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.Ping(ctx); err != nil {
			_ = cache.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return cache, func() { _ = cache.Close() }, nil
	default:
		return handlers.NewMemoryCache(cfg.TTL), func() {}, nil
	}
}
