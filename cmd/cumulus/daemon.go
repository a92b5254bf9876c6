package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/cloudburst/vmmad/internal/audit"
	"github.com/cloudburst/vmmad/internal/batchsystem"
	"github.com/cloudburst/vmmad/internal/checkpoint"
	"github.com/cloudburst/vmmad/internal/config"
	"github.com/cloudburst/vmmad/internal/logging"
	"github.com/cloudburst/vmmad/internal/observability"
	"github.com/cloudburst/vmmad/internal/orchestrator"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/provider"
	"github.com/cloudburst/vmmad/internal/web"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr  string
		logLevel  string
		tracePath string
		maxVms    int
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the orchestrator control loop and web surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http") {
				cfg.Web.Addr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("trace-file") {
				cfg.BatchSystem.Mode = "replay"
				cfg.BatchSystem.TracePath = tracePath
			}
			if cmd.Flags().Changed("max-vms") {
				cfg.Orchestrator.MaxVms = maxVms
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			batch, err := buildBatchSystem(cfg)
			if err != nil {
				return err
			}

			pol := policy.NewThreshold(cfg.Policy.NamePrefix, cfg.Policy.K, cfg.Policy.MinIdle)

			// Concrete cloud back-ends plug in here; the stock build ships the
			// in-memory provider only.
			prov := provider.NewDummy()
			logging.Op().Info("using in-memory dummy node provider")

			orch := orchestrator.New(orchestrator.Config{
				MaxVms:         cfg.Orchestrator.MaxVms,
				MaxDelta:       cfg.Orchestrator.MaxDelta,
				VmStartTimeout: cfg.Orchestrator.VmStartTimeout,
				Delay:          cfg.Orchestrator.Delay,
				WorkerPoolSize: cfg.Orchestrator.WorkerPoolSize,
			}, prov, batch, pol)

			if cfg.Audit.Enabled {
				auditLog, err := audit.Open(ctx, cfg.Audit.DSN)
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				defer auditLog.Close()
				orch.Audit = auditLog
				logging.Op().Info("postgres audit log enabled")
			}

			if cfg.Checkpoint.Enabled {
				store, err := buildCheckpointStore(cfg)
				if err != nil {
					return err
				}
				snap, err := store.Load(ctx)
				if err != nil {
					logging.Op().Warn("checkpoint load failed, starting cold", "err", err)
				} else if snap != nil {
					orch.Restore(*snap)
					logging.Op().Info("restored state from checkpoint",
						"cycle", snap.Cycle, "vms", len(snap.Vms), "jobs", len(snap.Jobs))
				}
				orch.After = func(o *orchestrator.Orchestrator) {
					if err := store.Save(ctx, o.Snapshot()); err != nil {
						logging.Op().Warn("checkpoint save failed", "err", err)
					}
				}
			}

			mux := http.NewServeMux()
			handler := &web.Handler{Orchestrator: orch}
			handler.RegisterRoutes(mux)
			server := &http.Server{
				Addr:    cfg.Web.Addr,
				Handler: observability.HTTPMiddleware(mux),
			}
			go func() {
				logging.Op().Info("web surface listening", "addr", cfg.Web.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Op().Error("web server failed", "err", err)
					stop()
				}
			}()

			logging.Op().Info("orchestrator starting",
				"max_vms", cfg.Orchestrator.MaxVms,
				"max_delta", cfg.Orchestrator.MaxDelta,
				"delay", cfg.Orchestrator.Delay,
				"vm_start_timeout", cfg.Orchestrator.VmStartTimeout)

			runErr := orch.Run(ctx, 0)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			logging.Op().Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Op().Warn("web server shutdown", "err", err)
			}
			if err := orch.Shutdown(shutdownCtx); err != nil {
				logging.Op().Warn("async workers did not drain before deadline", "err", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "Web surface bind address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&tracePath, "trace-file", "", "CSV trace file (switches the batch system to replay mode)")
	cmd.Flags().IntVar(&maxVms, "max-vms", 10, "Maximum number of managed VMs")

	return cmd
}

func buildBatchSystem(cfg *config.Config) (batchsystem.BatchSystem, error) {
	switch cfg.BatchSystem.Mode {
	case "replay":
		if cfg.BatchSystem.TracePath == "" {
			return nil, fmt.Errorf("batch system mode is replay but no trace path is configured")
		}
		return batchsystem.NewReplay(cfg.BatchSystem.TracePath, time.Now, time.Time{})
	case "random":
		return batchsystem.NewRandom(
			cfg.BatchSystem.RandomN,
			cfg.BatchSystem.RandomP,
			batchsystem.UniformDuration{Min: cfg.BatchSystem.RandomMinSecs, Max: cfg.BatchSystem.RandomMaxSecs},
			time.Now,
			cfg.BatchSystem.RandomSeed,
		), nil
	default:
		return nil, fmt.Errorf("unknown batch system mode %q (valid: replay, random)", cfg.BatchSystem.Mode)
	}
}

func buildCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.FilePath), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Checkpoint.RedisAddr})
		return checkpoint.NewRedisStore(client, cfg.Checkpoint.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (valid: file, redis)", cfg.Checkpoint.Backend)
	}
}
