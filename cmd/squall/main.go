package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudburst/vmmad/internal/logging"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/simulator"
)

var version = "1.0.0"

func main() {
	var (
		tracePath    string
		outputPath   string
		clusterSize  int
		startupDelay time.Duration
		timeInterval time.Duration
		startTime    string
		maxVms       int
		maxDelta     int
		maxIdle      time.Duration
		maxCycles    int
		logLevel     string
	)

	rootCmd := &cobra.Command{
		Use:   "squall",
		Short: "Squall - replay a job trace through the cumulus orchestrator",
		Long: "Squall runs the orchestrator control loop against a recorded job\n" +
			"trace with a virtual clock and an in-memory cloud, writing one CSV\n" +
			"row per simulated cycle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetLevelFromString(logLevel)

			cfg := simulator.Config{
				ClusterSize:  clusterSize,
				StartupDelay: startupDelay,
				TimeInterval: timeInterval,
				MaxCycles:    maxCycles,
				MaxVms:       maxVms,
				MaxDelta:     maxDelta,
			}
			if startTime != "" {
				t, err := time.Parse("2006-01-02T15:04:05", startTime)
				if err != nil {
					return fmt.Errorf("invalid --start-time %q: %w", startTime, err)
				}
				cfg.StartingTime = t.UTC()
			}

			pol := policy.NewThreshold("", 0, maxIdle)

			sim, err := simulator.New(cfg, pol, tracePath, outputPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			started := time.Now()
			if err := sim.Run(ctx); err != nil {
				return err
			}
			logging.Op().Info("simulation finished",
				"cycles", sim.Orchestrator().Cycle(),
				"wall_clock", time.Since(started),
				"output", outputPath)
			return nil
		},
	}

	rootCmd.Flags().StringVar(&tracePath, "trace-file", "accounting.csv", "CSV trace file to replay")
	rootCmd.Flags().StringVar(&outputPath, "output-file", "simulation.csv", "File receiving one CSV row per cycle")
	rootCmd.Flags().IntVar(&clusterSize, "cluster-size", 20, "Number of ever-running pre-existing cluster nodes")
	rootCmd.Flags().DurationVar(&startupDelay, "startup-delay", time.Minute, "Simulated boot latency before a started VM is READY")
	rootCmd.Flags().DurationVar(&timeInterval, "time-interval", time.Hour, "Virtual time advanced per cycle")
	rootCmd.Flags().StringVar(&startTime, "start-time", "", "Simulation start (2006-01-02T15:04:05, UTC); default is the earliest trace submission")
	rootCmd.Flags().IntVar(&maxVms, "max-vms", 30, "Maximum number of managed VMs, cluster nodes included")
	rootCmd.Flags().IntVar(&maxDelta, "max-delta", 1, "Cap on VMs started per cycle (stops are not capped)")
	rootCmd.Flags().DurationVar(&maxIdle, "max-idle", 2*time.Hour, "Idle time before a VM becomes a stop candidate")
	rootCmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "Stop after this many cycles (0 = run until the trace is exhausted)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the squall version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("squall version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
