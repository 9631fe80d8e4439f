package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wardenhq/warden/pkg/api"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/coordinator"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/handlers"
	"github.com/wardenhq/warden/pkg/healer"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/probes"
	"github.com/wardenhq/warden/pkg/scheduler"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
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
	Use:   "warden",
	Short: "Warden - control plane for a multi-agent automation fleet",
	Long: `Warden schedules prioritized tasks with retry and backoff, remediates
failures behind a circuit breaker, and aggregates the health of a fleet
of managed agents into one coordinated status.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Warden version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Warden control plane",
	Long: `Run the control plane: the task scheduler, the remediation engine and
the health coordinator, plus the HTTP API. Configuration is read from
WARDEN_* environment variables and the optional fleet topology file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("main")

		fleet, err := config.LoadFleet(cfg.FleetFile)
		if err != nil {
			return fmt.Errorf("failed to load fleet topology: %v", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %v", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()

		registry := handlers.NewRegistry()

		sched, err := scheduler.NewScheduler(cfg, store, registry, broker)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %v", err)
		}

		heal, err := healer.NewHealer(cfg, store, sched, broker)
		if err != nil {
			return fmt.Errorf("failed to create healer: %v", err)
		}

		probers, err := probes.FromFleet(fleet, store)
		if err != nil {
			return fmt.Errorf("failed to build probes: %v", err)
		}

		coord, err := coordinator.NewCoordinator(cfg, fleet, store, heal, probers, broker)
		if err != nil {
			return fmt.Errorf("failed to create coordinator: %v", err)
		}

		heal.SetReporter(coord)
		handlers.RegisterBuiltins(registry, coord)
		if cfg.AutoSyncEnabled {
			registry.Register(types.TaskTypeSync, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
				return coord.TriggerAgent(ctx, "repo-scraper", payload)
			})
		}
		coord.RegisterTrigger("task-scheduler", func(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			processed, task, err := sched.ProcessNext(ctx)
			if err != nil {
				return nil, err
			}
			resp := map[string]interface{}{"processed": processed}
			if task != nil {
				resp["task_id"] = task.ID
			}
			return resp, nil
		})
		coord.RegisterTrigger("self-healer", func(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error) {
			status := heal.Status()
			return map[string]interface{}{
				"breaker_open":   status.Breaker.Open,
				"total_actions":  status.TotalActions,
				"total_executed": status.TotalExecuted,
			}, nil
		})

		sched.Start()
		logger.Info().Msg("scheduler started")
		coord.Start()
		logger.Info().Dur("interval", cfg.SelfCheckInterval).Msg("coordinator self-check started")

		apiServer := api.NewServer(sched, heal, coord)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("api server error: %v", err)
			}
		}()
		logger.Info().Str("addr", cfg.ListenAddr).Int("agents", len(fleet.Agents)).Msg("warden is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("api server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api shutdown failed")
		}
		coord.Stop()
		sched.Stop()
		broker.Stop()

		logger.Info().Msg("shutdown complete")
		return nil
	},
}
