// Command nexus runs the tiered execution core: the Core Orchestrator,
// its Scheduler, and a Prometheus /metrics endpoint, wired from a
// single configuration file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/agent/providers"
	"github.com/haasonsaas/nexus-core/internal/config"
	"github.com/haasonsaas/nexus-core/internal/ledger"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/registry"
	"github.com/haasonsaas/nexus-core/internal/router"
	"github.com/haasonsaas/nexus-core/internal/skills"
	"github.com/haasonsaas/nexus-core/internal/tasks"
	exectools "github.com/haasonsaas/nexus-core/internal/tools/exec"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexus",
		Short: "nexus runs the tiered execution core for LLM agent automation",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "nexus.yaml", "path to the configuration file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the configuration schema version this binary expects",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.CurrentVersion)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <request>",
		Short: "submit one request to the orchestrator and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Tools.Timeout)
			defer cancel()

			result := orch.Run(ctx, args[0], models.NullProgressSink{})
			if result == nil {
				return fmt.Errorf("orchestrator produced no result")
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			if !result.Success {
				return fmt.Errorf("run failed: %s", result.Error)
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the scheduler tick loop and the /metrics HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			store, err := tasks.NewFileStore(cfg.Scheduler.StorePath)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			runner := &tasks.OrchestratorRunner{Orchestrator: orch}
			sched := tasks.New(store, runner, tasks.Config{
				TickInterval:    cfg.Scheduler.TickInterval,
				PurgeEveryTicks: cfg.Scheduler.PurgeEveryTicks,
				Retention:       cfg.Scheduler.Retention,
				Logger:          slog.Default().With("component", "scheduler"),
			})

			observability.NewMetrics()
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
			metricsServer := &http.Server{Addr: addr, Handler: mux}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				logger.Info("metrics server listening", "addr", addr)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server stopped", "error", err)
				}
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()

			logger.Info("scheduler starting", "tick_interval", cfg.Scheduler.TickInterval)
			sched.Start(ctx)
			return nil
		},
	}
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "manage scheduled tasks",
	}
	cmd.AddCommand(newScheduleAddCmd())
	cmd.AddCommand(newScheduleListCmd())
	return cmd
}

func newScheduleAddCmd() *cobra.Command {
	var cron string
	var intervalMinutes int
	var once bool

	c := &cobra.Command{
		Use:   "add <name> <command>",
		Short: "add a task to the scheduler's store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := tasks.NewFileStore(cfg.Scheduler.StorePath)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			task := &tasks.Task{
				ID:              uuid.NewString(),
				Name:            args[0],
				Command:         args[1],
				CronExpression:  cron,
				IntervalMinutes: intervalMinutes,
				NextRunAt:       now,
				Status:          tasks.TaskStatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if once {
				task.Type = tasks.TaskOnce
			} else {
				task.Type = tasks.TaskRecurring
			}

			if err := store.Create(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	c.Flags().StringVar(&cron, "cron", "", "cron expression for a recurring task")
	c.Flags().IntVar(&intervalMinutes, "interval-minutes", 0, "interval in minutes for a recurring task")
	c.Flags().BoolVar(&once, "once", false, "run the task exactly once, immediately eligible")
	return c
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list all tasks in the scheduler's store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := tasks.NewFileStore(cfg.Scheduler.StorePath)
			if err != nil {
				return err
			}
			all, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Status, t.NextRunAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func loadConfigAndLogger() (*config.Config, *observability.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	return cfg, logger, nil
}

// buildOrchestrator wires the Core Orchestrator from a loaded
// configuration: the Cached Router, Skill Manifest, Tool Registry,
// on-device exec tools, and the configured cloud LLM provider.
func buildOrchestrator(cfg *config.Config, logger *observability.Logger) (*orchestrator.Orchestrator, error) {
	slogLogger := slog.Default()

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	cache := router.NewCache("data/router_cache.json")
	cache.Load()

	reg := registry.New(cfg.Tools.WorkspaceRoot)

	skillsMgr, err := skills.NewManager(&cfg.Skills, cfg.Tools.WorkspaceRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("build skill manager: %w", err)
	}

	execManager := exectools.NewManager(cfg.Tools.WorkspaceRoot)

	return orchestrator.New(orchestrator.Orchestrator{
		Router:      router.NewRouter(cache),
		Cache:       cache,
		Skills:      skillsMgr,
		Registry:    reg,
		Provider:    provider,
		ExecManager: execManager,
		Prices:      ledger.DefaultPriceTable(),
		Logger:      slogLogger,
	}), nil
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	providerCfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no llm.providers entry for default_provider %q", name)
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}
