package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stewardops/steward/internal/agent"
	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/dispatch"
	"github.com/stewardops/steward/internal/health"
	"github.com/stewardops/steward/internal/lifecycle"
	"github.com/stewardops/steward/internal/logging"
	"github.com/stewardops/steward/internal/memory"
	"github.com/stewardops/steward/internal/monitor"
	"github.com/stewardops/steward/internal/probe"
	"github.com/stewardops/steward/internal/storage"
	"github.com/stewardops/steward/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runDaemon(cfg, "")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runDaemon builds the full component graph and runs the supervisor until a
// signal arrives. transportOverride forces a transport type ("console" for
// the console command); empty uses the configured one.
func runDaemon(cfg *config.Config, transportOverride string) error {
	log := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Path:       cfg.LogPath(),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	registry := probe.NewRegistry()
	if err := registerProbes(registry, cfg); err != nil {
		return err
	}

	aggregator, err := health.NewAggregator(registry, health.Config{}, log)
	if err != nil {
		return err
	}

	engine := monitor.NewEngine(cfg.Rules, monitor.Options{StartupGrace: cfg.StartupGrace()}, log)

	opsLog, err := memory.NewOpsLog(cfg.OpsLogPath(), memory.Options{Retention: cfg.EventRetention()})
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	invoker, err := buildInvoker(cfg, log)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(invoker, store, opsLog,
		dispatch.Config{VerifyActions: cfg.VerifyActions}, log)
	if err != nil {
		return err
	}

	tr, err := buildTransport(cfg, transportOverride, log)
	if err != nil {
		return err
	}

	supervisor, err := lifecycle.NewSupervisor(lifecycle.Deps{
		Config:     cfg,
		Transport:  tr,
		Registry:   registry,
		Aggregator: aggregator,
		Engine:     engine,
		Dispatcher: dispatcher,
		OpsLog:     opsLog,
		Store:      store,
		Log:        log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second signal while shutdown is in flight exits immediately.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Fprintln(os.Stderr, "forced exit")
		os.Exit(1)
	}()

	return supervisor.Run(ctx)
}

func registerProbes(registry *probe.Registry, cfg *config.Config) error {
	if cfg.Probes.Resource.Enabled {
		if err := registry.Register(probe.NewResourceProbe(cfg.Probes.Resource)); err != nil {
			return err
		}
	}
	if cfg.Probes.OBS.Enabled {
		if err := registry.Register(probe.NewOBSProbe(cfg.Probes.OBS)); err != nil {
			return err
		}
	}
	if cfg.Probes.Agent.Enabled {
		if err := registry.Register(probe.NewAgentProcessProbe(cfg.Probes.Agent)); err != nil {
			return err
		}
	}
	if cfg.Probes.Engine.Enabled {
		if err := registry.Register(probe.NewEngineProbe(cfg.Probes.Engine)); err != nil {
			return err
		}
	}
	return nil
}

func buildInvoker(cfg *config.Config, log *logrus.Logger) (agent.Invoker, error) {
	cli, err := agent.NewCLIInvoker(cfg.Agent, log)
	if err != nil {
		return nil, err
	}
	if cfg.Agent.Backend != "api" {
		return cli, nil
	}

	// API backend serves the observer only; the actor keeps the CLI for
	// tool execution.
	api, err := agent.NewAPIInvoker("", cfg.Agent.Observer, log)
	if err != nil {
		return nil, err
	}
	return agent.NewTieredInvoker(api, cli)
}

func buildTransport(cfg *config.Config, override string, log *logrus.Logger) (transport.Transport, error) {
	transportType := cfg.Transport.Type
	if override != "" {
		transportType = override
	}
	switch transportType {
	case "telegram":
		return transport.NewTelegram(cfg.Transport, log)
	case "console":
		return transport.NewConsole()
	default:
		return nil, fmt.Errorf("unknown transport type %q", transportType)
	}
}
