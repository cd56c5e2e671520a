package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/collector"
	"github.com/unraid-agent/internal/metrics"
	"github.com/unraid-agent/internal/publish"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/scheduler"
	"github.com/unraid-agent/internal/server"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/source"
	"github.com/unraid-agent/internal/state"
	"github.com/unraid-agent/pkg/config"
	"github.com/unraid-agent/pkg/logger"
	"github.com/unraid-agent/pkg/signal"
	"github.com/unraid-agent/pkg/util"
)

const shutdownGrace = 15 * time.Second

// run starts every component and blocks until a shutdown signal.
func run(ctx context.Context, cfg *config.Config) error {
	util.PrintBanner("unraid-agent")

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	log.Info("agent starting",
		zap.Int("servers", len(cfg.Servers)),
		zap.Bool("graphql_enabled", cfg.GraphQLEnabled))

	agent := metrics.NewAgent()

	serverNames := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		serverNames = append(serverNames, s.Name)
	}

	pub := publish.New(cfg.MQTT, serverNames, logger.Named("mqtt"))
	pub.SetPublishObserver(agent.ObservePublish)
	pub.SetReconnectObserver(agent.Reconnects.Inc)
	if err := pub.Connect(); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	defer pub.Close()

	pipe := collector.NewPipeline(
		state.NewStore(),
		registry.New(),
		pub,
		agent,
		cfg.MQTT.DiscoveryPrefix,
		cfg.MQTT.BaseTopic,
		logger.Named("pipeline"),
	)
	pipe.SetAutoDiscover(cfg.MQTT.AutoDiscover)

	var workers []*scheduler.Worker
	for _, sc := range cfg.Servers {
		workers = append(workers, buildWorkers(sc, cfg.GraphQLEnabled, pipe, agent)...)
	}

	sched := scheduler.New(workers, logger.Named("scheduler"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sched.Start(runCtx)

	go agent.RunSelfSampler(runCtx, logger.Named("self"))

	httpServer := server.New(cfg.Server, agent.Registry, logger.Named("http"))
	httpServer.Start()

	log.Info("agent started", zap.String("metrics_addr", cfg.Server.Addr))

	signal.WaitForShutdown(log, shutdownGrace, func() error {
		cancel()
		sched.Stop()
		if err := httpServer.Shutdown(); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return nil
}

// buildWorkers assembles one server's sessions, sources and the three scan
// class workers.
func buildWorkers(sc config.ServerConfig, graphqlEnabled bool, pipe *collector.Pipeline, agent *metrics.Agent) []*scheduler.Worker {
	log := logger.Named(sc.Name)
	sess := session.New(sc, log)
	src := collector.Sources{
		GQL:     source.NewGraphQLSource(sess, graphqlEnabled, log),
		Legacy:  source.NewLegacySource(sess, log),
		Sidecar: source.NewSidecarSource(sess, log),
	}

	primary := []collector.Collector{
		collector.NewArrayCollector(sess, src, pipe, log),
		collector.NewSmartCollector(sess, src, pipe, alert.NewEngine(), log),
		collector.NewDockerCollector(sess, src, pipe, log),
		collector.NewVMCollector(sess, src, pipe, log),
		collector.NewCPUCollector(sess, src, pipe, log),
		collector.NewMemoryCollector(sess, src, pipe, log),
		collector.NewGPUCollector(sess, src, pipe, log),
		collector.NewAcceleratorCollector(sess, src, pipe, log),
	}
	ups := []collector.Collector{
		collector.NewUPSCollector(sess, src, pipe, log),
	}
	system := []collector.Collector{
		collector.NewSystemCollector(sess, src, pipe, log),
	}

	return []*scheduler.Worker{
		scheduler.NewWorker(sc.Name, collector.ScanPrimary, sc.ScanInterval, primary, agent, log),
		scheduler.NewWorker(sc.Name, collector.ScanUPS, sc.UPSScanInterval, ups, agent, log),
		scheduler.NewWorker(sc.Name, collector.ScanSystem, sc.SystemScanInterval, system, agent, log),
	}
}
