// Command browsercontrold is the process entrypoint: it wires the
// Driver Factory, Session Pool, Session Registry, Permission & Auth
// Gate, Tool Dispatcher, Health Service, and Shutdown Coordinator
// together and serves the health/metrics HTTP surface until signaled
// to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"browsercontrol/internal/auth"
	"browsercontrol/internal/audit"
	"browsercontrol/internal/breaker"
	"browsercontrol/internal/config"
	"browsercontrol/internal/dispatch"
	"browsercontrol/internal/driver"
	"browsercontrol/internal/eventbus"
	"browsercontrol/internal/eventstream"
	"browsercontrol/internal/health"
	"browsercontrol/internal/httpapi"
	"browsercontrol/internal/logging"
	"browsercontrol/internal/metrics"
	"browsercontrol/internal/pool"
	"browsercontrol/internal/registry"
	"browsercontrol/internal/shutdown"
	"browsercontrol/internal/store"
	"browsercontrol/internal/tool"
	"browsercontrol/internal/upload"
)

func main() {
	cfg, err := config.Load(os.Getenv("BROWSERCONTROL_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	logging.Init(cfg.LogLevel)
	logging.Info("starting browsercontrold", zap.String("browserType", cfg.BrowserType), zap.Int("port", cfg.Port))

	breakers := breaker.NewRegistry()
	driverFactory, err := driver.NewFactory(cfg.Pool.Headless, breakers)
	if err != nil {
		logging.Fatal("failed to start driver factory", zap.Error(err))
	}

	sessionPool := pool.New(driverFactory, cfg.Pool)
	sessionPool.StartHealthChecking()

	prewarmCtx, prewarmCancel := context.WithTimeout(context.Background(), 60*time.Second)
	sessionPool.Prewarm(prewarmCtx)
	prewarmCancel()

	sessionRegistry := registry.New(sessionPool, cfg.Registry.ConcurrentSessionCap)

	metricsRegistry := metrics.NewRegistry()

	auditLog := audit.NewLog()
	gate := auth.NewGate(cfg.Auth, auditLog, metricsRegistry)

	var artifactSink tool.ArtifactSink
	if cfg.Artifacts.Enabled {
		artifactSink = upload.NewManager(cfg.Artifacts.Region, cfg.Artifacts.Bucket)
	}

	tools := tool.NewRegistry()
	tool.RegisterAll(tools, artifactSink)

	dispatcher := dispatch.New(tools, gate, sessionRegistry, metricsRegistry)

	configPath := os.Getenv("BROWSERCONTROL_CONFIG")
	if err := config.WatchPool(configPath, func(reloaded config.PoolConfig) {
		resizeCtx, resizeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer resizeCancel()
		sessionPool.Resize(resizeCtx, reloaded.MinSize, reloaded.MaxSize)
	}); err != nil {
		logging.Warn("config hot-reload watch failed to start", zap.Error(err))
	}

	eventHub := eventstream.NewHub()
	dispatcher.SetEventStream(eventHub)

	var publisher *eventbus.Publisher
	if cfg.EventBus.Enabled {
		publisher = eventbus.NewPublisher(cfg.EventBus.Brokers, cfg.EventBus.Topic)
		dispatcher.SetEventPublisher(publisher)
	}

	var historySink *store.Sink
	if cfg.AuditStore.Enabled {
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		sink, err := store.NewSink(storeCtx, cfg.AuditStore.URI, cfg.AuditStore.Database, cfg.AuditStore.Collection)
		storeCancel()
		if err != nil {
			logging.Warn("audit store unavailable, continuing without session history", zap.Error(err))
		} else {
			historySink = sink
			dispatcher.SetHistorySink(historySink)
			go historySink.Run(context.Background(), 30*time.Second)
		}
	}

	healthService := health.New(sessionPool, sessionRegistry, cfg, metricsRegistry)
	httpServer := httpapi.NewServer(healthService, eventHub)

	// Shutdown runs handlers in reverse of registration order, so the
	// steps that must happen LAST (destroying the pool, then stopping the
	// driver factory) are registered FIRST, and the steps that must happen
	// FIRST (closing the intake gate, then draining in-flight tool calls)
	// are registered LAST.
	coordinator := shutdown.NewCoordinator(30*time.Second, 5*time.Second)
	coordinator.RegisterHandler("event-bus", func(ctx context.Context) error {
		if publisher != nil {
			return publisher.Close()
		}
		return nil
	})
	coordinator.RegisterHandler("audit-store", func(ctx context.Context) error {
		if historySink != nil {
			return historySink.Flush(ctx)
		}
		return nil
	})
	coordinator.RegisterHandler("driver-factory", func(ctx context.Context) error {
		return driverFactory.Stop()
	})
	coordinator.RegisterHandler("pool", func(ctx context.Context) error {
		sessionPool.Shutdown(ctx)
		return nil
	})
	coordinator.RegisterHandler("registry", func(ctx context.Context) error {
		sessionRegistry.DestroyAll(ctx)
		return nil
	})
	coordinator.RegisterHandler("http-server", func(ctx context.Context) error {
		return nil // http.Server.Shutdown is driven by serverCtx below
	})
	coordinator.RegisterHandler("drain", func(ctx context.Context) error {
		return dispatcher.Drain(ctx)
	})
	coordinator.RegisterHandler("intake-gate", func(ctx context.Context) error {
		dispatcher.RefuseNewIntakes()
		return nil
	})
	coordinator.ListenForSignals()

	serverCtx, cancelServer := context.WithCancel(context.Background())
	go func() {
		coordinator.WaitForTrigger()
		cancelServer()
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logging.Info("http surface listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(serverCtx, addr); err != nil {
		logging.Error("http server exited with error", zap.Error(err))
		os.Exit(1)
	}

	coordinator.WaitForShutdown()
	logging.Info("browsercontrold exiting")
}
