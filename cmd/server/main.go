// The kernel server: model selection, budgeted dispatch, agent lifecycle,
// durable memory, and the live generation protocol behind one REST surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"appkernel/internal/agent"
	"appkernel/internal/ai"
	"appkernel/internal/api"
	"appkernel/internal/budget"
	"appkernel/internal/catalog"
	"appkernel/internal/config"
	"appkernel/internal/fallback"
	"appkernel/internal/generation"
	"appkernel/internal/logging"
	"appkernel/internal/memory"
	"appkernel/internal/metrics"
	"appkernel/internal/selector"
	"appkernel/internal/stream"
	"appkernel/internal/team"
)

const healthProbeInterval = 60 * time.Second

func main() {
	envLoaded := godotenv.Load() == nil

	logging.Init()
	defer logging.Sync()
	log := logging.L()
	if !envLoaded {
		log.Info("no .env file found, using process environment")
	}

	cfg := config.Load()
	if !cfg.HasCloudProviderKey() {
		log.Warn("no cloud provider keys configured, only the local adapter will serve requests")
	}

	cat := catalog.Default()
	adapters := buildAdapters(cfg, cat)

	sel := selector.New(cat)
	fb := fallback.New(adapters, cat, fallback.DefaultOptions())

	db, err := openDB(cfg.MemoryDBPath)
	if err != nil {
		log.Fatal("failed to open memory database", zap.Error(err))
	}

	bud, err := budget.New(db, cfg.DailyCapUSD, cfg.SessionCapUSD)
	if err != nil {
		log.Fatal("failed to initialize budget engine", zap.Error(err))
	}

	store, err := memory.NewStore(db, memory.NewCache(cfg.RedisURL))
	if err != nil {
		log.Fatal("failed to initialize memory substrate", zap.Error(err))
	}

	agents := agent.NewRegistry(agent.NewFactory(), cfg.StateDir)
	if err := agents.Load(); err != nil {
		log.Warn("agent registry snapshot not loaded", zap.Error(err))
	}

	bus := generation.NewBroadcaster()
	backend := generation.NewModelBackend(sel, fb, bud, cat)
	writer := generation.NewDiskWriter(cfg.ProjectsDir)
	engine := generation.NewEngine(backend, backend, writer, bus, cfg.Pacing, store)
	orch := team.New(backend, backend, writer, bus, store)

	hub := stream.NewHub(bus)
	go hub.Run()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go healthMonitor(monitorCtx, adapters, cat)

	router := api.NewRouter(&api.Handler{
		Catalog:  cat,
		Selector: sel,
		Budget:   bud,
		Agents:   agents,
		Store:    store,
		Engine:   engine,
		Team:     orch,
		Adapters: adapters,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("kernel server listening",
			zap.String("port", cfg.Port),
			zap.Strings("providers", adapters.Providers()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopMonitor()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}

	if err := agents.Save(); err != nil {
		log.Error("failed to persist agent registry", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildAdapters registers one adapter per configured provider. The local
// adapter is always present so the fallback chain never runs dry. Catalog
// providers without an adapter are marked down so the selector skips them.
func buildAdapters(cfg *config.Config, cat *catalog.Catalog) *ai.Registry {
	reg := ai.NewRegistry()

	if cfg.AnthropicAPIKey != "" {
		reg.Register(ai.NewAnthropicClient(cfg.AnthropicAPIKey, 60))
	}
	if cfg.OpenAIAPIKey != "" {
		reg.Register(ai.NewOpenAIClient(cfg.OpenAIAPIKey, 60))
	}
	if cfg.GoogleAPIKey != "" {
		reg.Register(ai.NewGoogleClient(cfg.GoogleAPIKey, 60))
	}
	if cfg.XAIAPIKey != "" {
		reg.Register(ai.NewXAIClient(cfg.XAIAPIKey, 60))
	}
	reg.Register(ai.NewLocalClient(cfg.LocalBaseURL, 0))

	for _, provider := range cat.Providers() {
		if _, found := reg.ForProvider(provider); !found {
			cat.SetStatus(provider, catalog.StatusDown)
		}
	}
	return reg
}

// openDB opens the sqlite memory store, creating its directory first.
func openDB(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	logLevel := gormlogger.Silent
	if os.Getenv("ENVIRONMENT") != "production" {
		logLevel = gormlogger.Warn
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
}

// healthMonitor probes each adapter periodically and feeds the catalog's
// provider ledger so selection reflects live availability.
func healthMonitor(ctx context.Context, adapters *ai.Registry, cat *catalog.Catalog) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, provider := range adapters.Providers() {
				client, found := adapters.ForProvider(provider)
				if !found {
					continue
				}

				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := client.Health(probeCtx)
				cancel()

				if err != nil {
					cat.SetStatus(provider, catalog.StatusDown)
					metrics.Get().SetAIProviderHealth(provider, false)
					logging.L().Warn("provider health probe failed",
						zap.String("provider", provider), zap.Error(err))
				} else {
					cat.SetStatus(provider, catalog.StatusOperational)
					metrics.Get().SetAIProviderHealth(provider, true)
				}
			}
		}
	}
}
