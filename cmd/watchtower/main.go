package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchtower/internal/bot"
	"watchtower/internal/config"
	"watchtower/internal/modules/audit"
	"watchtower/internal/reputation"
	"watchtower/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	tables := reputation.DefaultTables()
	if cfg.Reputation.TablesPath != "" {
		data, err := os.ReadFile(cfg.Reputation.TablesPath)
		if err != nil {
			logger.Fatal("reading reputation tables", zap.Error(err))
		}
		tables, err = reputation.ParseTables(data)
		if err != nil {
			logger.Fatal("parsing reputation tables", zap.Error(err))
		}
	}
	logger.Info("reputation tables loaded", zap.String("version", tables.Version))

	providers := []reputation.Provider{
		reputation.NewSafeBrowsingProvider(cfg.Reputation.SafeBrowsingKey, cfg.Reputation.SafeBrowsingEndpoint),
		reputation.NewVirusTotalProvider(cfg.Reputation.VirusTotalKey, cfg.Reputation.VirusTotalEndpoint),
		reputation.NewPhishTankProvider(cfg.Reputation.PhishTankEndpoint),
	}
	aggregator := reputation.NewAggregator(tables, store, providers, logger,
		reputation.WithTimeout(time.Duration(cfg.Reputation.ProviderTimeoutMS)*time.Millisecond),
		reputation.WithCache(cfg.Reputation.CacheSize, time.Duration(cfg.Reputation.CacheTTLSeconds)*time.Second),
	)

	auditLogger := audit.NewLogger(store, logger)

	botSvc, err := bot.New(cfg, logger, store, aggregator, auditLogger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close()
}
