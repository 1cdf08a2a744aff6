package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/alerting"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/anomaly"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/api"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/auth"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/config"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/monitor"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/storage"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/trend"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/websocket"
)

// historySource adapts the tiered store's cursor to the trend calculator's
// iterator interface.
type historySource struct {
	store *storage.TieredStore
}

func (h historySource) GetHistorical(ctx context.Context, metricKey string, window, resolution time.Duration) (trend.HistoryIterator, error) {
	return h.store.GetHistorical(ctx, metricKey, window, resolution)
}

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config failed", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("opening database failed", "error", err)
		os.Exit(1)
	}

	var hot storage.HotCache
	if cfg.Redis.Addr != "" {
		redisCache, err := storage.NewRedisCache(cfg.Redis.Addr)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory hot cache", "error", err)
			hot = storage.NewMemoryCache()
		} else {
			hot = redisCache
		}
	} else {
		hot = storage.NewMemoryCache()
	}
	defer hot.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timeseries := storage.NewTimeSeriesStore(db, logger)
	tiered := storage.NewTieredStore(hot, timeseries, storage.TieredConfig{
		SampleTTL:       cfg.Redis.SampleTTL,
		RawRetention:    cfg.Retention.Raw,
		HourlyRetention: cfg.Retention.Hourly,
		DailyRetention:  cfg.Retention.Daily,
	}, logger)
	tiered.Start(ctx)

	alertStore := storage.NewAlertStore(db)
	thresholdStore := storage.NewThresholdStore(db)

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	guard := alerting.NewGuard(alertStore, hub, logger)
	ingestor := anomaly.NewIngestor(guard, logger)
	trends := trend.NewCalculator(historySource{store: tiered}, cfg.Trend.SignificancePercent, logger)

	thresholdMonitor := monitor.New(tiered, thresholdStore, guard,
		cfg.Monitor.Interval, cfg.Monitor.StalenessBound, logger)
	go thresholdMonitor.Run(ctx)

	go runRetentionSweeper(ctx, tiered, alertStore, cfg, logger)

	authManager := auth.NewManager(cfg)
	handler := api.NewHandler(tiered, alertStore, thresholdStore, trends, ingestor, hub, authManager, logger)

	dataServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler: api.SetupDataRouter(handler),
	}
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler: api.SetupAPIRouter(handler),
	}

	go func() {
		logger.Info("data ingestion server listening", "port", cfg.Server.DataPort)
		if err := dataServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("data server failed", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("dashboard API server listening", "port", cfg.Server.APIPort)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("data server shutdown error", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", "error", err)
	}

	// Stop the monitor, sweeper and hub, then drain queued durable writes.
	cancel()
	tiered.Close()
	logger.Info("stopped")
}

// runRetentionSweeper periodically materializes rollups, expires aged-out
// samples and rollups, and prunes old resolved alerts.
func runRetentionSweeper(ctx context.Context, tiered *storage.TieredStore, alerts *storage.AlertStore, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Retention.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			tiered.RetentionSweep(ctx, now)
			cutoff := now.Add(-cfg.Retention.ResolvedAlerts)
			if n, err := alerts.DeleteResolvedBefore(ctx, cutoff); err != nil {
				logger.Error("alert retention delete failed", "error", err)
			} else if n > 0 {
				logger.Info("retention removed resolved alerts", "count", n)
			}
		}
	}
}
