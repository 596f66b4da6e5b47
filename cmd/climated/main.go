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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/admin"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/alert"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/config"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/mqtt"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/snapshot"
	redispkg "github.com/afewyards/ha-adaptive-climate-sub000/internal/store/redis"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/zone"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting climated",
		"broker", cfg.MQTT.BrokerURL,
		"topic_prefix", cfg.MQTT.TopicPrefix,
		"redis", cfg.Redis.URL,
		"zones_file", cfg.ZonesFile,
	)

	store := openSnapshotStore(cfg.Redis.URL, logger)
	defer store.Close()

	inventory, err := config.LoadZones(cfg.ZonesFile)
	if err != nil {
		logger.Error("failed to load zone inventory", "error", err)
		os.Exit(1)
	}

	alerter := buildAlerter(cfg.Alert, logger)

	mgr := zone.NewManager(logger)
	bridge := mqtt.New(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
	}, mgr, logger)

	persister := newPersister(store, mgr, cfg.Snapshot.MinInterval, logger)
	sink := newEventSink(bridge, alerter, persister, logger)

	if err := buildZones(mgr, inventory, logger, sink.Handle); err != nil {
		logger.Error("failed to build zones", "error", err)
		os.Exit(1)
	}
	restoreSnapshots(context.Background(), store, mgr, logger)
	logger.Info("zones configured", "count", len(mgr.Zones()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	adminSrv := admin.NewServer(mgr, logger)
	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()
	adminHandler := admin.AuditMiddleware(logger, rateLimiter.Wrap(adminSrv.Handler()))

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HealthPort, adminHandler, logger)
	})

	g.Go(func() error {
		return mgr.Run(gCtx)
	})

	g.Go(func() error {
		return persister.Run(gCtx)
	})

	if err := bridge.Start(gCtx); err != nil {
		logger.Error("failed to connect to broker", "error", err)
		cancel()
		_ = g.Wait()
		os.Exit(1)
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("climated exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("climated shut down gracefully")
}

// openSnapshotStore connects to Redis, falling back to the in-memory store
// so zones still run, without persistence, when Redis is unreachable.
func openSnapshotStore(redisURL string, logger *slog.Logger) redispkg.SnapshotStore {
	store, err := redispkg.NewStore(redisURL)
	if err != nil {
		logger.Warn("redis unavailable, snapshots will not survive restarts", "error", err)
		return redispkg.NewInMemoryStore()
	}
	logger.Info("connected to redis snapshot store")
	return store
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) *alert.MultiAlerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewBreakerAlerter(alert.NewSlackAlerter(cfg.SlackWebhookURL), logger))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewBreakerAlerter(alert.NewWebhookAlerter(cfg.WebhookURL), logger))
	}
	if len(channels) == 0 {
		channels = append(channels, &alert.NoopAlerter{})
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func buildZones(mgr *zone.Manager, inventory *config.Zones, logger *slog.Logger, emit func(ev any)) error {
	for _, spec := range inventory.Zones {
		heatingType, err := model.ParseHeatingType(spec.HeatingType)
		if err != nil {
			return fmt.Errorf("zone %q: %w", spec.ID, err)
		}
		z := zone.New(zone.Config{
			ID:            spec.ID,
			HeatingType:   heatingType,
			Mode:          model.Mode(spec.Mode),
			Setpoint:      spec.Setpoint,
			Gains:         spec.Gains(),
			AutoApply:     spec.AutoApply,
			SetbackOffset: spec.SetbackOffset,
			PreheatOffset: spec.PreheatOffset,
		}, logger, emit)
		if err := mgr.Add(z); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshots loads persisted state for every known zone. Snapshots
// for zones no longer in the inventory are left in place and ignored.
func restoreSnapshots(ctx context.Context, store redispkg.SnapshotStore, mgr *zone.Manager, logger *slog.Logger) {
	saved, err := store.LoadAll(ctx)
	if err != nil {
		logger.Warn("failed to load snapshots, zones start cold", "error", err)
		return
	}
	restored := 0
	for zoneID, data := range saved {
		z, ok := mgr.Get(zoneID)
		if !ok {
			logger.Debug("snapshot for unknown zone ignored", "zone", zoneID)
			continue
		}
		z.RestoreSnapshot(snapshot.Decode(data, logger))
		restored++
	}
	if restored > 0 {
		logger.Info("restored zone snapshots", "count", restored)
	}
}

// runHTTPServer serves health, metrics and the admin API on one port.
func runHTTPServer(ctx context.Context, port int, adminHandler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/admin/v1/", adminHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
