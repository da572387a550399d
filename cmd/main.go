package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/auth"
	"github.com/ukydev/hems-dispatch/internal/config"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/events"
	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/handlers"
	"github.com/ukydev/hems-dispatch/internal/hub"
	"github.com/ukydev/hems-dispatch/internal/logging"
	"github.com/ukydev/hems-dispatch/internal/middleware"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"github.com/ukydev/hems-dispatch/internal/tracking"
	"golang.org/x/sync/errgroup"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("HEMS_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	logFile, err := logging.Setup(cfg.Log)
	if err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Relay server stopped")
	}
	log.Info("Relay server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	client, err := db.ConnectMongo(connectCtx, cfg.Mongo.URI)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		client.Disconnect(disconnectCtx)
	}()
	log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

	database := client.Database(cfg.Mongo.Database)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		return err
	}
	missions := &db.MongoMissionCollection{Collection: database.Collection(db.MissionsColl)}
	logs := &db.MongoLogCollection{Collection: database.Collection(db.MissionLogsColl)}
	keys := &db.MongoAPIKeyCollection{Collection: database.Collection(db.APIKeysColl)}
	pilots := &db.MongoPilotStatusCollection{Collection: database.Collection(db.PilotStatusColl)}

	var (
		sinks        []events.Sink
		snapshotSink hub.SnapshotSink
	)
	if cfg.MQTT.Broker != "" {
		publisher, err := events.DialMQTT(events.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, connectTimeout)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		snapshotSink = publisher
		log.WithField("broker", cfg.MQTT.Broker).Info("Connected to MQTT broker")
	} else {
		log.Warn("MQTT_BROKER not set, mission events stay in-process")
	}

	var narrator events.Narrator
	if cfg.Narrator.URL != "" {
		narrator = events.NewHTTPNarrator(cfg.Narrator.URL, cfg.Narrator.APIKey, cfg.Narrator.Timeout)
	} else {
		log.Warn("NARRATOR_URL not set, dispatch replies use canned text")
	}

	dispatcher := events.NewDispatcher(events.Config{
		QueueSize: cfg.Narrator.QueueSize,
		Timeout:   cfg.Narrator.Timeout,
	}, logs, narrator, sinks...)
	dispatcher.Start()
	defer dispatcher.Close()

	snapshots := hub.New(cfg.Server.StreamBuffer, snapshotSink)
	defer snapshots.Close()

	registry := tracking.NewRegistry(ctx, missions, registryConfig(cfg), tracking.Options{
		Publisher: snapshots,
		Emitter:   dispatcher,
		Scorer:    tracking.DefaultScorer{FuelReserveMinutes: cfg.Flight.FuelReserveMinutes},
	})
	defer registry.Close()

	resumed, err := registry.Resume(ctx)
	if err != nil {
		return err
	}
	log.WithField("missions", resumed).Info("Resumed active missions")

	authService, err := auth.NewService(cfg.Server.JWTSecret, cfg.Server.JWTExpiry, keys, cfg.Server.APIKeyCacheSize)
	if err != nil {
		return err
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:                middleware.NewAuthMiddleware(authService),
		RateLimit:           middleware.NewRateLimitMiddleware(),
		IngestRatePerMinute: cfg.Server.IngestRatePerMinute,
		Missions:            handlers.NewMissionHandler(registry, registryConfig(cfg).Metrics),
		Telemetry:           handlers.NewTelemetryHandler(registry, pilots, logs, narrator, cfg.Narrator.Timeout),
		Keys:                handlers.NewKeyHandler(authService),
		Stream:              handlers.NewStreamHandler(registry, snapshots),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// registryConfig maps the flight settings onto the tracking registry.
func registryConfig(cfg config.Config) tracking.RegistryConfig {
	return tracking.RegistryConfig{
		Metrics: flight.MetricsConfig{FuelReserveMinutes: cfg.Flight.FuelReserveMinutes},
		Autonomous: telemetry.AutonomousConfig{
			Interval:         cfg.Flight.TickInterval,
			StepFraction:     cfg.Flight.StepFraction,
			ArrivalNM:        cfg.Flight.ArrivalNM,
			CruiseAltitudeFt: cfg.Flight.CruiseAltitudeFt,
		},
		Bridge:          telemetry.BridgeConfig{ArrivalNM: cfg.Flight.ArrivalNM},
		BridgeTakesOver: cfg.Flight.BridgeTakesOver,
	}
}
