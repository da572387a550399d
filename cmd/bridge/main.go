package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/config"
	"github.com/ukydev/hems-dispatch/internal/logging"
	"github.com/ukydev/hems-dispatch/internal/relay"
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

	bridge := newBridge(cfg.Bridge)
	log.WithFields(log.Fields{
		"cloud_url":  cfg.Bridge.CloudURL,
		"xplane_url": cfg.Bridge.XPlaneURL,
		"plugin_url": cfg.Bridge.PluginURL,
		"listen":     cfg.Bridge.ListenAddr,
	}).Info("Starting telemetry bridge")

	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("Bridge stopped")
	}
	if bridge.Station().Unauthorized() {
		log.Warn("Cloud rejected the bridge credentials. Check HEMS_API_KEY or HEMS_TOKEN.")
	}
	log.Info("Bridge stopped")
}

// newBridge attaches every input the config names. Without a cloud URL the
// bridge only serves its local surface.
func newBridge(cfg config.BridgeConfig) *relay.Bridge {
	station := relay.NewStation(cfg.MissionID)

	var uplink *relay.Uplink
	if cfg.CloudURL != "" {
		uplink = relay.NewUplink(relay.UplinkConfig{
			BaseURL: cfg.CloudURL,
			APIKey:  cfg.APIKey,
			Token:   cfg.Token,
		})
	} else {
		log.Warn("HEMS_CLOUD_URL not set, telemetry stays local")
	}

	var opts []relay.BridgeOption
	if cfg.ListenAddr != "" {
		opts = append(opts, relay.WithLocalServer(relay.NewLocalServer(cfg.ListenAddr, station, uplink)))
	}
	if cfg.XPlaneURL != "" {
		opts = append(opts, relay.WithXPlane(relay.NewXPlaneClient(cfg.XPlaneURL, cfg.SampleInterval/2)))
	}
	if cfg.PluginURL != "" {
		plugin := relay.NewWSClient(relay.WSConfig{
			URL:               cfg.PluginURL,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReconnectDelay:    cfg.ReconnectDelay,
			HandshakeTimeout:  cfg.HandshakeTimeout,
		}, relay.WSHandlers{
			OnTelemetry: station.RecordPlugin,
			OnState: func(s relay.ConnState) {
				log.WithField("state", s).Info("Plugin connection")
			},
			OnError: func(err error) {
				log.WithError(err).Warn("Plugin error")
			},
		})
		opts = append(opts, relay.WithPlugin(plugin))
	}
	if cfg.LocalBridgeURL != "" {
		opts = append(opts, relay.WithPoller(relay.NewPoller(cfg.LocalBridgeURL, cfg.PollInterval, station)))
	}

	return relay.NewBridge(relay.BridgeConfig{
		SampleInterval: cfg.SampleInterval,
		UplinkInterval: cfg.UplinkInterval,
	}, station, uplink, opts...)
}
