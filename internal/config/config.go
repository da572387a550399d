// Package config loads settings for the relay server and the desktop bridge
// from an optional .env file, an optional YAML file and the environment, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Mongo    MongoConfig    `yaml:"mongo"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Narrator NarratorConfig `yaml:"narrator"`
	Flight   FlightConfig   `yaml:"flight"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port      string        `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
	// IngestRatePerMinute limits telemetry posts per caller; zero disables.
	IngestRatePerMinute int `yaml:"ingest_rate_per_minute"`
	APIKeyCacheSize     int `yaml:"api_key_cache_size"`
	StreamBuffer        int `yaml:"stream_buffer"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type NarratorConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
}

type FlightConfig struct {
	FuelReserveMinutes float64       `yaml:"fuel_reserve_minutes"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	StepFraction       float64       `yaml:"step_fraction"`
	ArrivalNM          float64       `yaml:"arrival_nm"`
	CruiseAltitudeFt   float64       `yaml:"cruise_altitude_ft"`
	// BridgeTakesOver hands control to live simulator telemetry as soon as
	// it arrives for a mission flown autonomously.
	BridgeTakesOver bool `yaml:"bridge_takes_over"`
}

type BridgeConfig struct {
	CloudURL  string `yaml:"cloud_url"`
	APIKey    string `yaml:"api_key"`
	Token     string `yaml:"token"`
	MissionID string `yaml:"mission_id"`

	XPlaneURL      string `yaml:"xplane_url"`
	PluginURL      string `yaml:"plugin_url"`
	LocalBridgeURL string `yaml:"local_bridge_url"`
	ListenAddr     string `yaml:"listen_addr"`

	SampleInterval    time.Duration `yaml:"sample_interval"`
	UplinkInterval    time.Duration `yaml:"uplink_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads .env (if present), then path (if non-empty), then environment
// overrides, and applies defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Server.Port)
	str("JWT_SECRET", &cfg.Server.JWTSecret)
	str("MONGO_URI", &cfg.Mongo.URI)
	str("MONGO_DB", &cfg.Mongo.Database)
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("NARRATOR_URL", &cfg.Narrator.URL)
	str("NARRATOR_API_KEY", &cfg.Narrator.APIKey)
	str("HEMS_CLOUD_URL", &cfg.Bridge.CloudURL)
	str("HEMS_API_KEY", &cfg.Bridge.APIKey)
	str("HEMS_TOKEN", &cfg.Bridge.Token)
	str("HEMS_MISSION_ID", &cfg.Bridge.MissionID)
	str("XPLANE_URL", &cfg.Bridge.XPlaneURL)
	str("SIM_WS_URL", &cfg.Bridge.PluginURL)
	str("LOCAL_BRIDGE_URL", &cfg.Bridge.LocalBridgeURL)
	str("BRIDGE_LISTEN", &cfg.Bridge.ListenAddr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)

	if v := os.Getenv("JWT_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JWT_EXPIRY: %w", err)
		}
		cfg.Server.JWTExpiry = d
	}
	if v := os.Getenv("FUEL_RESERVE_MINUTES"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FUEL_RESERVE_MINUTES: %w", err)
		}
		cfg.Flight.FuelReserveMinutes = f
	}
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIM_TICK_SECONDS: %w", err)
		}
		cfg.Flight.TickInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv("BRIDGE_TAKES_OVER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BRIDGE_TAKES_OVER: %w", err)
		}
		cfg.Flight.BridgeTakesOver = b
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.JWTExpiry <= 0 {
		cfg.Server.JWTExpiry = 24 * time.Hour
	}
	if cfg.Server.APIKeyCacheSize <= 0 {
		cfg.Server.APIKeyCacheSize = 1024
	}
	if cfg.Server.StreamBuffer <= 0 {
		cfg.Server.StreamBuffer = 16
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "hems"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "hems-dispatch"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "hems"
	}
	if cfg.Narrator.Timeout <= 0 {
		cfg.Narrator.Timeout = 10 * time.Second
	}
	if cfg.Narrator.QueueSize <= 0 {
		cfg.Narrator.QueueSize = 64
	}

	if cfg.Flight.FuelReserveMinutes <= 0 {
		cfg.Flight.FuelReserveMinutes = 20
	}
	if cfg.Flight.TickInterval <= 0 {
		cfg.Flight.TickInterval = 5 * time.Second
	}
	if cfg.Flight.StepFraction == 0 {
		cfg.Flight.StepFraction = 0.05
	}
	if cfg.Flight.ArrivalNM <= 0 {
		cfg.Flight.ArrivalNM = 0.3
	}
	if cfg.Flight.CruiseAltitudeFt <= 0 {
		cfg.Flight.CruiseAltitudeFt = 1500
	}

	if cfg.Bridge.ListenAddr == "" {
		cfg.Bridge.ListenAddr = "localhost:8080"
	}
	if cfg.Bridge.SampleInterval <= 0 {
		cfg.Bridge.SampleInterval = 4 * time.Second
	}
	if cfg.Bridge.UplinkInterval <= 0 {
		cfg.Bridge.UplinkInterval = 4 * time.Second
	}
	if cfg.Bridge.PollInterval <= 0 {
		cfg.Bridge.PollInterval = time.Second
	}
	if cfg.Bridge.HeartbeatInterval <= 0 {
		cfg.Bridge.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Bridge.ReconnectDelay <= 0 {
		cfg.Bridge.ReconnectDelay = 3 * time.Second
	}
	if cfg.Bridge.HandshakeTimeout <= 0 {
		cfg.Bridge.HandshakeTimeout = 5 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 64
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Flight.StepFraction <= 0 || c.Flight.StepFraction > 1 {
		return fmt.Errorf("flight.step_fraction must be in (0, 1], got %v", c.Flight.StepFraction)
	}
	if c.Flight.FuelReserveMinutes < 0 {
		return fmt.Errorf("flight.fuel_reserve_minutes must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Server.IngestRatePerMinute < 0 {
		return fmt.Errorf("server.ingest_rate_per_minute must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
