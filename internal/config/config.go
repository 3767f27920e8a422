package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Sample sources.
const (
	SourceOpenMeteo = "openmeteo"
	SourceKafka     = "kafka"
	SourceMQTT      = "mqtt"
)

// Reading sinks.
const (
	SinkKafka     = "kafka"
	SinkTimescale = "timescale"
	SinkSQLite    = "sqlite"
)

// DefaultLocations is the original field deployment (Dos Hermanas, Sevilla).
const DefaultLocations = "Dos_Hermanas_Exterior:37.28:-5.92"

// Config holds all service settings, populated from environment variables.
type Config struct {
	Source string
	Sinks  []string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// Open-Meteo polling configuration.
	OpenMeteoURL     string
	OpenMeteoTimeout time.Duration
	PollInterval     time.Duration
	Locations        []domain.Location
	DedupCacheSize   int

	DatabaseURL         string
	TimescaleHypertable bool
	SQLitePath          string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	QueueCapacity      int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honoured but never
// overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}
	openMeteoTimeout, err := parsePositiveDuration("OPEN_METEO_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parsePositiveDuration("POLL_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	queueCapacity, err := parseIntInRange("QUEUE_CAPACITY", 256, 1, 100000)
	if err != nil {
		return nil, err
	}
	dedupCacheSize, err := parseIntInRange("DEDUP_CACHE_SIZE", 1000, 1, 1000000)
	if err != nil {
		return nil, err
	}
	mqttPort, err := parseIntInRange("MQTT_PORT", 1883, 1, 65535)
	if err != nil {
		return nil, err
	}
	hypertable, err := parseBool("TIMESCALE_HYPERTABLE", true)
	if err != nil {
		return nil, err
	}
	locations, err := ParseLocations(sharedcfg.EnvOrDefault("LOCATIONS", DefaultLocations))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source: strings.ToLower(sharedcfg.EnvOrDefault("SOURCE", SourceOpenMeteo)),
		Sinks:  sharedcfg.ParseBrokers(strings.ToLower(sharedcfg.EnvOrDefault("SINKS", SinkTimescale))),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-sensor-samples"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "vpd-readings"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "agrosentinel-etl"),

		MQTTBroker:   sharedcfg.EnvOrDefault("MQTT_BROKER", "localhost"),
		MQTTPort:     mqttPort,
		MQTTClientID: sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "agrosentinel-etl-"+uuid.NewString()[:8]),
		MQTTTopic:    sharedcfg.EnvOrDefault("MQTT_TOPIC", "agrosentinel/+/telemetry"),

		OpenMeteoURL:     strings.TrimRight(sharedcfg.EnvOrDefault("OPEN_METEO_URL", "https://api.open-meteo.com"), "/"),
		OpenMeteoTimeout: openMeteoTimeout,
		PollInterval:     pollInterval,
		Locations:        locations,
		DedupCacheSize:   dedupCacheSize,

		DatabaseURL:         databaseURL(),
		TimescaleHypertable: hypertable,
		SQLitePath:          sharedcfg.EnvOrDefault("SQLITE_PATH", "data/agrosentinel.db"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		QueueCapacity:      queueCapacity,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasSink reports whether the named sink is configured.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Sinks, name)
}

func (c *Config) validate() error {
	switch c.Source {
	case SourceOpenMeteo, SourceKafka, SourceMQTT:
	default:
		return fmt.Errorf("invalid SOURCE %q: must be one of openmeteo, kafka, mqtt", c.Source)
	}

	if len(c.Sinks) == 0 {
		return errors.New("SINKS is required")
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkKafka, SinkTimescale, SinkSQLite:
		default:
			return fmt.Errorf("invalid SINKS entry %q: must be kafka, timescale or sqlite", s)
		}
	}

	if c.Source == SourceKafka || c.HasSink(SinkKafka) {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
	}
	if c.Source == SourceKafka && c.KafkaSourceTopic == "" {
		return errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if c.HasSink(SinkKafka) && c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required")
	}
	if c.Source == SourceOpenMeteo && len(c.Locations) == 0 {
		return errors.New("LOCATIONS is required when SOURCE=openmeteo")
	}
	if c.Source == SourceMQTT && c.MQTTTopic == "" {
		return errors.New("MQTT_TOPIC is required")
	}
	if c.HasSink(SinkSQLite) && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required")
	}
	return nil
}

// ParseLocations parses "name:lat:lon" entries separated by commas.
func ParseLocations(s string) ([]domain.Location, error) {
	entries := sharedcfg.ParseBrokers(s)
	locs := make([]domain.Location, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: want name:lat:lon", e)
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: bad coordinates", e)
		}
		locs = append(locs, domain.Location{Name: strings.TrimSpace(parts[0]), Lat: lat, Lon: lon})
	}
	return locs, nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles a DSN from the
// DB_* variables used by the compose stack.
func databaseURL() string {
	if v := sharedcfg.EnvOrDefault("DATABASE_URL", ""); v != "" {
		return v
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(sharedcfg.EnvOrDefault("DB_USER", "agrosentinel"), sharedcfg.EnvOrDefault("DB_PASS", "")),
		Host:     net.JoinHostPort(sharedcfg.EnvOrDefault("DB_HOST", "db"), sharedcfg.EnvOrDefault("DB_PORT", "5432")),
		Path:     "/" + sharedcfg.EnvOrDefault("DB_NAME", "agro_db"),
		RawQuery: "sslmode=" + sharedcfg.EnvOrDefault("DB_SSLMODE", "disable"),
	}
	return u.String()
}
