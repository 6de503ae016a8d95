package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Raster layers sampled at the assessed point.
	SoilFertilityRaster      string
	HabitatSuitabilityRaster string

	// Open-Meteo archive configuration.
	OpenMeteoAPIKey    string
	OpenMeteoBaseURL   string
	OpenMeteoTimeout   time.Duration
	OpenMeteoRetries   int
	OpenMeteoCacheSize int
	WeatherVariable    string

	// Kafka batch pipeline; disabled unless KAFKA_ENABLED=true.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// DatabaseURL enables the Postgres assessment store when set.
	DatabaseURL string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("OPENMETEO_TIMEOUT", "10s"))
	if err != nil || timeout <= 0 {
		return nil, errors.New("invalid OPENMETEO_TIMEOUT")
	}

	retries, err := parseInt("OPENMETEO_RETRIES", 5, 0)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("OPENMETEO_CACHE_SIZE", 1000, 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SoilFertilityRaster:      sharedcfg.EnvOrDefault("SOIL_FERTILITY_RASTER", "data/raster/soil_fertility_index.tif"),
		HabitatSuitabilityRaster: sharedcfg.EnvOrDefault("HABITAT_SUITABILITY_RASTER", "data/raster/habitat_suitability.tif"),

		OpenMeteoAPIKey:    os.Getenv("OPENMETEO_API_KEY"),
		OpenMeteoBaseURL:   os.Getenv("OPENMETEO_BASE_URL"),
		OpenMeteoTimeout:   timeout,
		OpenMeteoRetries:   retries,
		OpenMeteoCacheSize: cacheSize,
		WeatherVariable:    sharedcfg.EnvOrDefault("WEATHER_VARIABLE", domain.RainfallVariable),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "striga-assessment-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "striga-assessment-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "striga-risk"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	if cfg.SoilFertilityRaster == "" || cfg.HabitatSuitabilityRaster == "" {
		return nil, errors.New("SOIL_FERTILITY_RASTER and HABITAT_SUITABILITY_RASTER are required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

func parseInt(key string, def, lowest int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lowest {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, lowest)
	}
	return n, nil
}
