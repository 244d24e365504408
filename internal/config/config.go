package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/picker"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Locator configuration.
	WaveSpeed float64 // km/s
	Picker    picker.Params
	Channel   domain.Channel
	Resample  bool
	ChartDir  string

	// WaveformDir confines job path sources. Empty disables them.
	WaveformDir string

	// LocateWorkers bounds how many jobs of a batch are located at once.
	LocateWorkers int

	// FDSN web-service configuration.
	FDSNEnabled   bool
	FDSNBaseURL   string
	FDSNTimeout   time.Duration
	FDSNCacheSize int
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

	fdsnTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FDSN_TIMEOUT", "30s"))
	if err != nil || fdsnTimeout <= 0 {
		return nil, errors.New("invalid FDSN_TIMEOUT")
	}

	speed, err := parsePositiveFloat("WAVE_SPEED_KMS", 6.0)
	if err != nil {
		return nil, err
	}

	params, err := parsePicker()
	if err != nil {
		return nil, err
	}

	workers, err := parseWorkers()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "locate-jobs"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "epicenters"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "seismic-locator"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		WaveSpeed: speed,
		Picker:    params,
		Channel:   domain.Channel(sharedcfg.EnvOrDefault("CHANNEL", string(domain.ChannelBHZ))),
		Resample:  os.Getenv("FORCE_RESAMPLE") == "true",
		ChartDir:  os.Getenv("CHART_DIR"),

		WaveformDir: os.Getenv("WAVEFORM_DIR"),

		LocateWorkers: workers,

		FDSNEnabled:   os.Getenv("FDSN_ENABLED") == "true",
		FDSNBaseURL:   sharedcfg.EnvOrDefault("FDSN_BASE_URL", "https://service.iris.edu/fdsnws"),
		FDSNTimeout:   fdsnTimeout,
		FDSNCacheSize: parseFDSNCacheSize(),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if len(cfg.Channel) != 3 {
		return nil, fmt.Errorf("CHANNEL must be a three-letter SEED code, got %q", cfg.Channel)
	}

	return cfg, nil
}

func parsePicker() (picker.Params, error) {
	p := picker.DefaultParams()
	sta, err := parsePositiveFloat("STA_SECONDS", p.STA.Seconds())
	if err != nil {
		return p, err
	}
	lta, err := parsePositiveFloat("LTA_SECONDS", p.LTA.Seconds())
	if err != nil {
		return p, err
	}
	on, err := parsePositiveFloat("TRIGGER_ON", p.On)
	if err != nil {
		return p, err
	}
	off, err := parsePositiveFloat("TRIGGER_OFF", p.Off)
	if err != nil {
		return p, err
	}

	p = picker.Params{
		STA: time.Duration(sta * float64(time.Second)),
		LTA: time.Duration(lta * float64(time.Second)),
		On:  on,
		Off: off,
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid STA/LTA settings: %w", err)
	}
	return p, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return v, nil
}

func parseWorkers() (int, error) {
	s := os.Getenv("LOCATE_WORKERS")
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 64 {
		return 0, errors.New("invalid LOCATE_WORKERS: must be between 1 and 64")
	}
	return n, nil
}

func parseFDSNCacheSize() int {
	if s := os.Getenv("FDSN_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 64
}
