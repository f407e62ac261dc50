package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/packetline/log"
	"github.com/pithecene-io/packetline/pipeline"
	"github.com/pithecene-io/packetline/sink"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Config represents a packetline.yaml configuration file.
// All values are optional and act as defaults for packetline run flags.
// CLI flags always override config values. Zero values keep the pipeline
// defaults.
type Config struct {
	Pools          PoolsConfig   `yaml:"pools"`
	Breaker        BreakerConfig `yaml:"breaker"`
	DLQ            DLQConfig     `yaml:"dlq"`
	Storage        StorageConfig `yaml:"storage"`
	Adapter        AdapterConfig `yaml:"adapter"`
	ReportInterval Duration      `yaml:"report_interval"`
	RetryInterval  Duration      `yaml:"retry_interval"`
	StorageTimeout Duration      `yaml:"storage_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	// Rate paces capture stream replay in packets per second.
	Rate     float64 `yaml:"rate"`
	LogLevel string  `yaml:"log_level"`
}

// PoolsConfig holds per-stage worker counts.
type PoolsConfig struct {
	Capture      int `yaml:"capture"`
	Parsing      int `yaml:"parsing"`
	Storage      int `yaml:"storage"`
	Notification int `yaml:"notification"`
}

// BreakerConfig holds parser breaker settings.
type BreakerConfig struct {
	Threshold    int      `yaml:"threshold"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// DLQConfig holds dead-letter queue settings.
type DLQConfig struct {
	Capacity        int `yaml:"capacity"`
	MaxRetries      int `yaml:"max_retries"`
	ReportThreshold int `yaml:"report_threshold"`
	AlertSize       int `yaml:"alert_size"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Validate reports every invalid field. Sizes may be zero (default) but
// not negative.
func (c *Config) Validate() error {
	var errs []error

	nonNegative := []struct {
		name string
		v    int64
	}{
		{"pools.capture", int64(c.Pools.Capture)},
		{"pools.parsing", int64(c.Pools.Parsing)},
		{"pools.storage", int64(c.Pools.Storage)},
		{"pools.notification", int64(c.Pools.Notification)},
		{"breaker.threshold", int64(c.Breaker.Threshold)},
		{"breaker.reset_timeout", int64(c.Breaker.ResetTimeout.Duration)},
		{"dlq.capacity", int64(c.DLQ.Capacity)},
		{"dlq.max_retries", int64(c.DLQ.MaxRetries)},
		{"dlq.report_threshold", int64(c.DLQ.ReportThreshold)},
		{"dlq.alert_size", int64(c.DLQ.AlertSize)},
		{"report_interval", int64(c.ReportInterval.Duration)},
		{"retry_interval", int64(c.RetryInterval.Duration)},
		{"storage_timeout", int64(c.StorageTimeout.Duration)},
		{"adapter.timeout", int64(c.Adapter.Timeout.Duration)},
	}
	for _, f := range nonNegative {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if c.Rate < 0 {
		errs = append(errs, errors.New("rate must not be negative"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}

	if b := sink.Backend(c.Storage.Backend); b != "" && !b.Valid() {
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (must be one of %v)", b, sink.Backends()))
	}
	switch c.Adapter.Type {
	case "", AdapterWebhook, AdapterRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (must be webhook or redis)", c.Adapter.Type))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level: %w", err))
	}

	return errors.Join(errs...)
}

// Pipeline overlays the file values on pipeline.DefaultConfig.
func (c *Config) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	setInt(&cfg.Pools.Capture, c.Pools.Capture)
	setInt(&cfg.Pools.Parsing, c.Pools.Parsing)
	setInt(&cfg.Pools.Storage, c.Pools.Storage)
	setInt(&cfg.Pools.Notification, c.Pools.Notification)
	setInt(&cfg.Breaker.Threshold, c.Breaker.Threshold)
	setDuration(&cfg.Breaker.ResetTimeout, c.Breaker.ResetTimeout)
	setInt(&cfg.DLQ.Capacity, c.DLQ.Capacity)
	setInt(&cfg.DLQ.MaxRetries, c.DLQ.MaxRetries)
	setInt(&cfg.DLQ.ReportThreshold, c.DLQ.ReportThreshold)
	setInt(&cfg.DLQ.AlertSize, c.DLQ.AlertSize)
	setDuration(&cfg.ReportInterval, c.ReportInterval)
	setDuration(&cfg.RetryInterval, c.RetryInterval)
	setDuration(&cfg.StorageTimeout, c.StorageTimeout)
	return cfg
}

// Sink returns the storage section as a sink.Config.
func (c *Config) Sink() sink.Config {
	return sink.Config{
		Backend:     sink.Backend(c.Storage.Backend),
		Path:        c.Storage.Path,
		Dataset:     c.Storage.Dataset,
		Region:      c.Storage.Region,
		Endpoint:    c.Storage.Endpoint,
		S3PathStyle: c.Storage.S3PathStyle,
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
