package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/packetline/breaker"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/pool"
)

// Defaults.
const (
	DefaultReportInterval = 5 * time.Second
	DefaultStorageTimeout = 10 * time.Second
	DefaultNotifyTimeout  = 10 * time.Second
	// BreakerName names the breaker guarding detection and decoding.
	BreakerName = "parser"
)

// BreakerConfig configures the parser breaker.
type BreakerConfig struct {
	Threshold    int           `json:"threshold" yaml:"threshold"`
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

// DLQConfig configures the dead-letter queue.
type DLQConfig struct {
	Capacity        int `json:"capacity" yaml:"capacity"`
	MaxRetries      int `json:"max_retries" yaml:"max_retries"`
	ReportThreshold int `json:"report_threshold" yaml:"report_threshold"`
	AlertSize       int `json:"alert_size" yaml:"alert_size"`
}

// Config configures a Coordinator.
type Config struct {
	Pools   pool.StageConfig `json:"pools" yaml:"pools"`
	Breaker BreakerConfig    `json:"breaker" yaml:"breaker"`
	DLQ     DLQConfig        `json:"dlq" yaml:"dlq"`

	// ReportInterval is the period of Run's reporter. Zero disables it.
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// RetryInterval is the period of Run's dead-letter retry pass.
	// Zero disables it.
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
	// StorageTimeout bounds one sink write.
	StorageTimeout time.Duration `json:"storage_timeout" yaml:"storage_timeout"`
	// NotifyTimeout bounds one notifier call.
	NotifyTimeout time.Duration `json:"notify_timeout" yaml:"notify_timeout"`
}

// DefaultConfig returns the stock pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Pools: pool.DefaultStageConfig(),
		Breaker: BreakerConfig{
			Threshold:    breaker.DefaultThreshold,
			ResetTimeout: breaker.DefaultResetTimeout,
		},
		DLQ: DLQConfig{
			Capacity:        dlq.DefaultCapacity,
			MaxRetries:      dlq.DefaultMaxRetries,
			ReportThreshold: dlq.DefaultReportThreshold,
			AlertSize:       dlq.DefaultAlertSize,
		},
		ReportInterval: DefaultReportInterval,
		StorageTimeout: DefaultStorageTimeout,
		NotifyTimeout:  DefaultNotifyTimeout,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := c.Pools.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pools.Notification > 1 {
		errs = append(errs, fmt.Errorf("pools.notification must be 1 to keep report order, got %d", c.Pools.Notification))
	}
	positive := []struct {
		name string
		v    int64
	}{
		{"breaker.threshold", int64(c.Breaker.Threshold)},
		{"breaker.reset_timeout", int64(c.Breaker.ResetTimeout)},
		{"dlq.capacity", int64(c.DLQ.Capacity)},
		{"dlq.max_retries", int64(c.DLQ.MaxRetries)},
		{"storage_timeout", int64(c.StorageTimeout)},
		{"notify_timeout", int64(c.NotifyTimeout)},
	}
	for _, f := range positive {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}
	nonNegative := []struct {
		name string
		v    int64
	}{
		{"dlq.report_threshold", int64(c.DLQ.ReportThreshold)},
		{"dlq.alert_size", int64(c.DLQ.AlertSize)},
		{"report_interval", int64(c.ReportInterval)},
		{"retry_interval", int64(c.RetryInterval)},
	}
	for _, f := range nonNegative {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	return errors.Join(errs...)
}
