package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/packetline/pipeline"
	"github.com/pithecene-io/packetline/sink"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `pools:
  capture: 1
  parsing: 8
  storage: 4
  notification: 1

breaker:
  threshold: 10
  reset_timeout: 1m

dlq:
  capacity: 500
  max_retries: 5
  report_threshold: 20
  alert_size: 250

storage:
  dataset: captures
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/packetline
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

report_interval: 15s
retry_interval: 1m
storage_timeout: 20s
metrics_addr: ":9090"
rate: 250.5
log_level: warn
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pools.Parsing != 8 || cfg.Pools.Storage != 4 {
		t.Errorf("pools = %+v", cfg.Pools)
	}
	if cfg.Breaker.ResetTimeout.Duration != time.Minute {
		t.Errorf("breaker.reset_timeout = %v, want 1m", cfg.Breaker.ResetTimeout.Duration)
	}
	if cfg.DLQ.Capacity != 500 || cfg.DLQ.MaxRetries != 5 {
		t.Errorf("dlq = %+v", cfg.DLQ)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	assertEqual(t, "storage.endpoint", cfg.Storage.Endpoint, "https://example.com")
	if !cfg.Storage.S3PathStyle {
		t.Error("storage.s3_path_style = false, want true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/packetline")
	assertEqual(t, "adapter.headers", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v, want 10s", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v, want 3", cfg.Adapter.Retries)
	}

	assertEqual(t, "metrics_addr", cfg.MetricsAddr, ":9090")
	assertEqual(t, "log_level", cfg.LogLevel, "warn")
	if cfg.Rate != 250.5 {
		t.Errorf("rate = %v, want 250.5", cfg.Rate)
	}
	if cfg.RetryInterval.Duration != time.Minute {
		t.Errorf("retry_interval = %v, want 1m", cfg.RetryInterval.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PL_REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(writeTemp(t, `adapter:
  type: redis
  url: ${PL_REDIS_URL}
  channel: ${PL_CHANNEL:-packetline:test}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "redis://cache:6379/1")
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "packetline:test")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "" || cfg.Adapter.Retries != nil {
		t.Errorf("empty file produced %+v", cfg)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() = %v, want ErrNotFound", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "pools: [not, a, map"))
	if err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("Load() = %v, want invalid YAML error", err)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeTemp(t, "pools:\n  parsers: 4\n"))
	if err == nil {
		t.Fatal("Load() = nil, want error for unknown key")
	}
	if !strings.Contains(err.Error(), "parsers") {
		t.Errorf("error should name the unknown key, got: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTemp(t, "report_interval: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("Load() = %v, want invalid duration error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	retries := -1
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative pool", Config{Pools: PoolsConfig{Parsing: -1}}, "pools.parsing"},
		{"negative capacity", Config{DLQ: DLQConfig{Capacity: -5}}, "dlq.capacity"},
		{"negative rate", Config{Rate: -1}, "rate"},
		{"negative retries", Config{Adapter: AdapterConfig{Retries: &retries}}, "adapter.retries"},
		{"unknown backend", Config{Storage: StorageConfig{Backend: "ftp"}}, "storage.backend"},
		{"unknown adapter", Config{Adapter: AdapterConfig{Type: "kafka"}}, "kafka"},
		{"bad log level", Config{LogLevel: "loud"}, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestConfig_ValidateZeroValue(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestConfig_PipelineOverlay(t *testing.T) {
	cfg := Config{
		Pools:          PoolsConfig{Parsing: 16},
		Breaker:        BreakerConfig{ResetTimeout: Duration{5 * time.Second}},
		DLQ:            DLQConfig{MaxRetries: 7},
		ReportInterval: Duration{time.Second},
	}

	got := cfg.Pipeline()
	def := pipeline.DefaultConfig()

	if got.Pools.Parsing != 16 {
		t.Errorf("Pools.Parsing = %d, want 16", got.Pools.Parsing)
	}
	if got.Pools.Capture != def.Pools.Capture {
		t.Errorf("Pools.Capture = %d, want default %d", got.Pools.Capture, def.Pools.Capture)
	}
	if got.Breaker.ResetTimeout != 5*time.Second {
		t.Errorf("Breaker.ResetTimeout = %v, want 5s", got.Breaker.ResetTimeout)
	}
	if got.Breaker.Threshold != def.Breaker.Threshold {
		t.Errorf("Breaker.Threshold = %d, want default %d", got.Breaker.Threshold, def.Breaker.Threshold)
	}
	if got.DLQ.MaxRetries != 7 || got.DLQ.Capacity != def.DLQ.Capacity {
		t.Errorf("DLQ = %+v", got.DLQ)
	}
	if got.ReportInterval != time.Second {
		t.Errorf("ReportInterval = %v, want 1s", got.ReportInterval)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("overlaid config invalid: %v", err)
	}
}

func TestConfig_Sink(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Backend: "sqlite", Path: "/tmp/frames.db", Dataset: "d"}}
	got := cfg.Sink()
	if got.Backend != sink.BackendSQLite || got.Path != "/tmp/frames.db" || got.Dataset != "d" {
		t.Errorf("Sink() = %+v", got)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packetline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
