package sink

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/justapithecus/lode/lode"
)

// Backend names a storage implementation.
type Backend string

// Storage backends.
const (
	BackendStub   Backend = "stub"
	BackendMemory Backend = "memory"
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendSQLite Backend = "sqlite"
)

// Backends returns every supported backend.
func Backends() []Backend {
	return []Backend{BackendStub, BackendMemory, BackendFS, BackendS3, BackendSQLite}
}

// Valid reports whether b names a supported backend.
func (b Backend) Valid() bool {
	for _, known := range Backends() {
		if b == known {
			return true
		}
	}
	return false
}

// Config selects and configures a storage backend.
type Config struct {
	Backend Backend
	// Path is the fs root directory, the sqlite file, or "bucket/prefix" for s3.
	Path string
	// Dataset is the Lode dataset ID for fs, s3 and memory.
	Dataset string
	// Region is the AWS region for s3.
	Region string
	// Endpoint overrides the S3 endpoint.
	Endpoint string
	// S3PathStyle forces path-style S3 addressing.
	S3PathStyle bool
}

// Open builds the sink described by cfg.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Backend {
	case BackendStub, "":
		return NewStub(), nil
	case BackendMemory:
		return NewLode(cfg.Dataset, lode.NewMemoryFactory())
	case BackendFS:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink: fs backend requires a path")
		}
		return NewLodeFS(cfg.Dataset, cfg.Path)
	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		return NewLodeS3(ctx, cfg.Dataset, S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink: sqlite backend requires a path")
		}
		return OpenSQLite(ctx, filepath.Clean(cfg.Path))
	default:
		return nil, fmt.Errorf("sink: unknown backend %q", cfg.Backend)
	}
}
