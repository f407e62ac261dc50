package pool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages, in pipeline order.
const (
	StageCapture      Stage = "capture"
	StageParsing      Stage = "parsing"
	StageStorage      Stage = "storage"
	StageNotification Stage = "notification"
)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageCapture, StageParsing, StageStorage, StageNotification}
}

// StageConfig holds the worker count of each stage pool.
type StageConfig struct {
	Capture      int `yaml:"capture" json:"capture"`
	Parsing      int `yaml:"parsing" json:"parsing"`
	Storage      int `yaml:"storage" json:"storage"`
	Notification int `yaml:"notification" json:"notification"`
}

// DefaultStageConfig returns the default stage sizes.
// Notification stays single-threaded so deliveries keep their order.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		Capture:      2,
		Parsing:      4,
		Storage:      2,
		Notification: 1,
	}
}

// Validate rejects non-positive worker counts.
func (c StageConfig) Validate() error {
	var errs []error
	for _, s := range Stages() {
		if n := c.workers(s); n < 1 {
			errs = append(errs, fmt.Errorf("pool: %s workers must be positive, got %d", s, n))
		}
	}
	return errors.Join(errs...)
}

func (c StageConfig) workers(s Stage) int {
	switch s {
	case StageCapture:
		return c.Capture
	case StageParsing:
		return c.Parsing
	case StageStorage:
		return c.Storage
	default:
		return c.Notification
	}
}

// StagePools is the fixed set of stage pools.
type StagePools struct {
	pools map[Stage]*Pool
}

// NewStagePools creates one pool per stage. Options apply to every pool.
func NewStagePools(cfg StageConfig, opts ...Option) *StagePools {
	s := &StagePools{pools: make(map[Stage]*Pool, len(Stages()))}
	for _, stage := range Stages() {
		s.pools[stage] = New(string(stage), cfg.workers(stage), opts...)
	}
	return s
}

// Pool returns the pool for stage, or nil for an unknown stage.
func (s *StagePools) Pool(stage Stage) *Pool {
	return s.pools[stage]
}

// Capture returns the capture stage pool.
func (s *StagePools) Capture() *Pool { return s.pools[StageCapture] }

// Parsing returns the parsing stage pool.
func (s *StagePools) Parsing() *Pool { return s.pools[StageParsing] }

// Storage returns the storage stage pool.
func (s *StagePools) Storage() *Pool { return s.pools[StageStorage] }

// Notification returns the notification stage pool.
func (s *StagePools) Notification() *Pool { return s.pools[StageNotification] }

// StagesSnapshot is a point-in-time view of every stage pool.
type StagesSnapshot struct {
	TakenAt time.Time `json:"taken_at" yaml:"taken_at"`
	// Stages holds one entry per stage in pipeline order.
	Stages []Stats `json:"stages" yaml:"stages"`
}

// Get returns the stats of the named stage.
func (s StagesSnapshot) Get(stage Stage) (Stats, bool) {
	for _, st := range s.Stages {
		if st.Name == string(stage) {
			return st, true
		}
	}
	return Stats{}, false
}

// Snapshot reads every stage pool.
func (s *StagePools) Snapshot() StagesSnapshot {
	snap := StagesSnapshot{TakenAt: time.Now().UTC()}
	for _, stage := range Stages() {
		snap.Stages = append(snap.Stages, s.pools[stage].Stats())
	}
	return snap
}

// Shutdown shuts the pools down in pipeline order, so that output handed
// downstream by a draining stage is still accepted and executed.
func (s *StagePools) Shutdown() {
	for _, stage := range Stages() {
		s.pools[stage].Shutdown()
	}
}

// ShutdownContext is Shutdown bounded by ctx.
func (s *StagePools) ShutdownContext(ctx context.Context) error {
	for _, stage := range Stages() {
		if err := s.pools[stage].ShutdownContext(ctx); err != nil {
			return fmt.Errorf("pool: shutdown %s: %w", stage, err)
		}
	}
	return nil
}
