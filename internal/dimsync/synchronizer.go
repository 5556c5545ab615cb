// Package dimsync keeps the warehouse dimensions in step with their source
// systems. SCD2 dimensions get a new version when a tracked attribute
// changes; insert-only dimensions only gain unseen members.
package dimsync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/model"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
	"github.com/trinhhung12345/data-warehouse/internal/warehouse"
)

// Source returns the full snapshot of a dimension
type Source interface {
	Records(ctx context.Context, dim model.Dimension) ([]model.Record, error)
}

// Warehouse reads and versions dimension tables
type Warehouse interface {
	CurrentMembers(ctx context.Context, spec model.DimensionSpec) (map[string][]string, error)
	MergeDimension(ctx context.Context, spec model.DimensionSpec, added, changed []model.Record, now time.Time) (warehouse.MergeResult, error)
}

// Config holds synchronizer settings
type Config struct {
	// Dimensions limits a cycle to these dimensions. Empty means all.
	Dimensions []model.Dimension
	Cooldown   time.Duration
}

// SyncResult counts the outcome of one dimension sync
type SyncResult struct {
	Dimension model.Dimension `json:"dimension"`
	Added     int             `json:"added"`
	Updated   int             `json:"updated"`
	Skipped   bool            `json:"skipped,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// CycleResult is the outcome of one pass over the dimensions
type CycleResult struct {
	Results  []SyncResult  `json:"results"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Synchronizer runs dimension syncs in a fixed order
type Synchronizer struct {
	source    Source
	warehouse Warehouse
	order     []model.Dimension
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	now       func() time.Time

	mu   sync.RWMutex
	last CycleResult
}

// New creates a synchronizer
func New(source Source, wh Warehouse, cfg Config, logger *zap.Logger, m *metrics.Collector) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	order := model.SyncOrder
	if len(cfg.Dimensions) > 0 {
		order = nil
		for _, d := range model.SyncOrder {
			if slices.Contains(cfg.Dimensions, d) {
				order = append(order, d)
			}
		}
	}
	return &Synchronizer{
		source:    source,
		warehouse: wh,
		order:     order,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// ParseDimensions validates configured dimension names
func ParseDimensions(names []string) ([]model.Dimension, error) {
	out := make([]model.Dimension, 0, len(names))
	for _, n := range names {
		d := model.Dimension(n)
		if _, ok := model.SpecFor(d); !ok {
			return nil, etlerr.FatalConfig("parse dimensions", fmt.Errorf("unknown dimension %q", n))
		}
		out = append(out, d)
	}
	return out, nil
}

// Order returns the dimensions of a cycle in sync order
func (s *Synchronizer) Order() []model.Dimension {
	return slices.Clone(s.order)
}

// Diff compares a source snapshot with the current warehouse members. Source
// records with an unknown business key are ignored, and the first record of
// a repeated key wins. Tracked changes are reported only for SCD2 dimensions.
func Diff(spec model.DimensionSpec, source []model.Record, current map[string][]string) (added, changed []model.Record) {
	seen := make(map[string]bool, len(source))
	for _, r := range source {
		key := r.BusinessKey()
		if !model.IsKnownKey(key) || seen[key] {
			continue
		}
		seen[key] = true

		tracked, ok := current[key]
		if !ok {
			added = append(added, r)
			continue
		}
		if spec.Policy == model.PolicySCD2 && !slices.Equal(tracked, r.TrackedValues()) {
			changed = append(changed, r)
		}
	}
	return added, changed
}

// Sync brings one dimension up to date with its source
func (s *Synchronizer) Sync(ctx context.Context, dim model.Dimension) (SyncResult, error) {
	res := SyncResult{Dimension: dim}
	spec, ok := model.SpecFor(dim)
	if !ok {
		return res, etlerr.FatalConfig("sync", fmt.Errorf("unknown dimension %q", dim))
	}

	records, err := s.source.Records(ctx, dim)
	if err != nil {
		return res, etlerr.Wrap("read source "+string(dim), err)
	}
	current, err := s.warehouse.CurrentMembers(ctx, spec)
	if err != nil {
		return res, err
	}

	added, changed := Diff(spec, records, current)
	if len(added) == 0 && len(changed) == 0 {
		return res, nil
	}

	if _, err := s.warehouse.MergeDimension(ctx, spec, added, changed, s.now().UTC()); err != nil {
		return res, err
	}
	res.Added = len(added)
	res.Updated = len(changed)
	return res, nil
}

// RunCycle syncs every configured dimension in order. A dimension whose
// table or source relation is missing is skipped; any other failure aborts
// the rest of the cycle.
func (s *Synchronizer) RunCycle(ctx context.Context) (CycleResult, error) {
	start := s.now()
	cycle := CycleResult{At: start}

	for _, dim := range s.order {
		if err := ctx.Err(); err != nil {
			return cycle, err
		}

		res, err := s.Sync(ctx, dim)
		if err != nil {
			if !etlerr.IsFatalConfig(err) {
				s.logger.Error("Dimension sync failed, aborting cycle", zap.String("dimension", string(dim)), zap.Error(err))
				return cycle, err
			}
			s.logger.Error("Skipping dimension", zap.String("dimension", string(dim)), zap.Error(err))
			s.metrics.RecordSyncSkipped(string(dim))
			s.metrics.RecordError("dimsync", string(etlerr.KindFatalConfig))
			res.Skipped = true
			res.Reason = err.Error()
		} else {
			s.metrics.RecordSync(string(dim), res.Added, res.Updated)
			s.logger.Info("Synced dimension",
				zap.String("dimension", string(dim)),
				zap.Int("added", res.Added),
				zap.Int("updated", res.Updated))
		}
		cycle.Results = append(cycle.Results, res)
	}

	cycle.Duration = s.now().Sub(start)
	s.mu.Lock()
	s.last = cycle
	s.mu.Unlock()
	return cycle, nil
}

// Step adapts RunCycle to the scheduler. Each completed cycle is followed by
// the cooldown.
func (s *Synchronizer) Step(ctx context.Context) scheduler.Outcome {
	if _, err := s.RunCycle(ctx); err != nil {
		s.metrics.RecordError("dimsync", string(etlerr.Classify(err)))
		return scheduler.Outcome{Err: err}
	}
	return scheduler.Outcome{State: scheduler.StateIdle, Wait: s.cfg.Cooldown, Reason: "cooldown"}
}

// LastCycle returns the most recent completed cycle
func (s *Synchronizer) LastCycle() CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
