// Package extractor publishes new source trips to the durable queue and
// advances the cursor once the publish has succeeded.
package extractor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/model"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
)

// TripSource reads trips past a cursor
type TripSource interface {
	TripsAfter(ctx context.Context, after int64, limit int) ([]model.SourceTrip, error)
}

// Cursor is the persisted high-water mark
type Cursor interface {
	Get(ctx context.Context) (int64, error)
	Advance(ctx context.Context, id int64) (int64, error)
}

// Queue is the durable queue the extractor appends to
type Queue interface {
	Len(ctx context.Context) (int64, error)
	Publish(ctx context.Context, entries [][]string) ([]string, error)
}

// Config holds extractor settings
type Config struct {
	BatchSize    int
	IdleInterval time.Duration
	Backpressure Backpressure
}

// BatchResult describes one ExtractAndPublish call
type BatchResult struct {
	State      scheduler.State `json:"state"`
	Published  int             `json:"published"`
	FromCursor int64           `json:"from_cursor"`
	Cursor     int64           `json:"cursor"`
	Backlog    int64           `json:"backlog"`
	Level      Level           `json:"level"`
	Wait       time.Duration   `json:"wait"`
	At         time.Time       `json:"at"`
}

// Extractor moves trips from the source store into the queue
type Extractor struct {
	source  TripSource
	cursor  Cursor
	queue   Queue
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector

	mu   sync.RWMutex
	last BatchResult
}

// New creates an extractor
func New(source TripSource, cursor Cursor, queue Queue, cfg Config, logger *zap.Logger, m *metrics.Collector) *Extractor {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Extractor{
		source:  source,
		cursor:  cursor,
		queue:   queue,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// ExtractAndPublish runs one scan. When the backlog is critical nothing is
// fetched. Otherwise trips past the cursor are published in one pipeline and
// the cursor is advanced to the highest published id. Any failure returns
// before the cursor moves.
func (e *Extractor) ExtractAndPublish(ctx context.Context) (BatchResult, error) {
	res := BatchResult{At: time.Now()}

	backlog, err := e.queue.Len(ctx)
	if err != nil {
		return res, err
	}
	res.Backlog = backlog
	e.metrics.RecordBacklog(backlog)

	level, pause := e.cfg.Backpressure.Evaluate(backlog)
	res.Level = level
	if level == LevelCritical {
		e.metrics.RecordThrottle(string(level))
		res.State = scheduler.StateThrottled
		res.Wait = pause
		e.logger.Warn("Queue backlog critical, pausing extraction",
			zap.Int64("backlog", backlog),
			zap.Duration("pause", pause))
		return e.remember(res), nil
	}

	from, err := e.cursor.Get(ctx)
	if err != nil {
		return res, err
	}
	res.FromCursor = from
	res.Cursor = from

	trips, err := e.source.TripsAfter(ctx, from, e.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	if len(trips) == 0 {
		e.metrics.RecordEmptyScan()
		res.State = scheduler.StateIdle
		res.Wait = e.cfg.IdleInterval
		return e.remember(res), nil
	}

	entries := make([][]string, len(trips))
	maxID := from
	for i, t := range trips {
		entries[i] = t.Fields()
		if t.TripID > maxID {
			maxID = t.TripID
		}
	}

	if _, err := e.queue.Publish(ctx, entries); err != nil {
		return res, err
	}

	stored, err := e.cursor.Advance(ctx, maxID)
	if err != nil {
		return res, err
	}

	res.State = scheduler.StatePublishing
	res.Published = len(trips)
	res.Cursor = stored
	if level == LevelWarning {
		e.metrics.RecordThrottle(string(level))
		res.Wait = pause
	}
	e.metrics.RecordPublished(len(trips), stored)

	e.logger.Info("Published trips",
		zap.Int("count", len(trips)),
		zap.Int64("from_cursor", from),
		zap.Int64("cursor", stored),
		zap.Int64("backlog", backlog),
		zap.String("backpressure", string(level)))

	return e.remember(res), nil
}

// Step adapts ExtractAndPublish to the scheduler
func (e *Extractor) Step(ctx context.Context) scheduler.Outcome {
	res, err := e.ExtractAndPublish(ctx)
	if err != nil {
		kind := etlerr.Classify(err)
		e.metrics.RecordError("extractor", string(kind))
		if kind == etlerr.KindFatalConfig {
			e.logger.Error("Extraction misconfigured", zap.Error(err))
		}
		return scheduler.Outcome{Err: err}
	}
	return scheduler.Outcome{State: res.State, Wait: res.Wait, Reason: string(res.Level)}
}

// LastResult returns the most recent successful scan
func (e *Extractor) LastResult() BatchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Extractor) remember(res BatchResult) BatchResult {
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	return res
}
