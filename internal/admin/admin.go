// Package admin implements the operator commands behind etlctl.
package admin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/queue"
)

// Cursor is the extractor's high-water mark
type Cursor interface {
	Key() string
	Get(ctx context.Context) (int64, error)
	Set(ctx context.Context, id int64) error
	Delete(ctx context.Context) error
}

// Stream is the durable queue
type Stream interface {
	Name() string
	Len(ctx context.Context) (int64, error)
	Pending(ctx context.Context) (queue.PendingSummary, error)
	Trim(ctx context.Context, maxLen int64) (int64, error)
	Destroy(ctx context.Context) error
}

// Warehouse reports what has been loaded
type Warehouse interface {
	MaxSourceTripID(ctx context.Context) (int64, error)
}

// Status is a point-in-time view of the pipeline's queue state
type Status struct {
	Stream           string           `json:"stream"`
	CursorKey        string           `json:"cursor_key"`
	Cursor           int64            `json:"cursor"`
	StreamLength     int64            `json:"stream_length"`
	Pending          int64            `json:"pending"`
	PendingConsumers map[string]int64 `json:"pending_consumers,omitempty"`
	LoadedMaxTripID  *int64           `json:"loaded_max_trip_id,omitempty"`
	At               time.Time        `json:"at"`
}

// Admin runs operator commands
type Admin struct {
	cursor    Cursor
	stream    Stream
	warehouse Warehouse
	logger    *zap.Logger
}

// New creates an Admin. wh may be nil for commands that never touch the warehouse.
func New(cursor Cursor, stream Stream, wh Warehouse, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{cursor: cursor, stream: stream, warehouse: wh, logger: logger}
}

// Status reads the cursor, stream length and pending summary
func (a *Admin) Status(ctx context.Context) (Status, error) {
	st := Status{Stream: a.stream.Name(), CursorKey: a.cursor.Key(), At: time.Now().UTC()}

	var err error
	if st.Cursor, err = a.cursor.Get(ctx); err != nil {
		return st, err
	}
	if st.StreamLength, err = a.stream.Len(ctx); err != nil {
		return st, err
	}
	pending, err := a.stream.Pending(ctx)
	if err != nil {
		return st, err
	}
	st.Pending = pending.Count
	st.PendingConsumers = pending.Consumers

	if a.warehouse != nil {
		loaded, err := a.warehouse.MaxSourceTripID(ctx)
		if err != nil {
			return st, err
		}
		st.LoadedMaxTripID = &loaded
	}
	return st, nil
}

// SyncCursor resets the cursor to the highest loaded trip id so extraction
// resumes right after what the warehouse already holds. It returns the
// previous and new cursor. With dryRun the cursor is left untouched.
func (a *Admin) SyncCursor(ctx context.Context, dryRun bool) (before, after int64, err error) {
	if before, err = a.cursor.Get(ctx); err != nil {
		return 0, 0, err
	}
	if after, err = a.warehouse.MaxSourceTripID(ctx); err != nil {
		return before, 0, err
	}
	if dryRun {
		return before, after, nil
	}
	if err := a.cursor.Set(ctx, after); err != nil {
		return before, 0, err
	}
	a.logger.Info("Cursor synchronized with warehouse",
		zap.String("key", a.cursor.Key()),
		zap.Int64("before", before),
		zap.Int64("after", after))
	return before, after, nil
}

// Reset deletes the stream, its consumer group and the cursor. The next
// extraction starts from the first trip.
func (a *Admin) Reset(ctx context.Context) error {
	if err := a.stream.Destroy(ctx); err != nil {
		return err
	}
	if err := a.cursor.Delete(ctx); err != nil {
		return err
	}
	a.logger.Warn("Stream and cursor deleted", zap.String("stream", a.stream.Name()), zap.String("key", a.cursor.Key()))
	return nil
}

// PurgeQueue drops every entry of the stream and keeps the consumer group
func (a *Admin) PurgeQueue(ctx context.Context) (int64, error) {
	n, err := a.stream.Trim(ctx, 0)
	if err != nil {
		return 0, err
	}
	a.logger.Warn("Stream purged", zap.String("stream", a.stream.Name()), zap.Int64("removed", n))
	return n, nil
}
