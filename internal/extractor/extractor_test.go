package extractor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trinhhung12345/data-warehouse/internal/cursor"
	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/model"
	"github.com/trinhhung12345/data-warehouse/internal/queue"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
)

// fakeSource serves trips from memory the way the ops query does
type fakeSource struct {
	trips []model.SourceTrip
	calls int
	err   error
}

func (f *fakeSource) TripsAfter(_ context.Context, after int64, limit int) ([]model.SourceTrip, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.SourceTrip
	for _, t := range f.trips {
		if t.TripID > after && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func tripsRange(from, to int64) []model.SourceTrip {
	var out []model.SourceTrip
	for id := from; id <= to; id++ {
		out = append(out, model.SourceTrip{
			TripID:     id,
			DriverID:   sql.NullString{String: "5", Valid: true},
			FareAmount: sql.NullFloat64{Float64: 9.5, Valid: true},
		})
	}
	return out
}

type harness struct {
	mr     *miniredis.Miniredis
	cursor *cursor.Store
	stream *queue.Stream
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stream := queue.NewStream(client, queue.Options{
		Name:     "stream:fact_trips_real",
		Group:    "dwh_group",
		Consumer: "worker_jet",
	})
	require.NoError(t, stream.EnsureGroup(context.Background()))
	return harness{mr: mr, cursor: cursor.NewStore(client, "etl:state:last_trip_id"), stream: stream}
}

func testConfig() Config {
	return Config{
		BatchSize:    1000,
		IdleInterval: 5 * time.Second,
		Backpressure: Backpressure{
			Warning:       3,
			Critical:      10,
			ShortPause:    100 * time.Millisecond,
			CriticalPause: time.Second,
			MaxPause:      5 * time.Second,
		},
	}
}

func TestPublishesTripsPastCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 100))

	src := &fakeSource{trips: tripsRange(95, 105)}
	cfg := testConfig()
	cfg.Backpressure.Warning = 100
	cfg.Backpressure.Critical = 200
	ex := New(src, h.cursor, h.stream, cfg, zaptest.NewLogger(t), metrics.NewCollector())

	res, err := ex.ExtractAndPublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatePublishing, res.State)
	assert.Equal(t, 5, res.Published)
	assert.Equal(t, int64(100), res.FromCursor)
	assert.Equal(t, int64(105), res.Cursor)
	assert.Equal(t, LevelNone, res.Level)
	assert.Zero(t, res.Wait)

	cur, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(105), cur)

	n, err := h.stream.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	msgs, err := h.stream.Read(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "101", msgs[0].Fields[model.FieldTripID])
	assert.Equal(t, "105", msgs[4].Fields[model.FieldTripID])
	assert.Equal(t, "9.5", msgs[0].Fields[model.FieldFareAmount])
	assert.Equal(t, "", msgs[0].Fields[model.FieldCustomerID])

	assert.Equal(t, res, ex.LastResult())
}

func TestIdleWhenNothingNew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 105))

	ex := New(&fakeSource{trips: tripsRange(101, 105)}, h.cursor, h.stream, testConfig(), zaptest.NewLogger(t), nil)

	out := ex.Step(ctx)
	require.NoError(t, out.Err)
	assert.Equal(t, scheduler.StateIdle, out.State)
	assert.Equal(t, 5*time.Second, out.Wait)

	cur, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(105), cur)
}

func TestCriticalBacklogSkipsFetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := h.stream.Publish(ctx, [][]string{{"trip_id", "1"}})
		require.NoError(t, err)
	}

	src := &fakeSource{trips: tripsRange(1, 5)}
	ex := New(src, h.cursor, h.stream, testConfig(), zaptest.NewLogger(t), nil)

	res, err := ex.ExtractAndPublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateThrottled, res.State)
	assert.Equal(t, LevelCritical, res.Level)
	assert.Equal(t, 2*time.Second, res.Wait)
	assert.Equal(t, 0, src.calls)

	cur, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)
}

func TestWarningBacklogPublishesThenPauses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.stream.Publish(ctx, [][]string{{"trip_id", "1"}, {"trip_id", "2"}, {"trip_id", "3"}})
	require.NoError(t, err)

	ex := New(&fakeSource{trips: tripsRange(4, 6)}, h.cursor, h.stream, testConfig(), zaptest.NewLogger(t), nil)

	res, err := ex.ExtractAndPublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatePublishing, res.State)
	assert.Equal(t, LevelWarning, res.Level)
	assert.Equal(t, 100*time.Millisecond, res.Wait)
	assert.Equal(t, int64(6), res.Cursor)
}

// failingQueue accepts length queries but rejects every publish
type failingQueue struct{}

func (failingQueue) Len(context.Context) (int64, error) { return 0, nil }
func (failingQueue) Publish(context.Context, [][]string) ([]string, error) {
	return nil, etlerr.Transient("publish entries", errors.New("connection reset"))
}

func TestPublishFailureKeepsCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 100))

	ex := New(&fakeSource{trips: tripsRange(101, 105)}, h.cursor, failingQueue{}, testConfig(), zaptest.NewLogger(t), nil)

	out := ex.Step(ctx)
	require.Error(t, out.Err)
	assert.True(t, etlerr.IsTransient(out.Err))

	cur, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cur)
}

func TestSourceFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{err: etlerr.FatalConfig("query trips", errors.New(`relation "trips" does not exist`))}
	ex := New(src, h.cursor, h.stream, testConfig(), zaptest.NewLogger(t), nil)

	out := ex.Step(context.Background())
	require.Error(t, out.Err)
	assert.True(t, etlerr.IsFatalConfig(out.Err))
}

func TestStaleCursorRepublishesWithoutSkipping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := &fakeSource{trips: tripsRange(1, 4)}
	cfg := testConfig()
	cfg.Backpressure.Warning = 100
	cfg.Backpressure.Critical = 200
	ex := New(src, h.cursor, h.stream, cfg, zaptest.NewLogger(t), nil)

	_, err := ex.ExtractAndPublish(ctx)
	require.NoError(t, err)

	// simulate a crash after publish but before the cursor write
	require.NoError(t, h.cursor.Set(ctx, 2))
	src.trips = tripsRange(1, 6)

	res, err := ex.ExtractAndPublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Published)
	assert.Equal(t, int64(6), res.Cursor)

	n, err := h.stream.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}
