package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trinhhung12345/data-warehouse/internal/cursor"
	"github.com/trinhhung12345/data-warehouse/internal/queue"
)

type fakeWarehouse struct {
	max int64
	err error
}

func (f fakeWarehouse) MaxSourceTripID(context.Context) (int64, error) { return f.max, f.err }

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

	stream := queue.NewStream(client, queue.Options{Name: "stream:fact_trips_real", Group: "dwh_group", Consumer: "worker_jet"})
	require.NoError(t, stream.EnsureGroup(context.Background()))
	return harness{mr: mr, cursor: cursor.NewStore(client, "etl:state:last_trip_id"), stream: stream}
}

func (h harness) publish(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := h.stream.Publish(context.Background(), [][]string{{"trip_id", "1"}})
		require.NoError(t, err)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 250))
	h.publish(t, 3)

	_, err := h.stream.Read(ctx, 2, 0)
	require.NoError(t, err)

	a := New(h.cursor, h.stream, fakeWarehouse{max: 240}, zaptest.NewLogger(t))
	st, err := a.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, "stream:fact_trips_real", st.Stream)
	assert.Equal(t, int64(250), st.Cursor)
	assert.Equal(t, int64(3), st.StreamLength)
	assert.Equal(t, int64(2), st.Pending)
	require.NotNil(t, st.LoadedMaxTripID)
	assert.Equal(t, int64(240), *st.LoadedMaxTripID)
}

func TestStatusWithoutWarehouse(t *testing.T) {
	h := newHarness(t)

	st, err := New(h.cursor, h.stream, nil, nil).Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Cursor)
	assert.Nil(t, st.LoadedMaxTripID)
}

func TestSyncCursorLowersToLoaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 5000))
	a := New(h.cursor, h.stream, fakeWarehouse{max: 4200}, zaptest.NewLogger(t))

	before, after, err := a.SyncCursor(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), before)
	assert.Equal(t, int64(4200), after)
	got, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got, "dry run leaves the cursor alone")

	_, _, err = a.SyncCursor(ctx, false)
	require.NoError(t, err)
	got, err = h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), got)
}

func TestSyncCursorWarehouseError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 10))
	a := New(h.cursor, h.stream, fakeWarehouse{err: errors.New("down")}, nil)

	_, _, err := a.SyncCursor(ctx, false)
	require.Error(t, err)
	got, err := h.cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cursor.Set(ctx, 99))
	h.publish(t, 2)

	require.NoError(t, New(h.cursor, h.stream, nil, zaptest.NewLogger(t)).Reset(ctx))
	assert.False(t, h.mr.Exists("stream:fact_trips_real"))
	assert.False(t, h.mr.Exists("etl:state:last_trip_id"))
}

func TestPurgeQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, 4)

	n, err := New(h.cursor, h.stream, nil, zaptest.NewLogger(t)).PurgeQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	length, err := h.stream.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}
