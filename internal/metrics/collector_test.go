package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector()

	c.RecordPublished(5, 105)
	c.RecordLoad(10, 8, 1, 1)
	c.RecordUnknownMembers("driver", 2)
	c.RecordUnknownMembers("driver", 0)
	c.RecordSync("driver", 3, 1)
	c.RecordThrottle("critical")
	c.ObserveStep("loader", 20*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.rowsPublished))
	assert.Equal(t, 105.0, testutil.ToFloat64(c.cursor))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.factsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.factDuplicates))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.unknownMembers.WithLabelValues("driver")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dimensionAdded.WithLabelValues("driver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.throttles.WithLabelValues("critical")))
}

func TestSetStateIsExclusive(t *testing.T) {
	c := NewCollector()
	states := []string{"IDLE", "SCANNING", "LOADING"}

	c.SetState("loader", states, "SCANNING")
	c.SetState("loader", states, "LOADING")

	assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("loader", "SCANNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("loader", "LOADING")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordPublished(1, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etl_extractor_rows_published_total 1")
}
