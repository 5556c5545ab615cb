// Package metrics exposes the pipeline's Prometheus instruments on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages all metrics for the pipeline components
type Collector struct {
	registry *prometheus.Registry

	// Extractor
	rowsPublished prometheus.Counter
	batchesEmpty  prometheus.Counter
	throttles     *prometheus.CounterVec
	cursor        prometheus.Gauge
	backlog       prometheus.Gauge

	// Loader
	entriesReceived prometheus.Counter
	factsLoaded     prometheus.Counter
	factDuplicates  prometheus.Counter
	entriesRejected prometheus.Counter
	fieldsCoerced   *prometheus.CounterVec
	unknownMembers  *prometheus.CounterVec
	foldCollisions  prometheus.Counter
	batchesFailed   prometheus.Counter

	// Dimension sync
	dimensionAdded   *prometheus.CounterVec
	dimensionUpdated *prometheus.CounterVec
	dimensionSkipped *prometheus.CounterVec

	// Shared
	errorsTotal  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	state        *prometheus.GaugeVec
}

// NewCollector creates a collector and registers every instrument
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		rowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_extractor_rows_published_total",
			Help: "Trip rows published to the stream",
		}),
		batchesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_extractor_empty_scans_total",
			Help: "Scans that found no rows past the cursor",
		}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_extractor_throttles_total",
			Help: "Backpressure pauses by level",
		}, []string{"level"}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_extractor_cursor",
			Help: "Last published source trip id",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_queue_backlog",
			Help: "Stream length observed before the last scan",
		}),

		entriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_entries_received_total",
			Help: "Stream entries delivered to the loader",
		}),
		factsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_facts_loaded_total",
			Help: "Fact rows inserted into the warehouse",
		}),
		factDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_fact_duplicates_total",
			Help: "Redelivered facts skipped by the unique source id",
		}),
		entriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_entries_rejected_total",
			Help: "Entries without a usable trip id",
		}),
		fieldsCoerced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_loader_fields_coerced_total",
			Help: "Malformed fields replaced by defaults",
		}, []string{"field"}),
		unknownMembers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_loader_unknown_members_total",
			Help: "References resolved to the unknown member",
		}, []string{"dimension"}),
		foldCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_fold_collisions_total",
			Help: "Trip ids in one batch that fold onto the same CRM id",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_loader_batches_failed_total",
			Help: "Batches left unacknowledged after a failure",
		}),

		dimensionAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_dimsync_rows_added_total",
			Help: "New dimension members inserted",
		}, []string{"dimension"}),
		dimensionUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_dimsync_rows_updated_total",
			Help: "Dimension members versioned after a change",
		}, []string{"dimension"}),
		dimensionSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_dimsync_skipped_total",
			Help: "Dimension syncs skipped because of configuration errors",
		}, []string{"dimension"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_errors_total",
			Help: "Errors by component and kind",
		}, []string{"component", "kind"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_step_duration_seconds",
			Help:    "Duration of one scheduler step",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"component"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_scheduler_state",
			Help: "1 for the state each component is currently in",
		}, []string{"component", "state"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.rowsPublished, c.batchesEmpty, c.throttles, c.cursor, c.backlog,
		c.entriesReceived, c.factsLoaded, c.factDuplicates, c.entriesRejected,
		c.fieldsCoerced, c.unknownMembers, c.foldCollisions, c.batchesFailed,
		c.dimensionAdded, c.dimensionUpdated, c.dimensionSkipped,
		c.errorsTotal, c.stepDuration, c.state,
	)

	return c
}

// Registry returns the private registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPublished records a published batch and the advanced cursor
func (c *Collector) RecordPublished(rows int, cursor int64) {
	c.rowsPublished.Add(float64(rows))
	c.cursor.Set(float64(cursor))
}

// RecordEmptyScan counts a scan that found nothing new
func (c *Collector) RecordEmptyScan() {
	c.batchesEmpty.Inc()
}

// RecordBacklog sets the observed stream length
func (c *Collector) RecordBacklog(n int64) {
	c.backlog.Set(float64(n))
}

// RecordThrottle counts a backpressure pause
func (c *Collector) RecordThrottle(level string) {
	c.throttles.WithLabelValues(level).Inc()
}

// RecordLoad records the outcome of one acknowledged loader batch
func (c *Collector) RecordLoad(received, loaded, duplicates, rejected int) {
	c.entriesReceived.Add(float64(received))
	c.factsLoaded.Add(float64(loaded))
	c.factDuplicates.Add(float64(duplicates))
	c.entriesRejected.Add(float64(rejected))
}

// RecordCoerced counts a malformed field
func (c *Collector) RecordCoerced(field string) {
	c.fieldsCoerced.WithLabelValues(field).Inc()
}

// RecordUnknownMembers counts references resolved to the unknown member
func (c *Collector) RecordUnknownMembers(dimension string, n int) {
	if n > 0 {
		c.unknownMembers.WithLabelValues(dimension).Add(float64(n))
	}
}

// RecordFoldCollisions counts aliased CRM trip ids
func (c *Collector) RecordFoldCollisions(n int) {
	c.foldCollisions.Add(float64(n))
}

// RecordBatchFailed counts a batch that was not acknowledged
func (c *Collector) RecordBatchFailed() {
	c.batchesFailed.Inc()
}

// RecordSync records one dimension sync result
func (c *Collector) RecordSync(dimension string, added, updated int) {
	c.dimensionAdded.WithLabelValues(dimension).Add(float64(added))
	c.dimensionUpdated.WithLabelValues(dimension).Add(float64(updated))
}

// RecordSyncSkipped counts a dimension skipped for the cycle
func (c *Collector) RecordSyncSkipped(dimension string) {
	c.dimensionSkipped.WithLabelValues(dimension).Inc()
}

// RecordError counts an error by component and kind
func (c *Collector) RecordError(component, kind string) {
	c.errorsTotal.WithLabelValues(component, kind).Inc()
}

// ObserveStep records the duration of one scheduler step
func (c *Collector) ObserveStep(component string, d time.Duration) {
	c.stepDuration.WithLabelValues(component).Observe(d.Seconds())
}

// SetState marks state as the current state of component
func (c *Collector) SetState(component string, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(component, s).Set(v)
	}
}
