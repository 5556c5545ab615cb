// Package loader consumes queued trips, resolves their business keys to
// warehouse surrogate keys and writes fact rows. A batch is acknowledged only
// after its facts are committed.
package loader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/model"
	"github.com/trinhhung12345/data-warehouse/internal/queue"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
	"github.com/trinhhung12345/data-warehouse/internal/warehouse"
)

// Queue is the consumer side of the durable queue
type Queue interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, ids []string) (int64, error)
}

// Warehouse resolves surrogate keys and stores facts
type Warehouse interface {
	LookupKeys(ctx context.Context, spec model.DimensionSpec, keys []string) (map[string]int64, error)
	InsertFacts(ctx context.Context, facts []model.Fact) (warehouse.InsertResult, error)
}

// Reference is the CRM data used to enrich facts
type Reference interface {
	DriverPerformance(ctx context.Context, keys []model.PerformanceKey) (map[model.PerformanceKey]model.Performance, error)
	PromotionsForTrips(ctx context.Context, crmTripIDs []int64) (map[int64]string, error)
}

// Config holds loader settings
type Config struct {
	Count       int64
	Block       time.Duration
	// IdleWait is spent in IDLE after an empty read, on top of Block.
	IdleWait    time.Duration
	FoldModulus int64
}

// Trace follows one trip of a batch across the source, CRM and warehouse ids
type Trace struct {
	SourceTripID int64  `json:"source_trip_id"`
	CRMTripID    int64  `json:"crm_trip_id"`
	PromotionID  string `json:"promotion_id,omitempty"`
	DriverKey    int64  `json:"driver_key"`
	PromotionKey int64  `json:"promotion_key"`
}

// LoadResult describes one ConsumeBatch call
type LoadResult struct {
	State          scheduler.State `json:"state"`
	Received       int             `json:"received"`
	Loaded         int64           `json:"loaded"`
	Duplicates     int64           `json:"duplicates"`
	Rejected       int             `json:"rejected"`
	Coerced        int             `json:"coerced"`
	UnknownMembers map[string]int  `json:"unknown_members,omitempty"`
	FoldCollisions int             `json:"fold_collisions"`
	Sample         *Trace          `json:"sample,omitempty"`
	At             time.Time       `json:"at"`
}

// Loader turns stream entries into fact rows
type Loader struct {
	queue     Queue
	warehouse Warehouse
	reference Reference
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu   sync.RWMutex
	last LoadResult
}

// New creates a loader
func New(q Queue, wh Warehouse, ref Reference, cfg Config, logger *zap.Logger, m *metrics.Collector) *Loader {
	if cfg.Count < 1 {
		cfg.Count = 1000
	}
	if cfg.FoldModulus < 1 {
		cfg.FoldModulus = model.DefaultFoldModulus
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Loader{
		queue:     q,
		warehouse: wh,
		reference: ref,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// ConsumeBatch reads one batch, loads it and acknowledges it. On any error
// before the facts are committed nothing is acknowledged and the same
// entries are delivered again by the next call.
func (l *Loader) ConsumeBatch(ctx context.Context) (LoadResult, error) {
	res := LoadResult{At: time.Now()}

	msgs, err := l.queue.Read(ctx, l.cfg.Count, l.cfg.Block)
	if err != nil {
		return res, err
	}
	if len(msgs) == 0 {
		res.State = scheduler.StateIdle
		return l.remember(res), nil
	}
	res.Received = len(msgs)

	ids := make([]string, len(msgs))
	trips := make([]model.Trip, 0, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
		trip, coercions, err := model.ParseTrip(msg.ID, msg.Fields)
		if err != nil {
			res.Rejected++
			l.logger.Warn("Rejected stream entry", zap.String("entry", msg.ID), zap.Error(err))
			continue
		}
		for _, c := range coercions {
			l.metrics.RecordCoerced(c.Field)
		}
		res.Coerced += len(coercions)
		trips = append(trips, trip)
	}

	facts, res, err := l.resolve(ctx, trips, res)
	if err != nil {
		l.metrics.RecordBatchFailed()
		return res, err
	}

	inserted, err := l.warehouse.InsertFacts(ctx, facts)
	if err != nil {
		l.metrics.RecordBatchFailed()
		l.logger.Error("Fact insert failed, batch left pending",
			zap.Int("entries", len(msgs)),
			zap.String("first_entry", ids[0]),
			zap.Error(err))
		return res, err
	}
	res.Loaded = inserted.Inserted
	res.Duplicates = inserted.Duplicates

	if _, err := l.queue.Ack(ctx, ids); err != nil {
		return res, err
	}

	res.State = scheduler.StateLoading
	l.metrics.RecordLoad(res.Received, int(res.Loaded), int(res.Duplicates), res.Rejected)
	for dim, n := range res.UnknownMembers {
		l.metrics.RecordUnknownMembers(dim, n)
	}
	l.metrics.RecordFoldCollisions(res.FoldCollisions)

	l.logger.Info("Loaded batch",
		zap.Int("received", res.Received),
		zap.Int64("loaded", res.Loaded),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int("rejected", res.Rejected),
		zap.Int("coerced", res.Coerced),
		zap.Any("unknown_members", res.UnknownMembers))
	if res.Sample != nil {
		l.logger.Debug("Trace sample",
			zap.Int64("source_trip_id", res.Sample.SourceTripID),
			zap.Int64("crm_trip_id", res.Sample.CRMTripID),
			zap.String("promotion_id", res.Sample.PromotionID),
			zap.Int64("driver_key", res.Sample.DriverKey),
			zap.Int64("promotion_key", res.Sample.PromotionKey))
	}

	return l.remember(res), nil
}

// resolve builds facts for trips with one bulk query per lookup
func (l *Loader) resolve(ctx context.Context, trips []model.Trip, res LoadResult) ([]model.Fact, LoadResult, error) {
	res.UnknownMembers = make(map[string]int)
	if len(trips) == 0 {
		return nil, res, nil
	}

	perfKeys := make([]model.PerformanceKey, len(trips))
	var drivers, customers, vehicles, locations []string
	for i, t := range trips {
		perfKeys[i] = model.PerformanceKey{DriverID: t.DriverID, Period: t.PerformancePeriod()}
		drivers = append(drivers, t.DriverID)
		customers = append(customers, t.CustomerID)
		vehicles = append(vehicles, t.VehicleID)
		locations = append(locations, t.PickupLocationID, t.DropoffLocationID)
	}

	perf, err := l.reference.DriverPerformance(ctx, perfKeys)
	if err = l.degrade("driver performance", err); err != nil {
		return nil, res, err
	}

	driverKeys, err := l.lookup(ctx, model.DimDriver, drivers)
	if err != nil {
		return nil, res, err
	}
	customerKeys, err := l.lookup(ctx, model.DimCustomer, customers)
	if err != nil {
		return nil, res, err
	}
	vehicleKeys, err := l.lookup(ctx, model.DimVehicle, vehicles)
	if err != nil {
		return nil, res, err
	}
	locationKeys, err := l.lookup(ctx, model.DimLocation, locations)
	if err != nil {
		return nil, res, err
	}

	crmIDs, collisions := foldTripIDs(trips, l.cfg.FoldModulus)
	res.FoldCollisions = collisions
	if collisions > 0 {
		l.logger.Warn("Trip ids alias onto the same CRM id", zap.Int("collisions", collisions))
	}
	unique := make([]int64, 0, len(crmIDs))
	seen := make(map[int64]bool, len(crmIDs))
	for _, id := range crmIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	promoByCRM, err := l.reference.PromotionsForTrips(ctx, unique)
	if err = l.degrade("trip feedback", err); err != nil {
		return nil, res, err
	}
	promoIDs := make([]string, 0, len(promoByCRM))
	for _, p := range promoByCRM {
		promoIDs = append(promoIDs, p)
	}
	promotionKeys, err := l.lookup(ctx, model.DimPromotion, promoIDs)
	if err != nil {
		return nil, res, err
	}

	facts := make([]model.Fact, len(trips))
	for i, t := range trips {
		f := model.NewFact(t)
		f.DriverKey = resolveKey(driverKeys, t.DriverID, model.DimDriver, res.UnknownMembers)
		f.CustomerKey = resolveKey(customerKeys, t.CustomerID, model.DimCustomer, res.UnknownMembers)
		f.VehicleKey = resolveKey(vehicleKeys, t.VehicleID, model.DimVehicle, res.UnknownMembers)
		f.PickupLocationKey = resolveKey(locationKeys, t.PickupLocationID, model.DimLocation, res.UnknownMembers)
		f.DropoffLocationKey = resolveKey(locationKeys, t.DropoffLocationID, model.DimLocation, res.UnknownMembers)

		promoID, hasPromo := promoByCRM[crmIDs[i]]
		if hasPromo {
			f.PromotionKey = resolveKey(promotionKeys, promoID, model.DimPromotion, res.UnknownMembers)
		}

		if p, ok := perf[model.PerformanceKey{DriverID: t.DriverID, Period: t.PerformancePeriod()}]; ok {
			f.AverageRating = p.AverageRating
			f.AcceptanceRate = p.AcceptanceRate
		}
		facts[i] = f

		if i == 0 {
			res.Sample = &Trace{
				SourceTripID: t.TripID,
				CRMTripID:    crmIDs[i],
				PromotionID:  promoID,
				DriverKey:    f.DriverKey,
				PromotionKey: f.PromotionKey,
			}
		}
	}
	return facts, res, nil
}

// lookup resolves keys of one dimension. A missing dimension table degrades
// every key of that dimension to the unknown member for this batch.
func (l *Loader) lookup(ctx context.Context, dim model.Dimension, keys []string) (map[string]int64, error) {
	found, err := l.warehouse.LookupKeys(ctx, model.MustSpec(dim), keys)
	if err = l.degrade("lookup "+string(dim), err); err != nil {
		return nil, err
	}
	if found == nil {
		found = map[string]int64{}
	}
	return found, nil
}

func (l *Loader) degrade(what string, err error) error {
	if err == nil {
		return nil
	}
	if etlerr.IsFatalConfig(err) {
		l.metrics.RecordError("loader", string(etlerr.KindFatalConfig))
		l.logger.Error("Reference data unavailable, using unknown members", zap.String("source", what), zap.Error(err))
		return nil
	}
	return err
}

// resolveKey returns the surrogate key of a business key or the unknown
// member. Known keys without a match are counted as resolution misses.
func resolveKey(keys map[string]int64, businessKey string, dim model.Dimension, misses map[string]int) int64 {
	if !model.IsKnownKey(businessKey) {
		return model.UnknownMemberKey
	}
	if k, ok := keys[businessKey]; ok {
		return k
	}
	misses[string(dim)]++
	return model.UnknownMemberKey
}

// foldTripIDs folds every trip id into the CRM id space and counts trips
// whose folded id is already taken by another trip of the batch
func foldTripIDs(trips []model.Trip, modulus int64) ([]int64, int) {
	ids := make([]int64, len(trips))
	owner := make(map[int64]int64, len(trips))
	collisions := 0
	for i, t := range trips {
		ids[i] = model.FoldTripID(t.TripID, modulus)
		if prev, ok := owner[ids[i]]; ok && prev != t.TripID {
			collisions++
			continue
		}
		owner[ids[i]] = t.TripID
	}
	return ids, collisions
}

// Step adapts ConsumeBatch to the scheduler
func (l *Loader) Step(ctx context.Context) scheduler.Outcome {
	res, err := l.ConsumeBatch(ctx)
	if err != nil {
		l.metrics.RecordError("loader", string(etlerr.Classify(err)))
		return scheduler.Outcome{Err: err}
	}
	if res.State == scheduler.StateIdle {
		return scheduler.Outcome{State: scheduler.StateIdle, Wait: l.cfg.IdleWait}
	}
	return scheduler.Outcome{State: scheduler.StateLoading}
}

// LastResult returns the most recent successful batch
func (l *Loader) LastResult() LoadResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

func (l *Loader) remember(res LoadResult) LoadResult {
	l.mu.Lock()
	l.last = res
	l.mu.Unlock()
	return res
}
