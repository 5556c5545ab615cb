package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
)

// ParseTrip builds a Trip from a stream entry. Malformed measures become 0,
// malformed categorical keys become UnknownBusinessKey and malformed
// timestamps become the zero time; each is reported as a Coercion. Only a
// missing or non-integer trip_id is an error, since such an entry cannot
// become a fact.
func ParseTrip(entryID string, fields map[string]string) (Trip, []Coercion, error) {
	raw := strings.TrimSpace(fields[FieldTripID])
	tripID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if f, ok := ParseMeasure(raw); ok && raw != "" && f == float64(int64(f)) {
			tripID, err = int64(f), nil
		}
	}
	if err != nil || tripID <= 0 {
		return Trip{}, nil, etlerr.DataQuality(FieldTripID, raw).With("entry", entryID)
	}

	p := tripParser{entryID: entryID, fields: fields}
	trip := Trip{
		EntryID: entryID,
		TripID:  tripID,

		DriverID:          p.key(FieldDriverID),
		CustomerID:        p.key(FieldCustomerID),
		VehicleID:         p.key(FieldVehicleID),
		PickupLocationID:  p.key(FieldPickupLocationID),
		DropoffLocationID: p.key(FieldDropoffLocationID),

		PickupAt:  p.timestamp(FieldPickupAt),
		DropoffAt: p.timestamp(FieldDropoffAt),

		FareAmount:           p.measure(FieldFareAmount),
		Extra:                p.measure(FieldExtra),
		MTATax:               p.measure(FieldMTATax),
		TipAmount:            p.measure(FieldTipAmount),
		TollsAmount:          p.measure(FieldTollsAmount),
		ImprovementSurcharge: p.measure(FieldImprovementSurcharge),
		TotalAmount:          p.measure(FieldTotalAmount),
		CongestionSurcharge:  p.measure(FieldCongestionSurcharge),
		TripDistance:         p.measure(FieldTripDistance),
	}
	return trip, p.coercions, nil
}

type tripParser struct {
	entryID   string
	fields    map[string]string
	coercions []Coercion
}

func (p *tripParser) coerce(field, value string) {
	p.coercions = append(p.coercions, Coercion{EntryID: p.entryID, Field: field, Value: value})
}

func (p *tripParser) key(field string) string {
	v, ok := NormalizeKey(p.fields[field])
	if !ok {
		p.coerce(field, p.fields[field])
	}
	return v
}

func (p *tripParser) measure(field string) float64 {
	v, ok := ParseMeasure(p.fields[field])
	if !ok {
		p.coerce(field, p.fields[field])
	}
	return v
}

func (p *tripParser) timestamp(field string) time.Time {
	v, ok := ParseTimestamp(p.fields[field])
	if !ok {
		p.coerce(field, p.fields[field])
	}
	return v
}
