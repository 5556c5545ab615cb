// Package model holds the typed records that cross the queue and database boundaries.
package model

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wire format for timestamps in stream entries
const TimestampLayout = "2006-01-02 15:04:05"

// Stream entry field names
const (
	FieldTripID               = "trip_id"
	FieldDriverID             = "driver_id"
	FieldCustomerID           = "customer_id"
	FieldVendorID             = "vendorid"
	FieldPickupAt             = "tpep_pickup_datetime"
	FieldDropoffAt            = "tpep_dropoff_datetime"
	FieldPassengerCount       = "passenger_count"
	FieldTripDistance         = "trip_distance"
	FieldRateCodeID           = "ratecodeid"
	FieldPickupLocationID     = "pulocationid"
	FieldDropoffLocationID    = "dolocationid"
	FieldPaymentType          = "payment_type"
	FieldFareAmount           = "fare_amount"
	FieldExtra                = "extra"
	FieldMTATax               = "mta_tax"
	FieldTipAmount            = "tip_amount"
	FieldTollsAmount          = "tolls_amount"
	FieldImprovementSurcharge = "improvement_surcharge"
	FieldTotalAmount          = "total_amount"
	FieldCongestionSurcharge  = "congestion_surcharge"
	FieldVehicleID            = "vehicle_id"
)

// SourceTrip is one row of the ops trips table joined with the driver's vehicle
type SourceTrip struct {
	TripID               int64
	DriverID             sql.NullString
	CustomerID           sql.NullString
	VendorID             sql.NullString
	PickupAt             sql.NullTime
	DropoffAt            sql.NullTime
	PassengerCount       sql.NullString
	TripDistance         sql.NullFloat64
	RateCodeID           sql.NullString
	PickupLocationID     sql.NullString
	DropoffLocationID    sql.NullString
	PaymentType          sql.NullString
	FareAmount           sql.NullFloat64
	Extra                sql.NullFloat64
	MTATax               sql.NullFloat64
	TipAmount            sql.NullFloat64
	TollsAmount          sql.NullFloat64
	ImprovementSurcharge sql.NullFloat64
	TotalAmount          sql.NullFloat64
	CongestionSurcharge  sql.NullFloat64
	VehicleID            sql.NullString
}

// Fields encodes the row as stream field/value pairs in a fixed order.
// Every value is a string. Nulls become "".
func (t SourceTrip) Fields() []string {
	return []string{
		FieldTripID, strconv.FormatInt(t.TripID, 10),
		FieldDriverID, nullString(t.DriverID),
		FieldCustomerID, nullString(t.CustomerID),
		FieldVendorID, nullString(t.VendorID),
		FieldPickupAt, nullTime(t.PickupAt),
		FieldDropoffAt, nullTime(t.DropoffAt),
		FieldPassengerCount, nullString(t.PassengerCount),
		FieldTripDistance, nullFloat(t.TripDistance),
		FieldRateCodeID, nullString(t.RateCodeID),
		FieldPickupLocationID, nullString(t.PickupLocationID),
		FieldDropoffLocationID, nullString(t.DropoffLocationID),
		FieldPaymentType, nullString(t.PaymentType),
		FieldFareAmount, nullFloat(t.FareAmount),
		FieldExtra, nullFloat(t.Extra),
		FieldMTATax, nullFloat(t.MTATax),
		FieldTipAmount, nullFloat(t.TipAmount),
		FieldTollsAmount, nullFloat(t.TollsAmount),
		FieldImprovementSurcharge, nullFloat(t.ImprovementSurcharge),
		FieldTotalAmount, nullFloat(t.TotalAmount),
		FieldCongestionSurcharge, nullFloat(t.CongestionSurcharge),
		FieldVehicleID, nullString(t.VehicleID),
	}
}

func nullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func nullTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(TimestampLayout)
}

func nullFloat(f sql.NullFloat64) string {
	if !f.Valid || math.IsNaN(f.Float64) {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}

// UnknownBusinessKey replaces a categorical key that cannot be resolved
const UnknownBusinessKey = "unknown"

// Trip is a parsed stream entry ready for key resolution
type Trip struct {
	EntryID string
	TripID  int64

	DriverID          string
	CustomerID        string
	VehicleID         string
	PickupLocationID  string
	DropoffLocationID string

	PickupAt  time.Time
	DropoffAt time.Time

	FareAmount           float64
	Extra                float64
	MTATax               float64
	TipAmount            float64
	TollsAmount          float64
	ImprovementSurcharge float64
	TotalAmount          float64
	CongestionSurcharge  float64
	TripDistance         float64
}

// Coercion records a malformed field that was replaced by its default
type Coercion struct {
	EntryID string
	Field   string
	Value   string
}

// DateKey returns the yyyymmdd key of the pickup date, or the unknown member
func (t Trip) DateKey() int64 {
	if t.PickupAt.IsZero() {
		return UnknownMemberKey
	}
	y, m, d := t.PickupAt.Date()
	return int64(y*10000 + int(m)*100 + d)
}

// DurationSeconds returns whole seconds between pickup and dropoff. Missing
// timestamps, or a dropoff before pickup, give 0.
func (t Trip) DurationSeconds() int64 {
	if t.PickupAt.IsZero() || t.DropoffAt.IsZero() {
		return 0
	}
	d := t.DropoffAt.Sub(t.PickupAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// PerformancePeriod returns the first day of the pickup month as YYYY-MM-DD
func (t Trip) PerformancePeriod() string {
	if t.PickupAt.IsZero() {
		return ""
	}
	y, m, _ := t.PickupAt.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// IsKnownKey reports whether a business key may be looked up
func IsKnownKey(key string) bool {
	return key != "" && key != UnknownBusinessKey
}

// NormalizeKey canonicalizes a categorical business key. Integral floats lose
// their fraction ("5.0" -> "5"). Empty, null-like and the source systems'
// placeholder ids ("0", "-1") become UnknownBusinessKey. The second result is
// false when a non-empty value had to be discarded.
func NormalizeKey(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "":
		return UnknownBusinessKey, true
	case "nan", "none", "null", "<na>", "nat":
		return UnknownBusinessKey, false
	}

	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && f == math.Trunc(f) && strings.ContainsAny(v, ".eE") {
		v = strconv.FormatInt(int64(f), 10)
	}

	if v == "0" || v == "-1" {
		return UnknownBusinessKey, true
	}
	return v, true
}

// ParseMeasure parses a numeric measure. Empty becomes 0; malformed or
// non-finite values become 0 and report false.
func ParseMeasure(raw string) (float64, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseTimestamp parses the wire timestamp, falling back to RFC 3339. Empty
// gives the zero time; malformed values give the zero time and report false.
func ParseTimestamp(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, true
	}
	if ts, err := time.Parse(TimestampLayout, v); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
