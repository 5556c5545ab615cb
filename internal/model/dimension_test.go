package model

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecsAlignWithRecords(t *testing.T) {
	records := map[Dimension]Record{
		DimLocation:  Location{LocationID: "1"},
		DimDriver:    Driver{DriverID: "5"},
		DimVehicle:   Vehicle{VehicleID: "V-1"},
		DimPromotion: Promotion{PromotionID: "P1"},
		DimCustomer:  Customer{CustomerID: "C1"},
	}

	for _, dim := range SyncOrder {
		spec, ok := SpecFor(dim)
		require.True(t, ok, dim)
		rec := records[dim]
		assert.Len(t, rec.Values(), len(spec.Columns), dim)
		assert.Len(t, rec.TrackedValues(), len(spec.Tracked), dim)
		assert.Equal(t, spec.KeyColumn, spec.Columns[0], dim)
		assert.Equal(t, rec.BusinessKey(), rec.Values()[0], dim)
	}
}

func TestSyncOrder(t *testing.T) {
	assert.Equal(t, []Dimension{DimLocation, DimDriver, DimVehicle, DimPromotion, DimCustomer}, SyncOrder)
	assert.False(t, MustSpec(DimPromotion).CurrentOnly())
	assert.True(t, MustSpec(DimDriver).CurrentOnly())
	assert.Panics(t, func() { MustSpec("date") })
}

func TestDriverTrackedValuesTreatNullAsEmpty(t *testing.T) {
	withNull := Driver{DriverID: "5", Status: sql.NullString{String: "active", Valid: true}}
	withEmpty := Driver{DriverID: "5", Name: sql.NullString{String: "", Valid: true}, Status: sql.NullString{String: "active", Valid: true}}

	assert.Equal(t, withNull.TrackedValues(), withEmpty.TrackedValues())
	assert.Nil(t, withNull.Values()[1])
}

func TestPromotionDerivedColumns(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Promotion{
		PromotionID: "P7",
		Code:        sql.NullString{String: "SPRING10", Valid: true},
		StartDate:   sql.NullTime{Time: start, Valid: true},
		EndDate:     sql.NullTime{Time: start.AddDate(0, 0, 30), Valid: true},
	}

	values := p.Values()
	assert.Equal(t, "SPRING10", values[1])
	assert.Equal(t, "SPRING10", values[2])
	assert.Equal(t, PromotionCampaign, values[6])
	assert.Equal(t, int64(30), values[9])
	assert.Equal(t, PromotionStatus, values[10])

	days, ok := Promotion{PromotionID: "P8"}.DurationInDays()
	assert.False(t, ok)
	assert.Zero(t, days)
}

func TestNewFactDefaultsToUnknownMembers(t *testing.T) {
	f := NewFact(Trip{TripID: 9, FareAmount: 4})
	assert.Equal(t, UnknownMemberKey, f.DriverKey)
	assert.Equal(t, UnknownMemberKey, f.PromotionKey)
	assert.Equal(t, UnknownMemberKey, f.DateKey)
	assert.Len(t, f.Values(), len(FactColumns))
	assert.Nil(t, f.AverageRating)
}
