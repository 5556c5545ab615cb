package model

// UnknownMemberKey is the surrogate key of every dimension's unknown member
const UnknownMemberKey int64 = -1

// DefaultFoldModulus folds ops trip ids into the CRM's trip id space
const DefaultFoldModulus int64 = 10_000_000

// FoldTripID maps an ops trip id onto the CRM trip_feedback id space.
// Ids that differ by a multiple of modulus alias onto the same CRM id.
func FoldTripID(id, modulus int64) int64 {
	if modulus <= 0 {
		return id
	}
	return id % modulus
}

// FactTable is the warehouse fact table
const FactTable = "facttrip"

// FactColumns lists facttrip columns in insert order
var FactColumns = []string{
	"sourcetripid", "datekey",
	"pickuplocationkey", "dropofflocationkey",
	"driverkey", "vehiclekey", "customerkey", "promotionkey",
	"fareamount", "extra", "mtatax", "tipamount", "tollsamount",
	"improvementsurcharge", "totalamount", "congestionsurcharge",
	"tripdistance", "tripduration",
	"averagerating", "acceptancerate",
}

// Fact is one facttrip row
type Fact struct {
	SourceTripID int64
	DateKey      int64

	PickupLocationKey  int64
	DropoffLocationKey int64
	DriverKey          int64
	VehicleKey         int64
	CustomerKey        int64
	PromotionKey       int64

	FareAmount           float64
	Extra                float64
	MTATax               float64
	TipAmount            float64
	TollsAmount          float64
	ImprovementSurcharge float64
	TotalAmount          float64
	CongestionSurcharge  float64
	TripDistance         float64
	TripDuration         int64

	// Nil when the driver has no performance row for the pickup month
	AverageRating  *float64
	AcceptanceRate *float64
}

// NewFact copies the measures of t and sets every dimension key to the unknown member
func NewFact(t Trip) Fact {
	return Fact{
		SourceTripID:         t.TripID,
		DateKey:              t.DateKey(),
		PickupLocationKey:    UnknownMemberKey,
		DropoffLocationKey:   UnknownMemberKey,
		DriverKey:            UnknownMemberKey,
		VehicleKey:           UnknownMemberKey,
		CustomerKey:          UnknownMemberKey,
		PromotionKey:         UnknownMemberKey,
		FareAmount:           t.FareAmount,
		Extra:                t.Extra,
		MTATax:               t.MTATax,
		TipAmount:            t.TipAmount,
		TollsAmount:          t.TollsAmount,
		ImprovementSurcharge: t.ImprovementSurcharge,
		TotalAmount:          t.TotalAmount,
		CongestionSurcharge:  t.CongestionSurcharge,
		TripDistance:         t.TripDistance,
		TripDuration:         t.DurationSeconds(),
	}
}

// Values returns the row aligned with FactColumns
func (f Fact) Values() []any {
	return []any{
		f.SourceTripID, f.DateKey,
		f.PickupLocationKey, f.DropoffLocationKey,
		f.DriverKey, f.VehicleKey, f.CustomerKey, f.PromotionKey,
		f.FareAmount, f.Extra, f.MTATax, f.TipAmount, f.TollsAmount,
		f.ImprovementSurcharge, f.TotalAmount, f.CongestionSurcharge,
		f.TripDistance, f.TripDuration,
		f.AverageRating, f.AcceptanceRate,
	}
}

// PerformanceKey identifies a driver's monthly performance row
type PerformanceKey struct {
	DriverID string
	Period   string
}

// Performance holds a driver's monthly rating and acceptance rate
type Performance struct {
	AverageRating  *float64
	AcceptanceRate *float64
}
