package model

import (
	"database/sql"
	"strconv"
	"time"
)

// Dimension names a warehouse dimension
type Dimension string

const (
	DimLocation  Dimension = "location"
	DimDriver    Dimension = "driver"
	DimVehicle   Dimension = "vehicle"
	DimPromotion Dimension = "promotion"
	DimCustomer  Dimension = "customer"
)

// SyncOrder is the fixed order of a synchronization cycle. Smaller reference
// dimensions go first.
var SyncOrder = []Dimension{DimLocation, DimDriver, DimVehicle, DimPromotion, DimCustomer}

// Policy selects how source changes reach the warehouse
type Policy int

const (
	// PolicySCD2 expires the current row and inserts a new version on change
	PolicySCD2 Policy = iota
	// PolicyInsertOnly inserts unseen business keys and never revises
	PolicyInsertOnly
)

func (p Policy) String() string {
	if p == PolicyInsertOnly {
		return "insert-only"
	}
	return "scd2"
}

// DimensionSpec describes a dimension table
type DimensionSpec struct {
	Name            Dimension
	Table           string
	SurrogateColumn string
	KeyColumn       string
	// Columns are the attribute columns written on insert, business key first.
	Columns []string
	// Tracked are the columns whose change creates a new SCD2 version.
	Tracked []string
	Policy  Policy
}

// CurrentOnly reports whether lookups filter on is_current
func (s DimensionSpec) CurrentOnly() bool {
	return s.Policy == PolicySCD2
}

// Versioning columns shared by every dimension table
const (
	ColumnEffectiveStart = "effective_start"
	ColumnEffectiveEnd   = "effective_end"
	ColumnIsCurrent      = "is_current"
)

var specs = map[Dimension]DimensionSpec{
	DimLocation: {
		Name:            DimLocation,
		Table:           "dimlocation",
		SurrogateColumn: "locationkey",
		KeyColumn:       "locationid",
		Columns:         []string{"locationid", "borough", "zonename", "servicezone"},
		Tracked:         []string{"borough", "zonename", "servicezone"},
		Policy:          PolicySCD2,
	},
	DimDriver: {
		Name:            DimDriver,
		Table:           "dimdriver",
		SurrogateColumn: "driverkey",
		KeyColumn:       "driverid",
		Columns:         []string{"driverid", "drivername", "licensenumber", "driverstatus"},
		Tracked:         []string{"driverstatus", "drivername"},
		Policy:          PolicySCD2,
	},
	DimVehicle: {
		Name:            DimVehicle,
		Table:           "dimvehicle",
		SurrogateColumn: "vehiclekey",
		KeyColumn:       "vehicleid",
		Columns:         []string{"vehicleid", "vehiclemakemodel", "vehiclecolor", "vehiclecapacity"},
		Tracked:         []string{"vehiclecolor"},
		Policy:          PolicySCD2,
	},
	DimPromotion: {
		Name:            DimPromotion,
		Table:           "dimpromotion",
		SurrogateColumn: "promotionkey",
		KeyColumn:       "promotionid",
		Columns: []string{
			"promotionid", "promotioncode", "promotionname", "description",
			"discountvalue", "discounttype", "campaign",
			"startdate", "enddate", "durationindays", "promotionstatus",
		},
		Policy: PolicyInsertOnly,
	},
	DimCustomer: {
		Name:            DimCustomer,
		Table:           "dimcustomer",
		SurrogateColumn: "customerkey",
		KeyColumn:       "customerid",
		Columns:         []string{"customerid", "customername", "phonenumber", "email", "customersegment", "registrationdate"},
		Tracked:         []string{"customersegment"},
		Policy:          PolicySCD2,
	},
}

// SpecFor returns the DimensionSpec of d
func SpecFor(d Dimension) (DimensionSpec, bool) {
	s, ok := specs[d]
	return s, ok
}

// MustSpec is SpecFor for dimensions known to exist. It panics otherwise.
func MustSpec(d Dimension) DimensionSpec {
	s, ok := specs[d]
	if !ok {
		panic("unknown dimension " + string(d))
	}
	return s
}

// Record is a source row of a dimension
type Record interface {
	BusinessKey() string
	// Values is aligned with DimensionSpec.Columns.
	Values() []any
	// TrackedValues is aligned with DimensionSpec.Tracked. Nulls are "".
	TrackedValues() []string
}

// Location is a taxi zone
type Location struct {
	LocationID  string
	Borough     sql.NullString
	Zone        sql.NullString
	ServiceZone sql.NullString
}

func (l Location) BusinessKey() string { return l.LocationID }

func (l Location) Values() []any {
	return []any{l.LocationID, nullable(l.Borough), nullable(l.Zone), nullable(l.ServiceZone)}
}

func (l Location) TrackedValues() []string {
	return []string{l.Borough.String, l.Zone.String, l.ServiceZone.String}
}

// Driver is an ops driver
type Driver struct {
	DriverID      string
	Name          sql.NullString
	LicenseNumber sql.NullString
	Status        sql.NullString
}

func (d Driver) BusinessKey() string { return d.DriverID }

func (d Driver) Values() []any {
	return []any{d.DriverID, nullable(d.Name), nullable(d.LicenseNumber), nullable(d.Status)}
}

func (d Driver) TrackedValues() []string {
	return []string{d.Status.String, d.Name.String}
}

// Vehicle is an ops vehicle
type Vehicle struct {
	VehicleID string
	MakeModel sql.NullString
	Color     sql.NullString
	Capacity  sql.NullInt64
}

func (v Vehicle) BusinessKey() string { return v.VehicleID }

func (v Vehicle) Values() []any {
	var capacity any
	if v.Capacity.Valid {
		capacity = v.Capacity.Int64
	}
	return []any{v.VehicleID, nullable(v.MakeModel), nullable(v.Color), capacity}
}

func (v Vehicle) TrackedValues() []string {
	return []string{v.Color.String}
}

// Customer is a CRM customer
type Customer struct {
	CustomerID       string
	Name             sql.NullString
	Phone            sql.NullString
	Email            sql.NullString
	Segment          sql.NullString
	RegistrationDate sql.NullTime
}

func (c Customer) BusinessKey() string { return c.CustomerID }

func (c Customer) Values() []any {
	var registered any
	if c.RegistrationDate.Valid {
		registered = c.RegistrationDate.Time
	}
	return []any{c.CustomerID, nullable(c.Name), nullable(c.Phone), nullable(c.Email), nullable(c.Segment), registered}
}

func (c Customer) TrackedValues() []string {
	return []string{c.Segment.String}
}

// Promotion is a CRM promotion. Promotions are never versioned.
type Promotion struct {
	PromotionID   string
	Code          sql.NullString
	Description   sql.NullString
	DiscountValue sql.NullFloat64
	DiscountType  sql.NullString
	StartDate     sql.NullTime
	EndDate       sql.NullTime
}

// Campaign and status stamped on every promotion
const (
	PromotionCampaign = "General"
	PromotionStatus   = "Active"
)

func (p Promotion) BusinessKey() string { return p.PromotionID }

// DurationInDays is the whole number of days between start and end, if both are set
func (p Promotion) DurationInDays() (int64, bool) {
	if !p.StartDate.Valid || !p.EndDate.Valid {
		return 0, false
	}
	return int64(p.EndDate.Time.Sub(p.StartDate.Time) / (24 * time.Hour)), true
}

func (p Promotion) Values() []any {
	var discount, start, end, duration any
	if p.DiscountValue.Valid {
		discount = p.DiscountValue.Float64
	}
	if p.StartDate.Valid {
		start = p.StartDate.Time
	}
	if p.EndDate.Valid {
		end = p.EndDate.Time
	}
	if days, ok := p.DurationInDays(); ok {
		duration = days
	}
	return []any{
		p.PromotionID, nullable(p.Code), nullable(p.Code), nullable(p.Description),
		discount, nullable(p.DiscountType), PromotionCampaign,
		start, end, duration, PromotionStatus,
	}
}

func (p Promotion) TrackedValues() []string { return nil }

func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

// FormatKey renders an integer business key
func FormatKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
