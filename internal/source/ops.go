// Package source reads trips and reference data from the operational
// PostgreSQL store and the CRM MariaDB store.
package source

import (
	"context"
	"database/sql"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/model"
)

// OpsReader reads from the operational trips database
type OpsReader struct {
	db *sql.DB
}

// NewOpsReader creates a new ops reader
func NewOpsReader(db *sql.DB) *OpsReader {
	return &OpsReader{db: db}
}

const tripsAfterQuery = `
	SELECT
		t.trip_id, t.driver_id, t.customer_id, t.vendorid,
		t.tpep_pickup_datetime, t.tpep_dropoff_datetime,
		t.passenger_count, t.trip_distance, t.ratecodeid,
		t.pulocationid, t.dolocationid, t.payment_type,
		t.fare_amount, t.extra, t.mta_tax, t.tip_amount, t.tolls_amount,
		t.improvement_surcharge, t.total_amount, t.congestion_surcharge,
		d.vehicle_id
	FROM trips t
	LEFT JOIN drivers d ON t.driver_id = d.driver_id
	WHERE t.trip_id > $1
	ORDER BY t.trip_id ASC
	LIMIT $2
`

// TripsAfter returns at most limit trips with trip_id > after, ascending
func (r *OpsReader) TripsAfter(ctx context.Context, after int64, limit int) ([]model.SourceTrip, error) {
	rows, err := r.db.QueryContext(ctx, tripsAfterQuery, after, limit)
	if err != nil {
		return nil, etlerr.Wrap("query trips", err)
	}
	defer rows.Close()

	trips := make([]model.SourceTrip, 0, limit)
	for rows.Next() {
		var t model.SourceTrip
		if err := rows.Scan(
			&t.TripID, &t.DriverID, &t.CustomerID, &t.VendorID,
			&t.PickupAt, &t.DropoffAt,
			&t.PassengerCount, &t.TripDistance, &t.RateCodeID,
			&t.PickupLocationID, &t.DropoffLocationID, &t.PaymentType,
			&t.FareAmount, &t.Extra, &t.MTATax, &t.TipAmount, &t.TollsAmount,
			&t.ImprovementSurcharge, &t.TotalAmount, &t.CongestionSurcharge,
			&t.VehicleID,
		); err != nil {
			return nil, etlerr.Wrap("scan trip", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, etlerr.Wrap("iterate trips", err)
	}
	return trips, nil
}

// Drivers returns every ops driver
func (r *OpsReader) Drivers(ctx context.Context) ([]model.Driver, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT driver_id, legal_name, license_number, driver_status
		FROM drivers
	`)
	if err != nil {
		return nil, etlerr.Wrap("query drivers", err)
	}
	defer rows.Close()

	var drivers []model.Driver
	for rows.Next() {
		var d model.Driver
		if err := rows.Scan(&d.DriverID, &d.Name, &d.LicenseNumber, &d.Status); err != nil {
			return nil, etlerr.Wrap("scan driver", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, etlerr.Wrap("iterate drivers", rows.Err())
}

// Vehicles returns every ops vehicle
func (r *OpsReader) Vehicles(ctx context.Context) ([]model.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vehicle_id, make_model, color, capacity
		FROM vehicles
	`)
	if err != nil {
		return nil, etlerr.Wrap("query vehicles", err)
	}
	defer rows.Close()

	var vehicles []model.Vehicle
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.VehicleID, &v.MakeModel, &v.Color, &v.Capacity); err != nil {
			return nil, etlerr.Wrap("scan vehicle", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, etlerr.Wrap("iterate vehicles", rows.Err())
}

// Locations returns every taxi zone
func (r *OpsReader) Locations(ctx context.Context) ([]model.Location, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT zone_id, borough, zone, service_zone
		FROM taxi_zones
	`)
	if err != nil {
		return nil, etlerr.Wrap("query taxi zones", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.LocationID, &l.Borough, &l.Zone, &l.ServiceZone); err != nil {
			return nil, etlerr.Wrap("scan taxi zone", err)
		}
		locations = append(locations, l)
	}
	return locations, etlerr.Wrap("iterate taxi zones", rows.Err())
}

// MaxTripID returns the highest trip id in the ops store
func (r *OpsReader) MaxTripID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(trip_id) FROM trips`).Scan(&maxID); err != nil {
		return 0, etlerr.Wrap("max trip id", err)
	}
	return maxID.Int64, nil
}
