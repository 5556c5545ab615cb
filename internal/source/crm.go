package source

import (
	"context"
	"database/sql"
	"strings"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/model"
)

// CRMReader reads customers, promotions, feedback and driver performance
// from the CRM database
type CRMReader struct {
	db *sql.DB
}

// NewCRMReader creates a new CRM reader
func NewCRMReader(db *sql.DB) *CRMReader {
	return &CRMReader{db: db}
}

// Customers returns every CRM customer
func (r *CRMReader) Customers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT customer_id, display_name, phone_number, email, customer_segment, registration_date
		FROM customers
	`)
	if err != nil {
		return nil, etlerr.Wrap("query customers", err)
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.CustomerID, &c.Name, &c.Phone, &c.Email, &c.Segment, &c.RegistrationDate); err != nil {
			return nil, etlerr.Wrap("scan customer", err)
		}
		customers = append(customers, c)
	}
	return customers, etlerr.Wrap("iterate customers", rows.Err())
}

// Promotions returns every CRM promotion
func (r *CRMReader) Promotions(ctx context.Context) ([]model.Promotion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT promotion_id, promo_code, description, discount_value, discount_type, start_date, end_date
		FROM promotions
	`)
	if err != nil {
		return nil, etlerr.Wrap("query promotions", err)
	}
	defer rows.Close()

	var promotions []model.Promotion
	for rows.Next() {
		var p model.Promotion
		if err := rows.Scan(&p.PromotionID, &p.Code, &p.Description, &p.DiscountValue, &p.DiscountType, &p.StartDate, &p.EndDate); err != nil {
			return nil, etlerr.Wrap("scan promotion", err)
		}
		promotions = append(promotions, p)
	}
	return promotions, etlerr.Wrap("iterate promotions", rows.Err())
}

// DriverPerformance returns rating and acceptance rate for the requested
// (driver, month) pairs. Pairs without a row are absent from the map.
func (r *CRMReader) DriverPerformance(ctx context.Context, keys []model.PerformanceKey) (map[model.PerformanceKey]model.Performance, error) {
	result := make(map[model.PerformanceKey]model.Performance)

	drivers := make([]string, 0, len(keys))
	periods := make([]string, 0, len(keys))
	seenDriver := make(map[string]bool)
	seenPeriod := make(map[string]bool)
	for _, k := range keys {
		if !model.IsKnownKey(k.DriverID) || k.Period == "" {
			continue
		}
		if !seenDriver[k.DriverID] {
			seenDriver[k.DriverID] = true
			drivers = append(drivers, k.DriverID)
		}
		if !seenPeriod[k.Period] {
			seenPeriod[k.Period] = true
			periods = append(periods, k.Period)
		}
	}
	if len(drivers) == 0 {
		return result, nil
	}

	query := `
		SELECT driver_id, DATE_FORMAT(period_date, '%Y-%m-%d'), average_rating, acceptance_rate
		FROM driver_performance
		WHERE driver_id IN (` + placeholders(len(drivers)) + `)
		  AND period_date IN (` + placeholders(len(periods)) + `)
	`
	args := make([]any, 0, len(drivers)+len(periods))
	for _, d := range drivers {
		args = append(args, d)
	}
	for _, p := range periods {
		args = append(args, p)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, etlerr.Wrap("query driver performance", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key model.PerformanceKey
		var rating, acceptance sql.NullFloat64
		if err := rows.Scan(&key.DriverID, &key.Period, &rating, &acceptance); err != nil {
			return nil, etlerr.Wrap("scan driver performance", err)
		}
		result[key] = model.Performance{
			AverageRating:  floatPtr(rating),
			AcceptanceRate: floatPtr(acceptance),
		}
	}
	return result, etlerr.Wrap("iterate driver performance", rows.Err())
}

// PromotionsForTrips returns the promotion used on each CRM trip id that has one
func (r *CRMReader) PromotionsForTrips(ctx context.Context, crmTripIDs []int64) (map[int64]string, error) {
	result := make(map[int64]string)
	if len(crmTripIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(crmTripIDs))
	for i, id := range crmTripIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT trip_id, used_promotion_id
		FROM trip_feedback
		WHERE trip_id IN (`+placeholders(len(crmTripIDs))+`)
		  AND used_promotion_id IS NOT NULL
	`, args...)
	if err != nil {
		return nil, etlerr.Wrap("query trip feedback", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tripID int64
		var promotionID string
		if err := rows.Scan(&tripID, &promotionID); err != nil {
			return nil, etlerr.Wrap("scan trip feedback", err)
		}
		result[tripID] = promotionID
	}
	return result, etlerr.Wrap("iterate trip feedback", rows.Err())
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
