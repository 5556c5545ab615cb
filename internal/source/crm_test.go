package source

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/model"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func newCRM(t *testing.T) (*CRMReader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCRMReader(db), mock
}

func TestDriverPerformance(t *testing.T) {
	r, mock := newCRM(t)

	mock.ExpectQuery(`FROM driver_performance\s+WHERE driver_id IN \(\?,\?\)\s+AND period_date IN \(\?\)`).
		WithArgs("5", "77", "2024-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"driver_id", "period", "average_rating", "acceptance_rate"}).
			AddRow("5", "2024-03-01", 4.8, nil))

	perf, err := r.DriverPerformance(context.Background(), []model.PerformanceKey{
		{DriverID: "5", Period: "2024-03-01"},
		{DriverID: "77", Period: "2024-03-01"},
		{DriverID: "5", Period: "2024-03-01"},
		{DriverID: model.UnknownBusinessKey, Period: "2024-03-01"},
		{DriverID: "9", Period: ""},
	})
	require.NoError(t, err)
	require.Len(t, perf, 1)

	got := perf[model.PerformanceKey{DriverID: "5", Period: "2024-03-01"}]
	require.NotNil(t, got.AverageRating)
	assert.Equal(t, 4.8, *got.AverageRating)
	assert.Nil(t, got.AcceptanceRate)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverPerformanceSkipsQueryWithoutKeys(t *testing.T) {
	r, mock := newCRM(t)

	perf, err := r.DriverPerformance(context.Background(), []model.PerformanceKey{{DriverID: model.UnknownBusinessKey}})
	require.NoError(t, err)
	assert.Empty(t, perf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionsForTrips(t *testing.T) {
	r, mock := newCRM(t)

	mock.ExpectQuery(`FROM trip_feedback\s+WHERE trip_id IN \(\?,\?,\?\)\s+AND used_promotion_id IS NOT NULL`).
		WithArgs(int64(123), int64(124), int64(125)).
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "used_promotion_id"}).
			AddRow(int64(123), "P7"))

	promos, err := r.PromotionsForTrips(context.Background(), []int64{123, 124, 125})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{123: "P7"}, promos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionsForTripsMissingTable(t *testing.T) {
	r, mock := newCRM(t)
	mock.ExpectQuery(`FROM trip_feedback`).WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'Uber_crm.trip_feedback' doesn't exist"})

	_, err := r.PromotionsForTrips(context.Background(), []int64{1})
	require.Error(t, err)
	assert.True(t, etlerr.IsFatalConfig(err))
}

func TestCustomersAndPromotions(t *testing.T) {
	r, mock := newCRM(t)
	registered := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM customers`).WillReturnRows(
		sqlmock.NewRows([]string{"customer_id", "display_name", "phone_number", "email", "customer_segment", "registration_date"}).
			AddRow("42", "Bao", "555-0101", "bao@example.com", "gold", registered))
	mock.ExpectQuery(`FROM promotions`).WillReturnRows(
		sqlmock.NewRows([]string{"promotion_id", "promo_code", "description", "discount_value", "discount_type", "start_date", "end_date"}).
			AddRow("P7", "SPRING10", "Spring promo", 10.0, "percent", start, start.AddDate(0, 1, 0)))

	customers, err := r.Customers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "gold", customers[0].Segment.String)
	assert.Equal(t, registered, customers[0].RegistrationDate.Time)

	promotions, err := r.Promotions(context.Background())
	require.NoError(t, err)
	require.Len(t, promotions, 1)
	days, ok := promotions[0].DurationInDays()
	assert.True(t, ok)
	assert.Equal(t, int64(31), days)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}
