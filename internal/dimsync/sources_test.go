package dimsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinhhung12345/data-warehouse/internal/model"
)

type stubOps struct{}

func (stubOps) Locations(context.Context) ([]model.Location, error) {
	return []model.Location{{LocationID: "1", Borough: ns("EWR")}}, nil
}

func (stubOps) Drivers(context.Context) ([]model.Driver, error) {
	return []model.Driver{{DriverID: "5"}, {DriverID: "6"}}, nil
}

func (stubOps) Vehicles(context.Context) ([]model.Vehicle, error) {
	return nil, nil
}

type stubCRM struct{ err error }

func (s stubCRM) Customers(context.Context) ([]model.Customer, error) {
	return []model.Customer{{CustomerID: "C1"}}, s.err
}

func (s stubCRM) Promotions(context.Context) ([]model.Promotion, error) {
	return []model.Promotion{{PromotionID: "P1"}}, s.err
}

func TestSourcesRoutesDimensions(t *testing.T) {
	src := Sources{Ops: stubOps{}, CRM: stubCRM{}}
	ctx := context.Background()

	drivers, err := src.Records(ctx, model.DimDriver)
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	assert.Equal(t, "6", drivers[1].BusinessKey())

	locations, err := src.Records(ctx, model.DimLocation)
	require.NoError(t, err)
	assert.Equal(t, []string{"EWR", "", ""}, locations[0].TrackedValues())

	vehicles, err := src.Records(ctx, model.DimVehicle)
	require.NoError(t, err)
	assert.Empty(t, vehicles)

	promos, err := src.Records(ctx, model.DimPromotion)
	require.NoError(t, err)
	assert.Equal(t, "P1", promos[0].BusinessKey())

	_, err = src.Records(ctx, model.Dimension("weather"))
	assert.Error(t, err)
}

func TestSourcesPropagatesErrors(t *testing.T) {
	src := Sources{Ops: stubOps{}, CRM: stubCRM{err: assert.AnError}}

	_, err := src.Records(context.Background(), model.DimCustomer)
	assert.ErrorIs(t, err, assert.AnError)
}
