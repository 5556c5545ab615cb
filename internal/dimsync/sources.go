package dimsync

import (
	"context"
	"fmt"

	"github.com/trinhhung12345/data-warehouse/internal/model"
)

// OpsSource reads the dimensions owned by the operational database
type OpsSource interface {
	Locations(ctx context.Context) ([]model.Location, error)
	Drivers(ctx context.Context) ([]model.Driver, error)
	Vehicles(ctx context.Context) ([]model.Vehicle, error)
}

// CRMSource reads the dimensions owned by the CRM
type CRMSource interface {
	Customers(ctx context.Context) ([]model.Customer, error)
	Promotions(ctx context.Context) ([]model.Promotion, error)
}

// Sources routes each dimension to the system that owns it
type Sources struct {
	Ops OpsSource
	CRM CRMSource
}

// Records returns the full source snapshot of a dimension
func (s Sources) Records(ctx context.Context, dim model.Dimension) ([]model.Record, error) {
	switch dim {
	case model.DimLocation:
		return records(s.Ops.Locations(ctx))
	case model.DimDriver:
		return records(s.Ops.Drivers(ctx))
	case model.DimVehicle:
		return records(s.Ops.Vehicles(ctx))
	case model.DimCustomer:
		return records(s.CRM.Customers(ctx))
	case model.DimPromotion:
		return records(s.CRM.Promotions(ctx))
	}
	return nil, fmt.Errorf("no source for dimension %q", dim)
}

func records[T model.Record](rows []T, err error) ([]model.Record, error) {
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}
