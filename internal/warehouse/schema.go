package warehouse

import (
	"context"
	"fmt"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/model"
)

// Dimension tables carry effective_start/effective_end/is_current. The
// partial unique index keeps at most one current row per business key.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dimlocation (
		locationkey     BIGSERIAL PRIMARY KEY,
		locationid      VARCHAR(64) NOT NULL,
		borough         TEXT,
		zonename        TEXT,
		servicezone     TEXT,
		effective_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_end   TIMESTAMPTZ,
		is_current      BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dimlocation_current_uq ON dimlocation (locationid) WHERE is_current`,

	`CREATE TABLE IF NOT EXISTS dimdriver (
		driverkey       BIGSERIAL PRIMARY KEY,
		driverid        VARCHAR(64) NOT NULL,
		drivername      TEXT,
		licensenumber   TEXT,
		driverstatus    TEXT,
		effective_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_end   TIMESTAMPTZ,
		is_current      BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dimdriver_current_uq ON dimdriver (driverid) WHERE is_current`,

	`CREATE TABLE IF NOT EXISTS dimvehicle (
		vehiclekey       BIGSERIAL PRIMARY KEY,
		vehicleid        VARCHAR(64) NOT NULL,
		vehiclemakemodel TEXT,
		vehiclecolor     TEXT,
		vehiclecapacity  INTEGER,
		effective_start  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_end    TIMESTAMPTZ,
		is_current       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dimvehicle_current_uq ON dimvehicle (vehicleid) WHERE is_current`,

	`CREATE TABLE IF NOT EXISTS dimpromotion (
		promotionkey    BIGSERIAL PRIMARY KEY,
		promotionid     VARCHAR(64) NOT NULL UNIQUE,
		promotioncode   TEXT,
		promotionname   TEXT,
		description     TEXT,
		discountvalue   DOUBLE PRECISION,
		discounttype    TEXT,
		campaign        TEXT,
		startdate       DATE,
		enddate         DATE,
		durationindays  INTEGER,
		promotionstatus TEXT,
		effective_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_end   TIMESTAMPTZ,
		is_current      BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS dimcustomer (
		customerkey      BIGSERIAL PRIMARY KEY,
		customerid       VARCHAR(64) NOT NULL,
		customername     TEXT,
		phonenumber      TEXT,
		email            TEXT,
		customersegment  TEXT,
		registrationdate DATE,
		effective_start  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_end    TIMESTAMPTZ,
		is_current       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dimcustomer_current_uq ON dimcustomer (customerid) WHERE is_current`,

	`CREATE TABLE IF NOT EXISTS facttrip (
		tripkey              BIGSERIAL PRIMARY KEY,
		sourcetripid         BIGINT NOT NULL,
		datekey              INTEGER NOT NULL,
		pickuplocationkey    BIGINT NOT NULL DEFAULT -1,
		dropofflocationkey   BIGINT NOT NULL DEFAULT -1,
		driverkey            BIGINT NOT NULL DEFAULT -1,
		vehiclekey           BIGINT NOT NULL DEFAULT -1,
		customerkey          BIGINT NOT NULL DEFAULT -1,
		promotionkey         BIGINT NOT NULL DEFAULT -1,
		fareamount           DOUBLE PRECISION NOT NULL DEFAULT 0,
		extra                DOUBLE PRECISION NOT NULL DEFAULT 0,
		mtatax               DOUBLE PRECISION NOT NULL DEFAULT 0,
		tipamount            DOUBLE PRECISION NOT NULL DEFAULT 0,
		tollsamount          DOUBLE PRECISION NOT NULL DEFAULT 0,
		improvementsurcharge DOUBLE PRECISION NOT NULL DEFAULT 0,
		totalamount          DOUBLE PRECISION NOT NULL DEFAULT 0,
		congestionsurcharge  DOUBLE PRECISION NOT NULL DEFAULT 0,
		tripdistance         DOUBLE PRECISION NOT NULL DEFAULT 0,
		tripduration         BIGINT NOT NULL DEFAULT 0,
		averagerating        DOUBLE PRECISION,
		acceptancerate       DOUBLE PRECISION,
		loaded_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS facttrip_sourcetripid_uq ON facttrip (sourcetripid)`,
}

// unknownMemberStatement inserts the -1 row of a dimension
func unknownMemberStatement(spec model.DimensionSpec) string {
	return fmt.Sprintf(
		`INSERT INTO %s (%s, %s, %s, %s) VALUES (%d, '%d', TIMESTAMPTZ '1900-01-01', TRUE) ON CONFLICT DO NOTHING`,
		spec.Table, spec.SurrogateColumn, spec.KeyColumn, model.ColumnEffectiveStart, model.ColumnIsCurrent,
		model.UnknownMemberKey, model.UnknownMemberKey,
	)
}

// EnsureSchema creates the star schema and the unknown member of every
// dimension. It is idempotent.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return etlerr.Wrap("begin schema", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return etlerr.Wrap("apply schema", err)
		}
	}
	for _, dim := range model.SyncOrder {
		if _, err := tx.Exec(ctx, unknownMemberStatement(model.MustSpec(dim))); err != nil {
			return etlerr.Wrap("seed unknown member "+string(dim), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return etlerr.Wrap("commit schema", err)
	}
	return nil
}
