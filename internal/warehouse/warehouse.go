// Package warehouse writes facts and dimension versions to the PostgreSQL
// warehouse and resolves business keys to surrogate keys.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/model"
)

// DB is the subset of *pgxpool.Pool the warehouse uses
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Warehouse reads and writes the star schema
type Warehouse struct {
	db DB
}

// New creates a warehouse on db
func New(db DB) *Warehouse {
	return &Warehouse{db: db}
}

// Connect opens a pgx pool for connString and pings it
func Connect(ctx context.Context, connString string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, etlerr.FatalConfig("parse warehouse config", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, etlerr.Wrap("create warehouse pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, etlerr.Wrap("ping warehouse", err)
	}
	return pool, nil
}

// LookupKeys maps business keys to surrogate keys with one query. Keys
// without a matching row are absent from the result; the caller resolves
// them to the unknown member.
func (w *Warehouse) LookupKeys(ctx context.Context, spec model.DimensionSpec, keys []string) (map[string]int64, error) {
	result := make(map[string]int64)

	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if model.IsKnownKey(k) && !seen[k] {
			seen[k] = true
			unique = append(unique, k)
		}
	}
	if len(unique) == 0 {
		return result, nil
	}

	query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s = ANY($1)`,
		spec.KeyColumn, spec.SurrogateColumn, spec.Table, spec.KeyColumn)
	if spec.CurrentOnly() {
		query += " AND " + model.ColumnIsCurrent + " = TRUE"
	}

	rows, err := w.db.Query(ctx, query, unique)
	if err != nil {
		return nil, etlerr.Wrap("lookup "+spec.Table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var surrogate int64
		if err := rows.Scan(&key, &surrogate); err != nil {
			return nil, etlerr.Wrap("scan "+spec.Table, err)
		}
		result[key] = surrogate
	}
	if err := rows.Err(); err != nil {
		return nil, etlerr.Wrap("lookup "+spec.Table, err)
	}
	return result, nil
}

// CurrentMembers returns the tracked column values of every current row,
// keyed by business key, with nulls read as "". Insert-only dimensions
// return every member with no tracked values.
func (w *Warehouse) CurrentMembers(ctx context.Context, spec model.DimensionSpec) (map[string][]string, error) {
	cols := []string{spec.KeyColumn}
	for _, c := range spec.Tracked {
		cols = append(cols, fmt.Sprintf("COALESCE(%s::text, '')", c))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s <> $1`,
		strings.Join(cols, ", "), spec.Table, spec.SurrogateColumn)
	if spec.CurrentOnly() {
		query += " AND " + model.ColumnIsCurrent + " = TRUE"
	}

	rows, err := w.db.Query(ctx, query, model.UnknownMemberKey)
	if err != nil {
		return nil, etlerr.Wrap("snapshot "+spec.Table, err)
	}
	defer rows.Close()

	members := make(map[string][]string)
	for rows.Next() {
		var key string
		tracked := make([]string, len(spec.Tracked))
		dest := []any{&key}
		for i := range tracked {
			dest = append(dest, &tracked[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, etlerr.Wrap("scan "+spec.Table, err)
		}
		if len(tracked) == 0 {
			tracked = nil
		}
		members[key] = tracked
	}
	if err := rows.Err(); err != nil {
		return nil, etlerr.Wrap("snapshot "+spec.Table, err)
	}
	return members, nil
}

// MergeResult counts the rows written by MergeDimension
type MergeResult struct {
	Expired  int64
	Inserted int64
}

// MergeDimension applies one sync in a single transaction: current rows of
// changed members are expired first, then new current rows are inserted for
// both new and changed members.
func (w *Warehouse) MergeDimension(ctx context.Context, spec model.DimensionSpec, added, changed []model.Record, now time.Time) (MergeResult, error) {
	var res MergeResult
	if len(added) == 0 && len(changed) == 0 {
		return res, nil
	}
	if spec.Policy == model.PolicyInsertOnly && len(changed) > 0 {
		return res, fmt.Errorf("dimension %s is insert-only", spec.Name)
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return res, etlerr.Wrap("begin merge "+spec.Table, err)
	}
	defer tx.Rollback(ctx)

	if len(changed) > 0 {
		keys := make([]string, len(changed))
		for i, r := range changed {
			keys[i] = r.BusinessKey()
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = $1, %s = FALSE WHERE %s = ANY($2) AND %s = TRUE`,
			spec.Table, model.ColumnEffectiveEnd, model.ColumnIsCurrent, spec.KeyColumn, model.ColumnIsCurrent,
		), now, keys)
		if err != nil {
			return res, etlerr.Wrap("expire "+spec.Table, err)
		}
		res.Expired = tag.RowsAffected()
	}

	columns := append(append([]string{}, spec.Columns...),
		model.ColumnEffectiveStart, model.ColumnEffectiveEnd, model.ColumnIsCurrent)
	rows := make([][]any, 0, len(added)+len(changed))
	for _, group := range [][]model.Record{added, changed} {
		for _, r := range group {
			rows = append(rows, append(r.Values(), now, nil, true))
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{spec.Table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return res, etlerr.Wrap("insert "+spec.Table, err)
	}
	res.Inserted = n

	if err := tx.Commit(ctx); err != nil {
		return res, etlerr.Wrap("commit merge "+spec.Table, err)
	}
	return res, nil
}

// InsertResult counts the outcome of InsertFacts
type InsertResult struct {
	Inserted   int64
	Duplicates int64
}

const factStageTable = "facttrip_stage"

// InsertFacts bulk-loads facts through a transaction-scoped staging table.
// Facts whose sourcetripid is already present are skipped, so redelivered
// batches load once.
func (w *Warehouse) InsertFacts(ctx context.Context, facts []model.Fact) (InsertResult, error) {
	var res InsertResult
	if len(facts) == 0 {
		return res, nil
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return res, etlerr.Wrap("begin fact insert", err)
	}
	defer tx.Rollback(ctx)

	cols := strings.Join(model.FactColumns, ", ")
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA`,
		factStageTable, cols, model.FactTable,
	)); err != nil {
		return res, etlerr.Wrap("create fact stage", err)
	}

	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = f.Values()
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{factStageTable}, model.FactColumns, pgx.CopyFromRows(rows)); err != nil {
		return res, etlerr.Wrap("copy facts", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (sourcetripid) DO NOTHING`,
		model.FactTable, cols, cols, factStageTable,
	))
	if err != nil {
		return res, etlerr.Wrap("insert facts", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, etlerr.Wrap("commit facts", err)
	}

	res.Inserted = tag.RowsAffected()
	res.Duplicates = int64(len(facts)) - res.Inserted
	return res, nil
}

// MaxSourceTripID returns the highest loaded source trip id, 0 when empty
func (w *Warehouse) MaxSourceTripID(ctx context.Context) (int64, error) {
	var id int64
	err := w.db.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(sourcetripid), 0) FROM %s`, model.FactTable)).Scan(&id)
	if err != nil {
		return 0, etlerr.Wrap("max source trip id", err)
	}
	return id, nil
}
