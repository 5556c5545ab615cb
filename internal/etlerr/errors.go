// Package etlerr defines the error taxonomy shared by every pipeline component.
package etlerr

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Kind classifies a pipeline failure by how the caller must react to it
type Kind string

const (
	// KindTransient covers network, database and queue unavailability. Retried after back-off.
	KindTransient Kind = "TRANSIENT_IO"

	// KindDataQuality marks a malformed field that was coerced to a default
	KindDataQuality Kind = "DATA_QUALITY"

	// KindResolutionMiss marks a business key with no current dimension row
	KindResolutionMiss Kind = "RESOLUTION_MISS"

	// KindFatalConfig marks a missing table or schema. The affected sync is skipped for the cycle.
	KindFatalConfig Kind = "FATAL_CONFIG"
)

// Error is a classified pipeline error
type Error struct {
	Kind    Kind
	Op      string
	Context map[string]string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// With attaches a context key/value pair and returns the same error
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Transient wraps err as a TransientIOError
func Transient(op string, err error) *Error {
	return New(KindTransient, op, err)
}

// FatalConfig wraps err as a FatalConfigError
func FatalConfig(op string, err error) *Error {
	return New(KindFatalConfig, op, err)
}

// DataQuality describes a coerced field
func DataQuality(field, value string) *Error {
	return New(KindDataQuality, "coerce "+field, fmt.Errorf("invalid value %q", value))
}

// Wrap classifies err with Classify and wraps it under op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(Classify(err), op, err)
}

// Classify returns the kind of err. Already classified errors keep their kind,
// missing relations reported by the PostgreSQL or MySQL drivers are FatalConfig,
// everything else is treated as transient.
func Classify(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isMissingRelationSQLState(pgErr.Code) {
		return KindFatalConfig
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && isMissingRelationSQLState(string(pqErr.Code)) {
		return KindFatalConfig
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1049, 1054, 1146:
			return KindFatalConfig
		}
	}

	return KindTransient
}

// IsFatalConfig reports whether err is a FatalConfigError
func IsFatalConfig(err error) bool {
	return err != nil && Classify(err) == KindFatalConfig
}

// IsTransient reports whether err should be retried after back-off
func IsTransient(err error) bool {
	return err != nil && Classify(err) == KindTransient
}

func isMissingRelationSQLState(code string) bool {
	switch code {
	case "42P01", // undefined_table
		"3F000", // invalid_schema_name
		"42703": // undefined_column
		return true
	}
	return false
}
