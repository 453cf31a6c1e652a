package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE values raised when concurrent writers collide on a row.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// Diagnostics is the log-oriented view of an error chain.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string
	SQL     *SQLState
}

// SQLState carries the server-side details of a Postgres failure regardless
// of which driver produced it.
type SQLState struct {
	Code       string
	Table      string
	Constraint string
	Detail     string
	Message    string
}

func Describe(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.SQL = sqlStateOf(err)
	return d
}

// Fields flattens d for structured logging, leaving out empty values.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{"error": d.Message}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if d.SQL != nil {
		fields["pg_code"] = d.SQL.Code
		if d.SQL.Table != "" {
			fields["pg_table"] = d.SQL.Table
		}
		if d.SQL.Constraint != "" {
			fields["pg_constraint"] = d.SQL.Constraint
		}
		if d.SQL.Detail != "" {
			fields["pg_detail"] = d.SQL.Detail
		}
	}
	return fields
}

// IsContention reports whether err is Postgres refusing a write because
// another transaction holds or changed the same row.
func IsContention(err error) bool {
	state := sqlStateOf(err)
	if state == nil {
		return false
	}
	switch state.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	}
	return false
}

func sqlStateOf(err error) *SQLState {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &SQLState{
			Code:       pgxErr.Code,
			Table:      pgxErr.TableName,
			Constraint: pgxErr.ConstraintName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &SQLState{
			Code:       string(pqErr.Code),
			Table:      pqErr.Table,
			Constraint: pqErr.Constraint,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
