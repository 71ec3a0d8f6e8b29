package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
)

// maxQueryRows caps db_query result sets.
const maxQueryRows = 1000

// DatabaseToolset implements SQL access through a shared pgx pool. A
// nil pool means no database is configured; the tools stay registered
// and report that instead of disappearing from the tool list.
type DatabaseToolset struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewDatabaseToolset creates the database toolset. pool may be nil.
func NewDatabaseToolset(pool *pgxpool.Pool, logger log.Logger) *DatabaseToolset {
	return &DatabaseToolset{pool: pool, logger: logger}
}

type dbQueryInput struct {
	Query   string `json:"query"`
	MaxRows int    `json:"max_rows,omitempty"`
}

type dbExecuteInput struct {
	Statement string `json:"statement"`
}

// Register adds the database tools.
func (t *DatabaseToolset) Register(reg *dispatch.Registry) error {
	if err := add(reg, "db_query",
		"Run a read-only SQL query and return rows.",
		gate.Policy{}, t.dbQuery); err != nil {
		return err
	}
	return add(reg, "db_execute",
		"Run a SQL statement and return the affected row count.",
		gate.Policy{}, t.dbExecute)
}

// readOnlyPrefixes are the statement kinds db_query accepts. Anything
// else must go through db_execute, which is auditable as a write.
var readOnlyPrefixes = []string{"select", "with", "show", "explain", "values", "table"}

func (t *DatabaseToolset) dbQuery(ctx context.Context, in dbQueryInput) (any, error) {
	q := strings.TrimSpace(in.Query)
	if q == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "query is empty")
	}
	first := strings.ToLower(strings.Fields(q)[0])
	readOnly := false
	for _, p := range readOnlyPrefixes {
		if first == p {
			readOnly = true
			break
		}
	}
	if !readOnly {
		return nil, dispatch.Errorf(dispatch.KindDomainError,
			"db_query only accepts read statements, use db_execute for %s", first)
	}
	if t.pool == nil {
		return nil, errDatabaseDisabled()
	}

	limit := in.MaxRows
	if limit <= 0 || limit > maxQueryRows {
		limit = 100
	}

	rows, err := t.pool.Query(ctx, q)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "query failed", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	truncated := false
	for rows.Next() {
		if len(out) >= limit {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, dispatch.WrapErr(dispatch.KindDomainError, "reading row failed", err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil && !truncated {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "query failed", err)
	}

	return map[string]any{
		"columns":   columns,
		"rows":      out,
		"row_count": len(out),
		"truncated": truncated,
	}, nil
}

func (t *DatabaseToolset) dbExecute(ctx context.Context, in dbExecuteInput) (any, error) {
	stmt := strings.TrimSpace(in.Statement)
	if stmt == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "statement is empty")
	}
	if t.pool == nil {
		return nil, errDatabaseDisabled()
	}

	tag, err := t.pool.Exec(ctx, stmt)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "statement failed", err)
	}

	t.logger.Debug("statement executed", "rows_affected", tag.RowsAffected())
	return map[string]any{
		"command":       tag.String(),
		"rows_affected": tag.RowsAffected(),
	}, nil
}

func errDatabaseDisabled() *dispatch.Error {
	return dispatch.Errorf(dispatch.KindDomainError,
		"database tools are not configured, set TOOLGATE_DATABASE_URL")
}

// renderValue keeps payloads JSON-friendly: byte slices become strings
// and everything the JSON encoder handles passes through untouched.
func renderValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}
