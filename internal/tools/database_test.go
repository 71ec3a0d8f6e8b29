package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/log"
)

func TestDBQueryRejectsWrites(t *testing.T) {
	ts := NewDatabaseToolset(nil, log.NewNop())

	tests := []struct {
		name  string
		query string
	}{
		{"insert", "INSERT INTO users (name) VALUES ('x')"},
		{"update", "update users set name = 'x'"},
		{"delete", "DELETE FROM users"},
		{"drop", "drop table users"},
		{"truncate", "TRUNCATE users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.dbQuery(context.Background(), dbQueryInput{Query: tt.query})
			var de *dispatch.Error
			if !errors.As(err, &de) {
				t.Fatalf("dbQuery(%q) error = %v, want *dispatch.Error", tt.query, err)
			}
			if de.Kind != dispatch.KindDomainError {
				t.Errorf("kind = %q, want %q", de.Kind, dispatch.KindDomainError)
			}
			if !strings.Contains(de.Message, "db_execute") {
				t.Errorf("message %q should point at db_execute", de.Message)
			}
		})
	}
}

func TestDBQueryAcceptsReadPrefixes(t *testing.T) {
	// With no pool configured, a read statement passes the statement
	// check and fails on the disabled database instead.
	ts := NewDatabaseToolset(nil, log.NewNop())

	for _, q := range []string{
		"SELECT 1",
		"with t as (select 1) select * from t",
		"EXPLAIN select * from users",
		"show server_version",
	} {
		_, err := ts.dbQuery(context.Background(), dbQueryInput{Query: q})
		var de *dispatch.Error
		if !errors.As(err, &de) {
			t.Fatalf("dbQuery(%q) error = %v, want *dispatch.Error", q, err)
		}
		if !strings.Contains(de.Message, "TOOLGATE_DATABASE_URL") {
			t.Errorf("dbQuery(%q) message = %q, want database-disabled error", q, de.Message)
		}
	}
}

func TestDBQueryEmpty(t *testing.T) {
	ts := NewDatabaseToolset(nil, log.NewNop())

	_, err := ts.dbQuery(context.Background(), dbQueryInput{Query: "   "})
	var de *dispatch.Error
	if !errors.As(err, &de) || de.Kind != dispatch.KindDomainError {
		t.Fatalf("dbQuery(blank) error = %v, want domain error", err)
	}
}

func TestDBExecuteEmpty(t *testing.T) {
	ts := NewDatabaseToolset(nil, log.NewNop())

	_, err := ts.dbExecute(context.Background(), dbExecuteInput{Statement: ""})
	var de *dispatch.Error
	if !errors.As(err, &de) || de.Kind != dispatch.KindDomainError {
		t.Fatalf("dbExecute(empty) error = %v, want domain error", err)
	}
	if strings.Contains(de.Message, "TOOLGATE_DATABASE_URL") {
		t.Errorf("empty statement should be rejected before the pool check, got %q", de.Message)
	}
}

func TestDBExecuteDisabled(t *testing.T) {
	ts := NewDatabaseToolset(nil, log.NewNop())

	_, err := ts.dbExecute(context.Background(), dbExecuteInput{Statement: "insert into t values (1)"})
	var de *dispatch.Error
	if !errors.As(err, &de) {
		t.Fatalf("dbExecute error = %v, want *dispatch.Error", err)
	}
	if !strings.Contains(de.Message, "TOOLGATE_DATABASE_URL") {
		t.Errorf("message = %q, want database-disabled error", de.Message)
	}
}

func TestRenderValue(t *testing.T) {
	if got := renderValue([]byte("abc")); got != "abc" {
		t.Errorf("renderValue([]byte) = %v, want abc", got)
	}
	if got := renderValue(42); got != 42 {
		t.Errorf("renderValue(int) = %v, want 42", got)
	}
}
