package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schema string

// statementSeparator splits schema.sql. The procedure body contains
// semicolons, so plain ';' cannot be used.
const statementSeparator = "-- ;;"

// Statements returns the schema split into executable statements.
func Statements() []string {
	parts := strings.Split(schema, statementSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Migrate applies the embedded schema. Every statement is idempotent
// (IF NOT EXISTS / INSERT IGNORE / DROP ... IF EXISTS) so it is safe to run
// on each start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
