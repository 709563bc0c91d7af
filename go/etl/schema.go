package etl

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaFS embed.FS

// InitSchema creates all staging, dimension, fact and control tables.
// Statements are idempotent so init can run on every startup.
func InitSchema(ctx context.Context, db *sql.DB) error {
	content, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}

	for i, stmt := range splitSQLStatements(string(content)) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isIgnorableSchemaError(err) {
				continue
			}
			return fmt.Errorf("execute schema statement %d: %w", i, err)
		}
	}

	return verifySchema(ctx, db)
}

// splitSQLStatements splits on semicolons outside of string literals.
func splitSQLStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	escape := false

	for _, ch := range sqlText {
		current.WriteRune(ch)

		if escape {
			escape = false
			continue
		}

		switch ch {
		case '\\':
			escape = true
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				statements = append(statements, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}

func isIgnorableSchemaError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"already exists", "duplicate key"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// verifySchema checks that the tables the pipeline depends on exist.
func verifySchema(ctx context.Context, db *sql.DB) error {
	tables := []string{
		"declarations",
		"public_assistance_projects",
		"dim_disaster",
		"dim_location",
		"dim_date",
		"fact_disaster_metrics",
		"fact_project_samples",
		"etl_control",
		"etl_run_history",
	}

	for _, table := range tables {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM information_schema.tables
				WHERE table_schema = 'public'
				AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	return nil
}
