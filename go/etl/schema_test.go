package etl

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitSQLStatements(t *testing.T) {
	sqlText := `
CREATE TABLE a (id INT);
CREATE TABLE b (name VARCHAR(10) DEFAULT 'x;y');
INSERT INTO b (name) VALUES ('semi;colon');
`
	statements := splitSQLStatements(sqlText)

	var nonEmpty []string
	for _, s := range statements {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) != 3 {
		t.Fatalf("got %d statements, want 3", len(nonEmpty))
	}
	if !strings.Contains(nonEmpty[1], "x;y") {
		t.Error("semicolon inside a string literal split the statement")
	}
	if !strings.Contains(nonEmpty[2], "semi;colon") {
		t.Error("semicolon inside an insert literal split the statement")
	}
}

func TestSplitSQLStatementsEmbeddedSchema(t *testing.T) {
	content, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		t.Fatal(err)
	}

	statements := splitSQLStatements(string(content))
	count := 0
	for _, s := range statements {
		if strings.TrimSpace(s) != "" {
			count++
		}
	}
	if count < 9 {
		t.Errorf("embedded schema yields %d statements, expected at least a statement per table", count)
	}
}

func TestIsIgnorableSchemaError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New(`relation "declarations" already exists`), true},
		{errors.New("duplicate key value violates unique constraint"), true},
		{errors.New("syntax error at or near CREATE"), false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := isIgnorableSchemaError(tt.err); got != tt.want {
			t.Errorf("isIgnorableSchemaError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
