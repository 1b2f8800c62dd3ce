// Package sqlbundle exposes the entity table DDL shared by the SQL adapters.
package sqlbundle

import (
	"bufio"
	_ "embed"
	"strings"
)

var (
	//go:embed sqlite.sql
	sqliteDDL string
	//go:embed postgres.sql
	postgresDDL string
)

// SQLite returns the SQLite DDL for the entities table.
func SQLite() string { return sqliteDDL }

// Postgres returns the Postgres DDL for the entities table.
func Postgres() string { return postgresDDL }

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
