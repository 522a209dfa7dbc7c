// Package sqlite implements a SQLite-backed destination.Repository using
// database/sql, ported from the teacher's internal/storage/sqlite.
// Intended for local development and test fixtures rather than production
// warehouse loads; SQLite has no COPY-equivalent bulk API, so each batch is
// written by one single-row INSERT statement, prepared once and executed
// for every row inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"apitap/internal/config"
	"apitap/internal/destination"
	"apitap/internal/schema"
)

type Repository struct {
	db        *sql.DB
	table     string
	writeMode config.WriteMode
	mergeKey  []string
	truncated bool
}

func init() {
	destination.Register("sqlite", func(ctx context.Context, target config.Target) (destination.Repository, error) {
		return NewRepository(ctx, target)
	})
}

func NewRepository(ctx context.Context, target config.Target) (*Repository, error) {
	dsn, err := target.ResolveDSN()
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: dsn must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repository{db: db, table: target.Name, writeMode: target.WriteMode, mergeKey: target.MergeKey}, nil
}

func (r *Repository) Close() { r.db.Close() }

func (r *Repository) EnsureTable(ctx context.Context, sch schema.Schema) error {
	ddl := buildCreateTableSQL(r.table, sch, r.mergeKey)
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

func (r *Repository) WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if r.writeMode == config.WriteReplace && !r.truncated {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", r.table)); err != nil {
			return 0, fmt.Errorf("sqlite: truncate: %w", err)
		}
		r.truncated = true
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if r.writeMode == config.WriteMerge && len(r.mergeKey) > 0 {
		stmtSQL = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			r.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
			strings.Join(r.mergeKey, ", "), conflictSet(columns, r.mergeKey),
		)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("sqlite: insert: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("sqlite: commit: %w", err)
	}
	return n, nil
}

func conflictSet(columns, key []string) string {
	keySet := make(map[string]bool, len(key))
	for _, k := range key {
		keySet[k] = true
	}
	var parts []string
	for _, c := range columns {
		if !keySet[c] {
			parts = append(parts, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return strings.Join(parts, ", ")
}

func buildCreateTableSQL(table string, sch schema.Schema, mergeKey []string) string {
	keySet := make(map[string]bool, len(mergeKey))
	for _, k := range mergeKey {
		keySet[k] = true
	}
	lines := make([]string, 0, len(sch))
	for _, f := range sch {
		line := fmt.Sprintf("%s %s", f.Name, sqliteType(f))
		if keySet[f.Name] {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(mergeKey) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(mergeKey, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(lines, ", "))
}

func sqliteType(f schema.Field) string {
	switch f.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	case schema.KindBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}
