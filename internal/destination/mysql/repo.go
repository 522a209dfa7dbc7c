// Package mysql implements a MySQL-backed destination.Repository, ported
// from the teacher's internal/storage/mysql adapter idiom. MySQL has no
// COPY primitive either; batches go through a single multi-row INSERT (or
// INSERT ... ON DUPLICATE KEY UPDATE for merge mode) per flush.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

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
	destination.Register("mysql", func(ctx context.Context, target config.Target) (destination.Repository, error) {
		return NewRepository(ctx, target)
	})
}

func NewRepository(ctx context.Context, target config.Target) (*Repository, error) {
	dsn, err := target.ResolveDSN()
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Repository{db: db, table: target.Name, writeMode: target.WriteMode, mergeKey: target.MergeKey}, nil
}

func (r *Repository) Close() { r.db.Close() }

func (r *Repository) EnsureTable(ctx context.Context, sch schema.Schema) error {
	keySet := make(map[string]bool, len(r.mergeKey))
	for _, k := range r.mergeKey {
		keySet[k] = true
	}
	lines := make([]string, 0, len(sch))
	for _, f := range sch {
		line := fmt.Sprintf("`%s` %s", f.Name, mysqlType(f))
		if keySet[f.Name] {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(r.mergeKey) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", backtickList(r.mergeKey)))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s)", r.table, strings.Join(lines, ", "))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mysql: create table: %w", err)
	}
	return nil
}

func (r *Repository) WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if r.writeMode == config.WriteReplace && !r.truncated {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", r.table)); err != nil {
			return 0, fmt.Errorf("mysql: truncate: %w", err)
		}
		r.truncated = true
	}

	placeholderRow := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	valuesSQL := strings.TrimRight(strings.Repeat(placeholderRow+",", len(rows)), ",")
	stmtSQL := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES %s", r.table, backtickList(columns), valuesSQL)
	if r.writeMode == config.WriteMerge && len(r.mergeKey) > 0 {
		stmtSQL += " ON DUPLICATE KEY UPDATE " + onDuplicateSet(columns, r.mergeKey)
	}

	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	res, err := r.db.ExecContext(ctx, stmtSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("mysql: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

func backtickList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "`" + c + "`"
	}
	return strings.Join(out, ", ")
}

func onDuplicateSet(columns, key []string) string {
	keySet := make(map[string]bool, len(key))
	for _, k := range key {
		keySet[k] = true
	}
	var parts []string
	for _, c := range columns {
		if !keySet[c] {
			parts = append(parts, fmt.Sprintf("`%s` = VALUES(`%s`)", c, c))
		}
	}
	return strings.Join(parts, ", ")
}

func mysqlType(f schema.Field) string {
	switch f.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		return "BIGINT"
	case schema.KindFloat:
		return "DOUBLE"
	case schema.KindTimestamp:
		return "DATETIME"
	case schema.KindBinary:
		return "BLOB"
	case schema.KindList, schema.KindStruct:
		return "JSON"
	default:
		return "TEXT"
	}
}
