// Package mssql implements a SQL Server-backed destination.Repository via
// github.com/microsoft/go-mssqldb, ported from the teacher's
// internal/storage/mssql adapter. Merge uses a T-SQL MERGE statement, the
// idiomatic SQL Server upsert-by-key primitive, in place of Postgres'
// INSERT ... ON CONFLICT.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

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
	destination.Register("mssql", func(ctx context.Context, target config.Target) (destination.Repository, error) {
		return NewRepository(ctx, target)
	})
}

func NewRepository(ctx context.Context, target config.Target) (*Repository, error) {
	dsn, err := target.ResolveDSN()
	if err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
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
		line := fmt.Sprintf("[%s] %s", f.Name, mssqlType(f))
		if keySet[f.Name] {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(r.mergeKey) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", bracketList(r.mergeKey)))
	}
	ddl := fmt.Sprintf(
		"IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s') CREATE TABLE [%s] (%s)",
		r.table, r.table, strings.Join(lines, ", "),
	)
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: create table: %w", err)
	}
	return nil
}

func (r *Repository) WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if r.writeMode == config.WriteReplace && !r.truncated {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE [%s]", r.table)); err != nil {
			return 0, fmt.Errorf("mssql: truncate: %w", err)
		}
		r.truncated = true
	}
	if r.writeMode == config.WriteMerge && len(r.mergeKey) > 0 {
		return r.writeMerge(ctx, columns, rows)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf("INSERT INTO [%s] (%s) VALUES (%s)", r.table, bracketList(columns), strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("mssql: prepare: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("mssql: insert: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

// writeMerge upserts one row at a time via MERGE; batching MERGE across
// many rows needs a table-valued parameter, which go-mssqldb supports but
// which this reference implementation keeps out of scope for now.
func (r *Repository) writeMerge(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	keySet := make(map[string]bool, len(r.mergeKey))
	for _, k := range r.mergeKey {
		keySet[k] = true
	}
	var onParts, setParts []string
	for _, k := range r.mergeKey {
		onParts = append(onParts, fmt.Sprintf("t.[%s] = s.[%s]", k, k))
	}
	for _, c := range columns {
		if !keySet[c] {
			setParts = append(setParts, fmt.Sprintf("t.[%s] = s.[%s]", c, c))
		}
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	selectList := make([]string, len(columns))
	for i, c := range columns {
		selectList[i] = fmt.Sprintf("? AS [%s]", c)
	}

	mergeSQL := fmt.Sprintf(
		"MERGE [%s] AS t USING (SELECT %s) AS s ON %s WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		r.table, strings.Join(selectList, ", "), strings.Join(onParts, " AND "),
		strings.Join(setParts, ", "), bracketList(columns), strings.Join(placeholders, ", "),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, mergeSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("mssql: prepare merge: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		args := append(append([]any{}, row...), row...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("mssql: merge: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

func bracketList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "[" + c + "]"
	}
	return strings.Join(out, ", ")
}

func mssqlType(f schema.Field) string {
	switch f.Kind {
	case schema.KindBool:
		return "BIT"
	case schema.KindInt:
		return "BIGINT"
	case schema.KindFloat:
		return "FLOAT"
	case schema.KindTimestamp:
		return "DATETIME2"
	case schema.KindBinary:
		return "VARBINARY(MAX)"
	case schema.KindList, schema.KindStruct:
		return "NVARCHAR(MAX)"
	default:
		return "NVARCHAR(MAX)"
	}
}
