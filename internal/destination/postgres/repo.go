// Package postgres implements the C8 reference destination: Postgres via
// pgx/v5, ported from the teacher's internal/storage/postgres.Repository
// (CopyFrom via pgxpool.CopyFrom, identifier quoting helpers, temp-table
// merge staging) and generalized from a single fixed table/columns/key
// config to the typed schema.Schema + config.WriteMode model C8 calls for.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"apitap/internal/config"
	"apitap/internal/destination"
	"apitap/internal/schema"
)

// Repository is a Postgres-backed destination.Repository.
type Repository struct {
	pool      *pgxpool.Pool
	table     string
	writeMode config.WriteMode
	mergeKey  []string

	truncated bool
}

// NewRepository opens a pooled Postgres connection for target.
func NewRepository(ctx context.Context, target config.Target) (*Repository, error) {
	dsn, err := target.ResolveDSN()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: dsn must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repository{
		pool:      pool,
		table:     target.Name,
		writeMode: target.WriteMode,
		mergeKey:  target.MergeKey,
	}, nil
}

func (r *Repository) Close() { r.pool.Close() }

func init() {
	destination.Register("postgres", func(ctx context.Context, target config.Target) (destination.Repository, error) {
		repo, err := NewRepository(ctx, target)
		if err != nil {
			return nil, err
		}
		repo.table = pgFQN(target.Name)
		return repo, nil
	})
}

// EnsureTable creates the destination table from the inferred schema when
// it doesn't already exist.
func (r *Repository) EnsureTable(ctx context.Context, sch schema.Schema) error {
	td, err := TableDefFromSchema(r.table, sch, r.mergeKey)
	if err != nil {
		return fmt.Errorf("postgres: infer table: %w", err)
	}
	ddl := BuildCreateTableSQL(td)
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// WriteRows dispatches to the configured write mode.
func (r *Repository) WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	switch r.writeMode {
	case config.WriteReplace:
		return r.writeReplace(ctx, columns, rows)
	case config.WriteMerge:
		return r.writeMerge(ctx, columns, rows)
	default:
		return r.copyFrom(ctx, columns, rows)
	}
}

// copyFrom appends rows via COPY, the fastest bulk-insert path pgx offers
// and the one the teacher's Repository.CopyFrom already used.
func (r *Repository) copyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{r.table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy: %w", err)
	}
	return n, nil
}

// writeReplace truncates the table exactly once per run (on the first
// batch) then appends every batch, including the first, via COPY.
func (r *Repository) writeReplace(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if !r.truncated {
		if _, err := r.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", r.table)); err != nil {
			return 0, fmt.Errorf("postgres: truncate: %w", err)
		}
		r.truncated = true
	}
	return r.copyFrom(ctx, columns, rows)
}

// writeMerge performs an idempotent upsert-by-key: stage the batch in a
// temp table via COPY, then INSERT ... ON CONFLICT (key) DO UPDATE into the
// real table. This generalizes the teacher's delete-then-insert staging
// approach into a single atomic statement so repeated merges of the same
// batch are idempotent (P6).
//
// A batch may carry more than one row for the same merge key (I5: last-wins
// within the batch). Postgres rejects an ON CONFLICT DO UPDATE whose source
// set contains two rows for the same conflict target ("command cannot affect
// row a second time"), so the SELECT feeding the INSERT first dedupes tmp
// down to one row per key, keeping the row with the highest ctid — the
// physically last row COPY wrote, which for a freshly created temp table is
// the last row in batch order.
func (r *Repository) writeMerge(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(r.mergeKey) == 0 {
		return 0, fmt.Errorf("postgres: write_mode=merge requires merge_key")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tmp := fmt.Sprintf("tmp_%s", sanitizeIdent(r.table))
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT * FROM %s WITH NO DATA", tmp, r.table,
	)); err != nil {
		return 0, fmt.Errorf("postgres: create temp table: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy to temp: %w", err)
	}

	insertSQL := buildMergeInsertSQL(r.table, tmp, columns, r.mergeKey)
	if _, err := tx.Exec(ctx, insertSQL); err != nil {
		return 0, fmt.Errorf("postgres: merge insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return n, nil
}

// buildMergeInsertSQL builds the INSERT ... SELECT ... ON CONFLICT DO UPDATE
// statement that merges a deduped tmp table into table.
func buildMergeInsertSQL(table, tmp string, columns, mergeKey []string) string {
	updateCols := updateColumns(columns, mergeKey)
	setClause := make([]string, 0, len(updateCols))
	for _, c := range updateCols {
		setClause = append(setClause, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
	}
	keyList := make([]string, 0, len(mergeKey))
	for _, k := range mergeKey {
		keyList = append(keyList, quoteIdent(k))
	}
	keyCSV := strings.Join(keyList, ", ")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM (SELECT DISTINCT ON (%s) * FROM %s ORDER BY %s, ctid DESC) AS deduped ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		quoteIdentList(columns),
		quoteIdentList(columns),
		keyCSV,
		tmp,
		keyCSV,
		keyCSV,
		strings.Join(setClause, ", "),
	)
}

// updateColumns returns columns minus the merge key, since key columns
// shouldn't be reassigned on conflict.
func updateColumns(columns, key []string) []string {
	keySet := make(map[string]bool, len(key))
	for _, k := range key {
		keySet[k] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !keySet[c] {
			out = append(out, c)
		}
	}
	return out
}

func sanitizeIdent(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\"", ""), ".", "_")
}

func quoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func quoteIdentList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return strings.Join(out, ", ")
}

func pgFQN(name string) string { return quoteIdent(name) }
