package queryengine

import (
	"context"
	"fmt"
	"io"

	sqle "github.com/dolthub/go-mysql-server"
	"github.com/dolthub/go-mysql-server/sql"
)

// Database wraps a fixed set of StreamTables under one name, handed to the
// engine as the single catalog database every module query runs against.
type Database struct {
	name   string
	tables map[string]sql.Table
}

func NewDatabase(name string) *Database {
	return &Database{name: name, tables: map[string]sql.Table{}}
}

// Register adds one source table, keyed by its name, to the database.
func (d *Database) Register(t *StreamTable) {
	d.tables[t.Name()] = t
}

func (d *Database) Name() string { return d.name }

func (d *Database) GetTableInsensitive(_ *sql.Context, tblName string) (sql.Table, bool, error) {
	t, ok := d.tables[tblName]
	return t, ok, nil
}

func (d *Database) GetTableNames(_ *sql.Context) ([]string, error) {
	out := make([]string, 0, len(d.tables))
	for name := range d.tables {
		out = append(out, name)
	}
	return out, nil
}

var _ sql.Database = (*Database)(nil)

// Engine runs module SQL against a Database of StreamTables, using
// go-mysql-server's embedded-usage entry point (sqle.NewDefault over a
// sql.DatabaseProvider) exactly as the dolthub examples wire it up — the
// same shape the retrieval pack's AutoNormDB example builds on top of.
type Engine struct {
	eng *sqle.Engine
	db  *Database
}

func NewEngine(db *Database) *Engine {
	pro := sql.NewDatabaseProvider(db)
	return &Engine{eng: sqle.NewDefault(pro), db: db}
}

// Run compiles and executes a single SELECT statement, materializing every
// result row. Prefer Stream for the pipeline runner's own use; Run exists
// for callers (tests, one-shot tooling) that want the whole result at once.
func (e *Engine) Run(ctx context.Context, query string) ([]sql.Row, sql.Schema, error) {
	c, err := e.Stream(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	var rows []sql.Row
	for {
		r, ok, err := c.Next()
		if err != nil {
			return rows, c.Schema(), err
		}
		if !ok {
			break
		}
		rows = append(rows, r)
	}
	return rows, c.Schema(), nil
}

// Stream compiles query and returns a Cursor over its result rows without
// materializing the result set, so the pipeline runner (C9) can flush
// write-sized batches to the destination (C8) as rows arrive from the
// query engine rather than buffering the whole query result first.
func (e *Engine) Stream(ctx context.Context, query string) (*Cursor, error) {
	sctx := sql.NewContext(ctx, sql.WithSession(sql.NewBaseSession()))
	sctx.SetCurrentDatabase(e.db.Name())

	schema, iter, err := e.eng.Query(sctx, query)
	if err != nil {
		return nil, fmt.Errorf("queryengine: query: %w", err)
	}
	return &Cursor{sctx: sctx, iter: iter, schema: schema}, nil
}

// Cursor streams the rows of one query's result set, one sql.RowIter.Next
// call at a time.
type Cursor struct {
	sctx   *sql.Context
	iter   sql.RowIter
	schema sql.Schema
}

func (c *Cursor) Schema() sql.Schema { return c.schema }

// Next returns the next row, or ok=false at a clean end of stream.
func (c *Cursor) Next() (sql.Row, bool, error) {
	r, err := c.iter.Next(c.sctx)
	if err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("queryengine: execute: %w", err)
	}
	return r, true, nil
}

func (c *Cursor) Close() error { return c.iter.Close(c.sctx) }
