// Package pipeline implements component C9: the run loop that ties every
// other component together for one invocation — load modules, build a
// stream factory per referenced source, infer its schema, register it with
// the embedded query engine, execute the module's SQL, and drive the result
// through a page writer into the module's sink. It plays the same
// orchestration role the teacher's internal/etl.Run does for the CSV/XML
// pipeline, generalized to HTTP sources and SQL-defined transforms.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	gmstypes "github.com/dolthub/go-mysql-server/sql/types"

	"github.com/dolthub/go-mysql-server/sql"

	"apitap/internal/batch"
	"apitap/internal/config"
	"apitap/internal/destination"
	"apitap/internal/httpfetch"
	"apitap/internal/metrics"
	"apitap/internal/module"
	"apitap/internal/pagewriter"
	"apitap/internal/pagination"
	"apitap/internal/queryengine"
	"apitap/internal/row"
	"apitap/internal/schema"
	"apitap/internal/streamfactory"
)

// Result summarizes one module's run, returned to the caller (cmd/apitap)
// for reporting.
type Result struct {
	Module       string
	Sink         string
	RowsWritten  int64
	RowsQueried  int
	Elapsed      time.Duration
}

// Runner executes every module against a single Config, caching the stream
// factory built for each source so that a source referenced by more than one
// module is only fetched once per Runner lifetime.
type Runner struct {
	cfg *config.Config

	factories map[string]*streamfactory.Factory
	clients   map[string]*httpfetch.Client
}

func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		cfg:       cfg,
		factories: map[string]*streamfactory.Factory{},
		clients:   map[string]*httpfetch.Client{},
	}
}

// Run loads every module under cfg.Modules and executes them in the order
// module.Load returns (lexical path order), stopping at the first error.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	mods, err := module.Load(r.cfg.Modules)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if len(mods) == 0 {
		return nil, fmt.Errorf("pipeline: no modules found under %s", r.cfg.Modules)
	}

	results := make([]Result, 0, len(mods))
	for _, m := range mods {
		start := time.Now()
		res, err := r.runModule(ctx, m)
		metrics.RecordStep(m.Name, "run", err, time.Since(start))
		if err != nil {
			return results, fmt.Errorf("pipeline: module %s: %w", m.Name, err)
		}
		res.Elapsed = time.Since(start)
		metrics.RecordRow(m.Name, "written", res.RowsWritten)
		log.Printf("pipeline: module=%s sink=%s rows_queried=%d rows_written=%d elapsed=%s",
			m.Name, res.Sink, res.RowsQueried, res.RowsWritten, res.Elapsed.Truncate(time.Millisecond))
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runModule(ctx context.Context, m module.Module) (Result, error) {
	target, ok := r.cfg.Target(m.Sink)
	if !ok {
		return Result{}, fmt.Errorf("sink target %q not found", m.Sink)
	}

	db := queryengine.NewDatabase("apitap")
	for _, srcName := range m.Sources {
		src, ok := r.cfg.Source(srcName)
		if !ok {
			return Result{}, fmt.Errorf("source %q not found", srcName)
		}
		factory := r.factoryFor(src)

		sample, err := factory.Sample(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("source %s: sample: %w", srcName, err)
		}
		sch := schema.Infer(sample, src.SampleSize)
		if err := schema.Validate(sch); err != nil {
			return Result{}, fmt.Errorf("source %s: %w", srcName, err)
		}

		batchSize := src.BatchSize
		if batchSize <= 0 {
			batchSize = batch.DefaultSize
		}
		tbl, err := queryengine.NewStreamTable(srcName, sch, batchSize, src.StrictSchema, factory)
		if err != nil {
			return Result{}, fmt.Errorf("source %s: %w", srcName, err)
		}
		db.Register(tbl)
	}

	eng := queryengine.NewEngine(db)
	cur, err := eng.Stream(ctx, m.SQL)
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	defer cur.Close()

	repo, err := destination.New(ctx, target)
	if err != nil {
		return Result{}, fmt.Errorf("sink %s: %w", target.Name, err)
	}
	defer repo.Close()

	outSchema := schemaFromSQL(cur.Schema())
	if target.AutoCreateTable {
		if err := repo.EnsureTable(ctx, outSchema); err != nil {
			return Result{}, fmt.Errorf("sink %s: %w", target.Name, err)
		}
	}

	columns := pagewriter.ColumnNames(cur.Schema())
	pw := pagewriter.New(repo, columns)
	if err := pw.Begin(ctx); err != nil {
		return Result{}, err
	}

	writeBatchSize := batch.DefaultSize
	var batches, queried int64
	page := make([][]any, 0, writeBatchSize)
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if err := pw.WritePage(ctx, page); err != nil {
			return err
		}
		batches++
		page = make([][]any, 0, writeBatchSize)
		return nil
	}
	for {
		r, ok, err := cur.Next()
		if err != nil {
			return Result{}, fmt.Errorf("query: %w", err)
		}
		if !ok {
			break
		}
		queried++
		page = append(page, pagewriter.RowValues(r))
		if len(page) >= writeBatchSize {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{}, err
	}
	metrics.RecordBatches(m.Name, batches)

	written, err := pw.Commit(ctx)
	if err != nil {
		return Result{}, err
	}

	return Result{Module: m.Name, Sink: target.Name, RowsWritten: written, RowsQueried: int(queried)}, nil
}

// factoryFor returns the cached stream factory for src, building one backed
// by a fresh httpfetch.Client/pagination.Driver pair on first reference.
func (r *Runner) factoryFor(src config.Source) *streamfactory.Factory {
	if f, ok := r.factories[src.Name]; ok {
		return f
	}

	client := r.clientFor(src)
	driver := pagination.NewDriver(client, src)
	fetchFn := func(ctx context.Context) (row.Stream, error) {
		s, _, err := driver.Stream(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch source %s: %w", src.Name, err)
		}
		return s, nil
	}

	f := streamfactory.NewFactory(src.SampleSize, fetchFn)
	r.factories[src.Name] = f
	return f
}

func (r *Runner) clientFor(src config.Source) *httpfetch.Client {
	if c, ok := r.clients[src.Name]; ok {
		return c
	}
	cfg := httpfetch.Config{}
	if src.Retry != nil {
		cfg.MaxAttempts = src.Retry.MaxAttempts
		cfg.InitialDelay = time.Duration(src.Retry.InitialDelayMS) * time.Millisecond
		cfg.MaxDelay = time.Duration(src.Retry.MaxDelayMS) * time.Millisecond
	}
	c := httpfetch.NewClient(cfg)
	r.clients[src.Name] = c
	return c
}

// schemaFromSQL reverses queryengine's sql.Type mapping so the pipeline can
// hand destination.Repository.EnsureTable a schema.Schema built from the
// query engine's own result schema, rather than re-inferring it.
func schemaFromSQL(sch sql.Schema) schema.Schema {
	out := make(schema.Schema, len(sch))
	for i, c := range sch {
		out[i] = schema.Field{Name: c.Name, Kind: kindFromSQLType(c.Type), Nullable: c.Nullable}
	}
	return out
}

func kindFromSQLType(t sql.Type) schema.Kind {
	switch t {
	case gmstypes.Boolean:
		return schema.KindBool
	case gmstypes.Int64:
		return schema.KindInt
	case gmstypes.Float64:
		return schema.KindFloat
	case gmstypes.Timestamp:
		return schema.KindTimestamp
	case gmstypes.Blob:
		return schema.KindBinary
	default:
		return schema.KindString
	}
}
