// Package pagination implements component C6: driving one of four
// pagination strategies against an HTTP source, fetching pages with bounded
// concurrency while preserving page order, and terminating per-strategy.
// It is grounded on the original implementation's PaginatedFetcher
// (fetch_limit_offset / fetch_page_number, buffer_unordered concurrency,
// TotalHint) and uses golang.org/x/sync/errgroup for the bounded fan-out —
// SetLimit caps in-flight requests and Wait cancels every sibling fetch as
// soon as one page errors, the same dependency family (golang.org/x/sync)
// the teacher already uses for fan-out/fan-in coordination.
//
// Stream is C6's primary contract: it emits rows through a row.Stream as
// pages complete, in page order, instead of buffering the whole result set
// before returning anything. That is what lets C4's stream factory push
// backpressure back to the HTTP fetch loop instead of C6 materializing the
// whole source first (out-of-order pages are still buffered, see
// streamRemainingOrdered). Fetch is a
// drain-to-slice convenience built on top of Stream for callers (tests,
// one-shot tooling) that want the whole result at once.
package pagination

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"apitap/internal/config"
	"apitap/internal/httpfetch"
	"apitap/internal/row"
)

// TotalHint captures whatever the first page told us about the overall
// result size. At most one of Items/Pages is set.
type TotalHint struct {
	Items *int
	Pages *int
}

// FetchStats accumulates the C6 run summary. When obtained via Stream, its
// fields are updated as pages complete and only reach their final values
// once the stream reports end-of-stream (Next returning ok=false).
type FetchStats struct {
	PagesFetched int
	RowsEmitted  int
	RetriesUsed  int
	Total        TotalHint
}

// Driver runs one source's pagination strategy.
type Driver struct {
	client *httpfetch.Client
	src    config.Source
}

func NewDriver(client *httpfetch.Client, src config.Source) *Driver {
	return &Driver{client: client, src: src}
}

// Fetch drives the configured strategy to completion and returns every row
// in page order, by draining Stream into a slice. Prefer Stream for the
// pipeline runner's own use (C9 wires it straight into C4's factory); Fetch
// exists for callers that genuinely want the whole result materialized.
func (d *Driver) Fetch(ctx context.Context) ([]row.Row, *FetchStats, error) {
	s, stats, err := d.Stream(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()

	rows, err := row.Collect(ctx, s, 0)
	if err != nil {
		return rows, stats, err
	}
	return rows, stats, nil
}

// Stream drives the configured strategy in a background goroutine and
// returns a row.Stream that emits each page's rows as soon as that page is
// fetched, preserving page order regardless of how the fan-out inside a
// strategy completes out of order. stats is the same pointer the caller
// will see updated once the stream is fully drained.
func (d *Driver) Stream(ctx context.Context) (row.Stream, *FetchStats, error) {
	p := d.src.Pagination
	if p == nil {
		return nil, nil, fmt.Errorf("pagination: source %q has no pagination config", d.src.Name)
	}
	headers, err := d.authHeaders()
	if err != nil {
		return nil, nil, err
	}

	stats := &FetchStats{}
	out := make(chan row.Row, 256)
	errc := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)

	emit := func(ctx context.Context, rows []row.Row) error {
		for _, r := range rows {
			select {
			case out <- r:
				stats.RowsEmitted++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	go func() {
		defer close(out)
		var runErr error
		switch p.Strategy {
		case config.StrategyLimitOffset:
			runErr = d.streamLimitOffset(runCtx, headers, stats, emit)
		case config.StrategyPageNumber, config.StrategyPageOnly:
			runErr = d.streamPageNumber(runCtx, headers, stats, emit)
		case config.StrategyCursor:
			runErr = d.streamCursor(runCtx, headers, stats, emit)
		default:
			runErr = fmt.Errorf("pagination: unknown strategy %q", p.Strategy)
		}
		log.Printf("pagination: source=%s pages=%d rows=%d err=%v", d.src.Name, stats.PagesFetched, stats.RowsEmitted, runErr)
		errc <- runErr
		cancel()
	}()

	return &rowChanStream{rows: out, errc: errc, cancel: cancel}, stats, nil
}

// rowChanStream adapts the background fetch goroutine's output channel into
// a row.Stream, surfacing the goroutine's terminal error (if any) as the
// error returned alongside end-of-stream.
type rowChanStream struct {
	rows   <-chan row.Row
	errc   chan error
	cancel context.CancelFunc

	done bool
	err  error
}

func (s *rowChanStream) Next(ctx context.Context) (row.Row, bool, error) {
	if s.done {
		return nil, false, s.err
	}
	select {
	case r, ok := <-s.rows:
		if ok {
			return r, true, nil
		}
		s.done = true
		s.err = <-s.errc
		return nil, false, s.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *rowChanStream) Close() error {
	s.cancel()
	return nil
}

func (d *Driver) authHeaders() (map[string]string, error) {
	headers := make(map[string]string, len(d.src.Headers)+1)
	for k, v := range d.src.Headers {
		headers[k] = v
	}
	kind, primary, secondary, headerName, err := d.src.Auth.Resolve()
	if err != nil {
		return nil, err
	}
	switch kind {
	case "bearer":
		headers["Authorization"] = "Bearer " + primary
	case "basic":
		headers["Authorization"] = basicAuthHeader(primary, secondary)
	case "header":
		if headerName != "" {
			headers[headerName] = primary
		}
	}
	return headers, nil
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// pageURL builds the URL for one page given a strategy-specific set of
// query parameters to overlay on the source's base URL.
func (d *Driver) pageURL(params map[string]string) (string, error) {
	u, err := url.Parse(d.src.URL)
	if err != nil {
		return "", fmt.Errorf("pagination: parse url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Driver) fetchOne(ctx context.Context, headers map[string]string, params map[string]string) ([]row.Row, map[string]any, error) {
	u, err := d.pageURL(params)
	if err != nil {
		return nil, nil, err
	}
	body, _, err := d.client.Get(ctx, u, headers)
	if err != nil {
		return nil, nil, err
	}
	rows, err := httpfetch.ParseBody(body, d.src.DataPath)
	if err != nil {
		return nil, nil, err
	}
	var envelope map[string]any
	_ = jsonBestEffortObject(body, &envelope)
	return rows, envelope, nil
}

// jsonBestEffortObject tries to decode body as a JSON object purely to read
// total-hint fields; arrays and NDJSON bodies simply fail to decode and are
// silently ignored by the caller.
func jsonBestEffortObject(body []byte, out *map[string]any) error {
	return json.Unmarshal(body, out)
}

func totalHintFromEnvelope(p config.Pagination, envelope map[string]any) TotalHint {
	var hint TotalHint
	if envelope == nil {
		return hint
	}
	if p.TotalItemsPath != "" {
		if v, ok := httpfetch.ValueAtPath(envelope, p.TotalItemsPath); ok {
			if n, ok := toInt(v); ok {
				hint.Items = &n
			}
		}
	}
	if p.TotalPagesPath != "" {
		if v, ok := httpfetch.ValueAtPath(envelope, p.TotalPagesPath); ok {
			if n, ok := toInt(v); ok {
				hint.Pages = &n
			}
		}
	}
	return hint
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// streamLimitOffset implements the limit/offset strategy: the first page is
// fetched alone (to learn the total hint, exactly as the original
// implementation's fetch_limit_offset does), then remaining pages are
// fetched with bounded concurrency and emitted back in order.
func (d *Driver) streamLimitOffset(ctx context.Context, headers map[string]string, stats *FetchStats, emit func(context.Context, []row.Row) error) error {
	p := *d.src.Pagination
	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	firstRows, envelope, err := d.fetchOne(ctx, headers, map[string]string{
		p.LimitParam:  strconv.Itoa(pageSize),
		p.OffsetParam: "0",
	})
	if err != nil {
		return err
	}
	stats.Total = totalHintFromEnvelope(p, envelope)

	if len(firstRows) == 0 {
		stats.PagesFetched = 1
		return nil
	}

	var totalPages int
	if stats.Total.Items != nil {
		totalPages = (*stats.Total.Items + pageSize - 1) / pageSize
	}

	fetchFn := func(ctx context.Context, pageIdx int) ([]row.Row, error) {
		offset := pageIdx * pageSize
		rows, _, err := d.fetchOne(ctx, headers, map[string]string{
			p.LimitParam:  strconv.Itoa(pageSize),
			p.OffsetParam: strconv.Itoa(offset),
		})
		return rows, err
	}

	fetched, err := streamRemainingOrdered(ctx, p.Concurrency, firstRows, totalPages, len(firstRows) < pageSize, fetchFn, emit)
	stats.PagesFetched = fetched
	return err
}

// streamPageNumber implements both page_number (with a total-pages hint or
// empty-page termination) and page_only (no hint available at all, always
// terminate on an empty page) since the only behavioral difference is
// whether a total hint can short-circuit the fan-out.
func (d *Driver) streamPageNumber(ctx context.Context, headers map[string]string, stats *FetchStats, emit func(context.Context, []row.Row) error) error {
	p := *d.src.Pagination
	first := p.FirstPage

	params := map[string]string{p.PageParam: strconv.Itoa(first)}
	if p.PageSizeParam != "" && p.PageSize > 0 {
		params[p.PageSizeParam] = strconv.Itoa(p.PageSize)
	}
	firstRows, envelope, err := d.fetchOne(ctx, headers, params)
	if err != nil {
		return err
	}
	stats.Total = totalHintFromEnvelope(p, envelope)

	if len(firstRows) == 0 {
		stats.PagesFetched = 1
		return nil
	}

	var totalPages int
	if stats.Total.Pages != nil {
		totalPages = *stats.Total.Pages
	}

	fetchFn := func(ctx context.Context, pageIdx int) ([]row.Row, error) {
		params := map[string]string{p.PageParam: strconv.Itoa(first + pageIdx)}
		if p.PageSizeParam != "" && p.PageSize > 0 {
			params[p.PageSizeParam] = strconv.Itoa(p.PageSize)
		}
		rows, _, err := d.fetchOne(ctx, headers, params)
		return rows, err
	}

	fetched, err := streamRemainingOrdered(ctx, p.Concurrency, firstRows, totalPages, false, fetchFn, emit)
	stats.PagesFetched = fetched
	return err
}

// streamCursor implements the cursor strategy. Cursor pagination is
// inherently sequential (page k+1's request parameter depends on page k's
// response), so no concurrency window applies here and every page is
// emitted the moment it arrives; per the Open Question resolved in
// DESIGN.md, a non-null next-cursor whose page came back empty still
// terminates the fetch rather than following the cursor indefinitely.
func (d *Driver) streamCursor(ctx context.Context, headers map[string]string, stats *FetchStats, emit func(context.Context, []row.Row) error) error {
	p := *d.src.Pagination
	cursor := ""
	for {
		params := map[string]string{}
		if cursor != "" {
			params[p.CursorParam] = cursor
		}
		rows, envelope, err := d.fetchOne(ctx, headers, params)
		if err != nil {
			return err
		}
		stats.PagesFetched++
		if len(rows) == 0 {
			break
		}
		if err := emit(ctx, rows); err != nil {
			return err
		}

		next, ok := httpfetch.ValueAtPath(envelope, p.CursorPath)
		nextStr, isStr := next.(string)
		if !ok || !isStr || nextStr == "" {
			break
		}
		cursor = nextStr

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// streamRemainingOrdered fetches pages 1..N (0-based page index 1 onward,
// page 0 already supplied via firstRows) with at most `concurrency`
// in-flight requests, stopping either at knownTotalPages (when > 0) or at
// the first empty page, and emits rows through emit in strict page order as
// each page arrives. Pages that complete out of order are held in a pending
// map until the in-order cursor catches up to them. The concurrency limit
// bounds requests in flight, not that map: while an early page is slow,
// later pages that have already completed keep accumulating in it, up to
// the number of remaining pages. The emit call
// itself runs inside the same critical section that advances the cursor, so
// concurrently completing pages can never be emitted out of order.
// alreadyShort indicates the first page itself was shorter than a full
// page, which also terminates the fetch immediately.
func streamRemainingOrdered(
	ctx context.Context,
	concurrency int,
	firstRows []row.Row,
	knownTotalPages int,
	alreadyShort bool,
	fetchFn func(ctx context.Context, pageIdx int) ([]row.Row, error),
	emit func(ctx context.Context, rows []row.Row) error,
) (int, error) {
	if err := emit(ctx, firstRows); err != nil {
		return 1, err
	}
	if alreadyShort {
		return 1, nil
	}

	if knownTotalPages > 1 {
		if concurrency <= 0 {
			concurrency = 1
		}

		var mu sync.Mutex
		pending := make(map[int][]row.Row, concurrency)
		next := 1

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i := 1; i < knownTotalPages; i++ {
			idx := i
			g.Go(func() error {
				rows, err := fetchFn(gctx, idx)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				pending[idx] = rows
				for {
					ready, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					next++
					if err := emit(gctx, ready); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 1, err
		}
		return knownTotalPages, nil
	}

	// No total-pages hint: fetch sequentially until an empty page, the
	// simplest termination rule that still bounds memory and never
	// over-fetches.
	fetched := 1
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		rows, err := fetchFn(ctx, idx)
		if err != nil {
			return fetched, err
		}
		fetched++
		if len(rows) == 0 {
			break
		}
		if err := emit(ctx, rows); err != nil {
			return fetched, err
		}
	}
	return fetched, nil
}
