package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// DefaultPageSize is the number of rows fetched per keyset page.
const DefaultPageSize = 256

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithPageSize sets the keyset page size. Values below 1 are ignored.
func WithPageSize(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// Provider serves one dataset table of a Store.
type Provider struct {
	store    *Store
	table    string
	fields   schema.Fields
	pageSize int

	mu     sync.RWMutex
	subset provider.Predicate
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.PointQuerier   = (*Provider)(nil)
	_ provider.SubsetFilterer = (*Provider)(nil)
)

// NewProvider creates a provider over table with the given schema. The table
// must exist (see Store.CreateTable).
func NewProvider(s *Store, table string, fields schema.Fields, opts ...ProviderOption) *Provider {
	p := &Provider{
		store:    s,
		table:    table,
		fields:   schema.NewProviderFields(fields...),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Table returns the table name.
func (p *Provider) Table() string { return p.table }

// Fields implements provider.Provider.
func (p *Provider) Fields() schema.Fields { return p.fields.Clone() }

// SubsetFilter implements provider.SubsetFilterer.
func (p *Provider) SubsetFilter() provider.Predicate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subset
}

// SetSubsetFilter implements provider.SubsetFilterer. The predicate is
// compiled eagerly so that invalid filters are rejected here rather than on
// the next read.
func (p *Provider) SetSubsetFilter(pred provider.Predicate) error {
	if _, _, err := compilePredicate(pred, p.fields); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subset = pred
	return nil
}

// Features implements provider.Provider. The subset filter in effect at
// open time applies for the iterator's lifetime, including rewinds.
func (p *Provider) Features(ctx context.Context, req feature.Request) (provider.Iterator, error) {
	q, err := buildScan(req, p.SubsetFilter(), p.fields)
	if err != nil {
		return nil, err
	}
	cols := p.selectColumns(req)
	slog.Debug("sqlite scan opened", "table", p.table, "request", req.String())
	return &iterator{
		p:      p,
		ctx:    ctx,
		req:    req,
		query:  q,
		cols:   cols,
		selSQL: p.selectSQL(req, cols),
	}, nil
}

// FeatureAt implements provider.PointQuerier.
func (p *Provider) FeatureAt(ctx context.Context, fid int64, req feature.Request) (*feature.Feature, bool, error) {
	req = req.WithFid(fid)
	q, err := buildScan(req, p.SubsetFilter(), p.fields)
	if err != nil {
		return nil, false, err
	}
	cols := p.selectColumns(req)
	stmt := p.selectSQL(req, cols) + q.clause() + " LIMIT 1"

	rows, err := p.store.db.QueryContext(ctx, stmt, q.params...)
	if err != nil {
		return nil, false, fmt.Errorf("query %s fid %d: %w", p.table, fid, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	f, err := p.scanFeature(rows, req, cols)
	if err != nil {
		return nil, false, err
	}
	return f, true, rows.Err()
}

// selectColumns returns the provider field indices to read for req.
func (p *Provider) selectColumns(req feature.Request) []int {
	var cols []int
	for i := range p.fields {
		if req.Wants(i) {
			cols = append(cols, i)
		}
	}
	return cols
}

func (p *Provider) selectSQL(req feature.Request, cols []int) string {
	parts := []string{"fid"}
	if !req.SkipGeometry() {
		parts = append(parts, "geom")
	}
	for _, idx := range cols {
		parts = append(parts, quoteIdent(p.fields[idx].Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(parts, ", "), quoteIdent(p.table))
}

func (p *Provider) scanFeature(rows *sql.Rows, req feature.Request, cols []int) (*feature.Feature, error) {
	var fid int64
	var blob []byte
	values := make([]any, len(cols))

	dest := []any{&fid}
	if !req.SkipGeometry() {
		dest = append(dest, &blob)
	}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.table, err)
	}

	f := feature.New(fid, len(p.fields))
	for i, idx := range cols {
		f.SetAttribute(idx, feature.Normalize(values[i]))
	}
	if len(blob) > 0 {
		shape, err := wkb.DecodeBytes(blob)
		if err != nil {
			return nil, fmt.Errorf("decode geometry of %s fid %d: %w", p.table, fid, err)
		}
		g, err := feature.NewGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("geometry of %s fid %d: %w", p.table, fid, err)
		}
		f.SetGeometry(g)
	}
	return f, nil
}

// iterator reads keyset pages. No *sql.Rows outlives a call to Next.
type iterator struct {
	p      *Provider
	ctx    context.Context
	req    feature.Request
	query  *queryParts
	cols   []int
	selSQL string

	page      []*feature.Feature
	pagePos   int
	lastFid   int64
	started   bool
	exhausted bool

	current *feature.Feature
	err     error
	closed  bool
}

func (it *iterator) Next() bool {
	it.current = nil
	if it.closed || it.err != nil {
		return false
	}
	if it.pagePos >= len(it.page) {
		if it.exhausted {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
		if len(it.page) == 0 {
			return false
		}
	}
	it.current = it.page[it.pagePos]
	it.pagePos++
	return true
}

func (it *iterator) fetchPage() error {
	where := append([]string(nil), it.query.where...)
	params := append([]any(nil), it.query.params...)
	if it.started {
		where = append(where, "fid > ?")
		params = append(params, it.lastFid)
	}
	stmt := it.selSQL
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY fid ASC LIMIT ?"
	params = append(params, it.p.pageSize)

	rows, err := it.p.store.db.QueryContext(it.ctx, stmt, params...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", it.p.table, err)
	}
	defer rows.Close()

	it.page = it.page[:0]
	it.pagePos = 0
	for rows.Next() {
		f, err := it.p.scanFeature(rows, it.req, it.cols)
		if err != nil {
			return err
		}
		it.page = append(it.page, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", it.p.table, err)
	}

	it.started = true
	if len(it.page) > 0 {
		it.lastFid = it.page[len(it.page)-1].ID()
	}
	if len(it.page) < it.p.pageSize {
		it.exhausted = true
	}
	return nil
}

func (it *iterator) Feature() *feature.Feature { return it.current }

func (it *iterator) Err() error { return it.err }

func (it *iterator) Rewind() error {
	if it.closed {
		return provider.ErrClosed
	}
	it.page = it.page[:0]
	it.pagePos = 0
	it.lastFid = 0
	it.started = false
	it.exhausted = false
	it.current = nil
	it.err = nil
	return nil
}

func (it *iterator) Close() error {
	it.closed = true
	it.current = nil
	it.page = nil
	return nil
}

// IsNotFound reports whether err means a table or row was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
