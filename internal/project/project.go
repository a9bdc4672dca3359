package project

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/expression"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/join"
	"github.com/roach88/vlayer/internal/layer"
	"github.com/roach88/vlayer/internal/schema"
	"github.com/roach88/vlayer/internal/sqlite"
)

// Project is an opened project: a store and its registered layers.
type Project struct {
	Config   *Config
	Store    *sqlite.Store
	Registry *layer.Registry
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to every layer.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open opens the project's database, creating and seeding declared tables
// that do not exist, then builds and registers one layer per dataset and
// adds their joins. Joins marked cache are cached before Open returns.
//
// A relative database path is resolved against baseDir.
func Open(ctx context.Context, cfg *Config, baseDir string, opts ...Option) (*Project, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	evaluator, err := expression.New(cfg.ExpressionEngine)
	if err != nil {
		return nil, err
	}

	path := cfg.Database
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	p := &Project{Config: cfg, Store: store, Registry: layer.NewRegistry()}

	if err := p.build(ctx, evaluator, o.logger); err != nil {
		store.Close()
		return nil, err
	}
	return p, nil
}

func (p *Project) build(ctx context.Context, evaluator expression.Evaluator, logger *slog.Logger) error {
	ids := slices.Sorted(maps.Keys(p.Config.Datasets))

	for _, id := range ids {
		ds := p.Config.Datasets[id]
		fields, err := p.ensureTable(ctx, id, ds, logger)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		var provOpts []sqlite.ProviderOption
		if p.Config.PageSize > 0 {
			provOpts = append(provOpts, sqlite.WithPageSize(p.Config.PageSize))
		}
		l := layer.New(id, sqlite.NewProvider(p.Store, ds.TableName(id), fields, provOpts...),
			layer.WithLogger(logger),
			layer.WithEvaluator(evaluator))
		if err := p.Registry.Register(l); err != nil {
			return err
		}
	}

	// Joins are added once every dataset is registered, joined datasets
	// first so their own joined fields are part of the schema.
	for _, id := range p.joinOrder(ids) {
		l, _ := p.Registry.Layer(id)
		for _, j := range p.Config.Datasets[id].Joins {
			rel := &join.Relationship{
				JoinDatasetID:   j.Dataset,
				JoinFieldName:   j.JoinField,
				TargetFieldName: j.TargetField,
				MemoryCache:     j.Cache,
				Prefix:          j.Prefix,
			}
			if err := l.AddJoin(rel); err != nil {
				return fmt.Errorf("dataset %q: join %q: %w", id, j.Dataset, err)
			}
		}
	}
	for _, id := range ids {
		l, _ := p.Registry.Layer(id)
		if err := l.CacheJoins(ctx); err != nil {
			return fmt.Errorf("dataset %q: cache joins: %w", id, err)
		}
	}
	return nil
}

// joinOrder sorts ids so that every dataset follows the datasets it joins.
// Cycles are left for AddJoin to reject.
func (p *Project) joinOrder(ids []string) []string {
	order := make([]string, 0, len(ids))
	state := make(map[string]int)
	var visit func(id string)
	visit = func(id string) {
		if state[id] != 0 {
			return
		}
		state[id] = 1
		for _, j := range p.Config.Datasets[id].Joins {
			visit(j.Dataset)
		}
		state[id] = 2
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}

// ensureTable returns the fields of the dataset's table, creating and
// seeding it from the declaration when it does not exist.
func (p *Project) ensureTable(ctx context.Context, id string, ds Dataset, logger *slog.Logger) (schema.Fields, error) {
	table := ds.TableName(id)

	existing, err := p.Store.TableFields(ctx, table)
	switch {
	case err == nil:
		if len(ds.Features) > 0 {
			logger.Info("table exists, seed features skipped", "dataset", id, "table", table)
		}
		return existing, nil
	case !sqlite.IsNotFound(err):
		return nil, err
	}

	if len(ds.Fields) == 0 {
		return nil, fmt.Errorf("table %q does not exist and no fields are declared", table)
	}
	declared := make([]schema.Field, 0, len(ds.Fields))
	for _, f := range ds.Fields {
		typ, err := schema.ParseType(f.Type)
		if err != nil {
			return nil, err
		}
		declared = append(declared, schema.Field{Name: f.Name, Type: typ})
	}
	fields := schema.NewProviderFields(declared...)
	if err := p.Store.CreateTable(ctx, table, fields); err != nil {
		return nil, err
	}

	seed := make([]*feature.Feature, 0, len(ds.Features))
	for i, sf := range ds.Features {
		f, err := edit.NewFeature(sf.Fid, fields, sf.Geometry, sf.Attributes)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		seed = append(seed, f)
	}
	if len(seed) > 0 {
		if err := p.Store.InsertFeatures(ctx, table, fields, seed...); err != nil {
			return nil, err
		}
	}
	logger.Debug("table created", "dataset", id, "table", table, "features", len(seed))
	return fields, nil
}

// Layer returns the dataset with id.
func (p *Project) Layer(id string) (*layer.Layer, bool) {
	return p.Registry.Layer(id)
}

// Close closes the store. Iterators must be closed first.
func (p *Project) Close() error {
	return p.Store.Close()
}
