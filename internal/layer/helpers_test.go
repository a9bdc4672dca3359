package layer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/join"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
	"github.com/roach88/vlayer/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startEditing(l *Layer) *edit.Buffer {
	return l.StartEditing(edit.WithSessionIDGenerator(testutil.NewFixedSessionGenerator("")))
}

var roadFields = schema.NewProviderFields(
	schema.Field{Name: "name", Type: schema.TypeText},
	schema.Field{Name: "lanes", Type: schema.TypeInteger},
)

func road(id int64, x, y float64, name string, lanes int64) *feature.Feature {
	return testutil.PointFeature(id, x, y, name, lanes)
}

func roadsProvider() *provider.Memory {
	return provider.NewMemory(roadFields,
		road(1, 0, 0, "Main", 2),
		road(2, 5, 5, "High", 4),
		road(3, 9, 9, "Mill", 1),
		road(4, 20, 20, "Dock", 2),
	)
}

func newRoads(opts ...Option) (*Layer, *provider.Memory) {
	mem := roadsProvider()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New("roads", mem, opts...), mem
}

func newFeature(x, y float64, attrs ...any) *feature.Feature {
	return testutil.PointFeature(0, x, y, attrs...)
}

func drain(t *testing.T, it *FeatureIterator) []*feature.Feature {
	t.Helper()
	var out []*feature.Feature
	for it.Next() {
		out = append(out, it.Feature())
	}
	require.NoError(t, it.Err())
	return out
}

func drainIDs(t *testing.T, it *FeatureIterator) []int64 {
	t.Helper()
	return feature.IDs(drain(t, it))
}

func byID(feats []*feature.Feature) map[int64]*feature.Feature {
	out := make(map[int64]*feature.Feature, len(feats))
	for _, f := range feats {
		out[f.ID()] = f
	}
	return out
}

var errBoom = errors.New("disk on fire")

// failingProvider fails scans after failAfter features, or at open.
type failingProvider struct {
	*provider.Memory
	failAfter int
	openErr   error
}

func (p *failingProvider) Features(ctx context.Context, req feature.Request) (provider.Iterator, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	it, err := p.Memory.Features(ctx, req)
	if err != nil {
		return nil, err
	}
	return &failingIterator{Iterator: it, left: p.failAfter}, nil
}

type failingIterator struct {
	provider.Iterator
	left int
	err  error
}

func (it *failingIterator) Next() bool {
	if it.left == 0 {
		it.err = errBoom
		return false
	}
	it.left--
	return it.Iterator.Next()
}

func (it *failingIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.Iterator.Err()
}

// Join fixtures: cities joined to countries on country_code = code.

var countryFields = schema.NewProviderFields(
	schema.Field{Name: "code", Type: schema.TypeText},
	schema.Field{Name: "name", Type: schema.TypeText},
	schema.Field{Name: "population", Type: schema.TypeInteger},
)

func country(id int64, code, name string, pop int64) *feature.Feature {
	return testutil.BareFeature(id, code, name, pop)
}

var cityFields = schema.NewProviderFields(
	schema.Field{Name: "city", Type: schema.TypeText},
	schema.Field{Name: "country_code", Type: schema.TypeText},
)

func city(id int64, x, y float64, name string, code any) *feature.Feature {
	return testutil.PointFeature(id, x, y, name, code)
}

type joinFixture struct {
	registry  *Registry
	cities    *Layer
	countries *Layer
	countryDB *provider.Memory
}

func newJoinFixture(t *testing.T, cache bool) *joinFixture {
	t.Helper()
	countryDB := provider.NewMemory(countryFields,
		country(1, "FR", "France", 68),
		country(2, "DE", "Germany", 84),
	)
	cityDB := provider.NewMemory(cityFields,
		city(1, 0, 0, "Paris", "FR"),
		city(2, 1, 1, "Berlin", "DE"),
		city(3, 2, 2, "Rome", "IT"),
		city(4, 3, 3, "Nowhere", nil),
	)

	fx := &joinFixture{
		registry:  NewRegistry(),
		countries: New("countries", countryDB, WithLogger(quietLogger())),
		cities:    New("cities", cityDB, WithLogger(quietLogger())),
		countryDB: countryDB,
	}
	require.NoError(t, fx.registry.Register(fx.countries))
	require.NoError(t, fx.registry.Register(fx.cities))
	require.NoError(t, fx.cities.AddJoin(&join.Relationship{
		JoinDatasetID:   "countries",
		JoinFieldName:   "code",
		TargetFieldName: "country_code",
		MemoryCache:     cache,
	}))
	if cache {
		require.NoError(t, fx.cities.CacheJoins(context.Background()))
	}
	return fx
}
