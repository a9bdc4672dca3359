package join

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// memSource is a Source over a memory provider.
type memSource struct {
	id       string
	mem      *provider.Memory
	filterFn int
	failWith error
}

func (s *memSource) ID() string            { return s.id }
func (s *memSource) Fields() schema.Fields { return s.mem.Fields() }

func (s *memSource) Scan(ctx context.Context, req feature.Request) feature.Iterator {
	it, err := s.mem.Features(ctx, req)
	if err != nil {
		panic(err)
	}
	return it
}

func (s *memSource) ScanMatching(ctx context.Context, pred provider.Predicate, req feature.Request) (feature.Iterator, error) {
	s.filterFn++
	if s.failWith != nil {
		return nil, s.failWith
	}
	prev := s.mem.SubsetFilter()
	if err := s.mem.SetSubsetFilter(provider.Combine(prev, pred)); err != nil {
		return nil, err
	}
	defer s.mem.SetSubsetFilter(prev)
	return s.Scan(ctx, req), nil
}

type resolverMap map[string]Source

func (r resolverMap) Resolve(id string) (Source, bool) {
	s, ok := r[id]
	return s, ok
}

var countryFields = schema.NewProviderFields(
	schema.Field{Name: "code", Type: schema.TypeText},
	schema.Field{Name: "name", Type: schema.TypeText},
	schema.Field{Name: "population", Type: schema.TypeInteger},
)

func country(id int64, code, name string, pop int64) *feature.Feature {
	f := feature.New(id, 3)
	f.SetAttributes(feature.Attributes{code, name, pop})
	return f
}

func newCountries() *memSource {
	return &memSource{id: "countries", mem: provider.NewMemory(countryFields,
		country(1, "FR", "France", 68),
		country(2, "DE", "Germany", 84),
		country(3, "FR", "Duplicate France", 0),
	)}
}

var cityProviderFields = schema.NewProviderFields(
	schema.Field{Name: "city", Type: schema.TypeText},
	schema.Field{Name: "country_code", Type: schema.TypeText},
)

// cityFields returns the city schema with the joined country fields.
func cityFields(t *testing.T, buf *Buffer, resolver Resolver) schema.Fields {
	t.Helper()
	joined, err := buf.JoinedFields(resolver)
	require.NoError(t, err)
	return append(cityProviderFields.Clone(), joined...)
}

func countriesJoin(cache bool) *Relationship {
	return &Relationship{
		JoinDatasetID:   "countries",
		JoinFieldName:   "code",
		TargetFieldName: "country_code",
		MemoryCache:     cache,
	}
}

func city(id int64, name string, code any, width int) *feature.Feature {
	f := feature.New(id, width)
	f.SetAttribute(0, name)
	f.SetAttribute(1, code)
	return f
}

func quietPlan(p *Plan) *Plan {
	p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return p
}

func TestBuffer_AddJoinRejectsDuplicateDataset(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))

	err := buf.AddJoin(&Relationship{JoinDatasetID: "countries", JoinFieldName: "name", TargetFieldName: "city"})
	assert.ErrorIs(t, err, ErrDuplicateJoin)
	assert.Error(t, buf.AddJoin(&Relationship{JoinDatasetID: "x"}))
	assert.Equal(t, 1, buf.Len())
}

func TestBuffer_RemoveJoin(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))

	assert.False(t, buf.RemoveJoin("regions"))
	assert.True(t, buf.RemoveJoin("countries"))
	assert.Empty(t, buf.Relationships())
}

func TestBuffer_JoinedFields(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	resolver := resolverMap{"countries": newCountries()}

	fields := cityFields(t, buf, resolver)

	assert.Equal(t, []string{"city", "country_code", "countries_name", "countries_population"}, fields.Names())
	assert.Equal(t, schema.OriginJoin, fields.FieldOrigin(2))
	assert.Equal(t, 1, fields.FieldOriginIndex(2))
	assert.Equal(t, 2, fields.FieldOriginIndex(3))
	assert.Equal(t, schema.TypeInteger, fields[3].Type)
	assert.Equal(t, 2, fields.JoinOffset(0))

	rel, ok := buf.JoinForFieldIndex(fields, 3)
	require.True(t, ok)
	assert.Equal(t, "countries", rel.JoinDatasetID)
	_, ok = buf.JoinForFieldIndex(fields, 0)
	assert.False(t, ok)
}

func TestBuffer_JoinedFieldsCustomPrefix(t *testing.T) {
	buf := NewBuffer()
	rel := countriesJoin(false)
	rel.Prefix = "c_"
	require.NoError(t, buf.AddJoin(rel))

	joined, err := buf.JoinedFields(resolverMap{"countries": newCountries()})
	require.NoError(t, err)
	assert.Equal(t, []string{"c_name", "c_population"}, joined.Names())
}

func TestBuffer_JoinedFieldsDangling(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))

	_, err := buf.JoinedFields(resolverMap{})
	assert.ErrorIs(t, err, ErrDanglingJoin)
}

func TestBuffer_DependsOn(t *testing.T) {
	a, b := NewBuffer(), NewBuffer()
	require.NoError(t, a.AddJoin(&Relationship{JoinDatasetID: "b", JoinFieldName: "k", TargetFieldName: "k"}))
	require.NoError(t, b.AddJoin(&Relationship{JoinDatasetID: "c", JoinFieldName: "k", TargetFieldName: "k"}))
	buffers := func(id string) (*Buffer, bool) {
		switch id {
		case "a":
			return a, true
		case "b":
			return b, true
		}
		return nil, false
	}

	assert.True(t, a.DependsOn("c", buffers))
	assert.True(t, a.DependsOn("b", buffers))
	assert.False(t, b.DependsOn("a", buffers))
}

func TestRelationship_CacheFirstRowWins(t *testing.T) {
	src := newCountries()
	src.mem.Put(country(4, "", "", 0))
	nullKey := feature.New(5, 3)
	src.mem.Put(nullKey)

	rel := countriesJoin(true)
	_, built := rel.CachedAttributes()
	assert.False(t, built)

	require.NoError(t, rel.Cache(context.Background(), src))

	rows, built := rel.CachedAttributes()
	require.True(t, built)
	assert.Len(t, rows, 3, "FR, DE and the empty string; null keys are skipped")
	assert.Equal(t, feature.Attributes{"FR", "France", int64(68)}, rows["FR"])

	rel.InvalidateCache()
	_, built = rel.CachedAttributes()
	assert.False(t, built)
}

func TestRelationship_CacheUnknownJoinField(t *testing.T) {
	rel := &Relationship{JoinDatasetID: "countries", JoinFieldName: "iso", TargetFieldName: "country_code"}
	err := rel.Cache(context.Background(), newCountries())
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestBuffer_CacheAllOnlyMarkedJoins(t *testing.T) {
	buf := NewBuffer()
	cached := countriesJoin(true)
	require.NoError(t, buf.AddJoin(cached))
	direct := &Relationship{JoinDatasetID: "regions", JoinFieldName: "code", TargetFieldName: "city"}
	require.NoError(t, buf.AddJoin(direct))

	regions := &memSource{id: "regions", mem: provider.NewMemory(countryFields)}
	require.NoError(t, buf.CacheAll(context.Background(), resolverMap{"countries": newCountries(), "regions": regions}))

	_, built := cached.CachedAttributes()
	assert.True(t, built)
	_, built = direct.CachedAttributes()
	assert.False(t, built)

	assert.ErrorIs(t, buf.CacheAll(context.Background(), resolverMap{}), ErrDanglingJoin)
}

func TestPrepare_AllAttributes(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	resolver := resolverMap{"countries": newCountries()}
	fields := cityFields(t, buf, resolver)

	plan, err := Prepare(fields, buf, resolver, feature.NewRequest())
	require.NoError(t, err)

	require.Len(t, plan.Infos, 1)
	info := plan.Infos[0]
	assert.Equal(t, 2, info.IndexOffset)
	assert.Equal(t, 1, info.TargetField)
	assert.Equal(t, 0, info.JoinField)
	assert.Equal(t, 3, info.SourceWidth)
	assert.Equal(t, []int{1, 2}, info.Attributes)
	assert.Empty(t, plan.ExtraTargets)
}

func TestPrepare_SubsetAddsTargetField(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	resolver := resolverMap{"countries": newCountries()}
	fields := cityFields(t, buf, resolver)

	plan, err := Prepare(fields, buf, resolver, feature.NewRequest().WithSubset(0, 3))
	require.NoError(t, err)

	require.Len(t, plan.Infos, 1)
	assert.Equal(t, []int{2}, plan.Infos[0].Attributes)
	assert.Equal(t, []int{1}, plan.ExtraTargets)
}

func TestPrepare_SubsetWithoutJoinFields(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	resolver := resolverMap{"countries": newCountries()}
	fields := cityFields(t, buf, resolver)

	plan, err := Prepare(fields, buf, resolver, feature.NewRequest().WithSubset(0))
	require.NoError(t, err)
	assert.Empty(t, plan.Infos)
	assert.Empty(t, plan.ExtraTargets)

	// A dangling join outside the projection does not matter.
	plan, err = Prepare(fields, buf, resolverMap{}, feature.NewRequest().WithSubset(0))
	require.NoError(t, err)
	assert.Empty(t, plan.Infos)
}

func TestPrepare_Failures(t *testing.T) {
	resolver := resolverMap{"countries": newCountries()}
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	fields := cityFields(t, buf, resolver)

	_, err := Prepare(fields, buf, resolverMap{}, feature.NewRequest())
	assert.ErrorIs(t, err, ErrDanglingJoin)

	badJoin := NewBuffer()
	require.NoError(t, badJoin.AddJoin(&Relationship{JoinDatasetID: "countries", JoinFieldName: "iso", TargetFieldName: "country_code"}))
	_, err = Prepare(cityProviderFields, badJoin, resolver, feature.NewRequest())
	assert.ErrorIs(t, err, ErrUnknownField)

	badTarget := NewBuffer()
	require.NoError(t, badTarget.AddJoin(&Relationship{JoinDatasetID: "countries", JoinFieldName: "code", TargetFieldName: "nation"}))
	_, err = Prepare(cityProviderFields, badTarget, resolver, feature.NewRequest())
	assert.ErrorIs(t, err, ErrUnknownField)
}

func enrichAll(t *testing.T, cache bool, src *memSource, feats ...*feature.Feature) {
	t.Helper()
	buf := NewBuffer()
	rel := countriesJoin(cache)
	require.NoError(t, buf.AddJoin(rel))
	resolver := resolverMap{"countries": src}
	if cache {
		require.NoError(t, buf.CacheAll(context.Background(), resolver))
	}
	fields := cityFields(t, buf, resolver)

	plan, err := Prepare(fields, buf, resolver, feature.NewRequest())
	require.NoError(t, err)
	quietPlan(plan)
	for _, f := range feats {
		plan.Enrich(context.Background(), f)
	}
}

func TestEnrich_CachedAndDirectAgree(t *testing.T) {
	for _, cache := range []bool{true, false} {
		name := "direct"
		if cache {
			name = "cached"
		}
		t.Run(name, func(t *testing.T) {
			paris := city(10, "Paris", "FR", 4)
			berlin := city(11, "Berlin", "DE", 4)
			rome := city(12, "Rome", "IT", 4)
			nowhere := city(13, "Nowhere", nil, 4)
			nowhere.SetAttribute(2, "stale")

			enrichAll(t, cache, newCountries(), paris, berlin, rome, nowhere)

			assert.Equal(t, feature.Attributes{"Paris", "FR", "France", int64(68)}, paris.Attributes(), "first match wins")
			assert.Equal(t, feature.Attributes{"Berlin", "DE", "Germany", int64(84)}, berlin.Attributes())
			assert.Equal(t, feature.Attributes{"Rome", "IT", nil, nil}, rome.Attributes())
			assert.Equal(t, feature.Attributes{"Nowhere", nil, nil, nil}, nowhere.Attributes())
		})
	}
}

func TestEnrich_CanonicalKeyMatchesAcrossTypes(t *testing.T) {
	src := &memSource{id: "countries", mem: provider.NewMemory(countryFields, country(1, "42", "Answer", 1))}
	for _, cache := range []bool{true, false} {
		f := city(1, "x", int64(42), 4)
		enrichAll(t, cache, src, f)
		assert.Equal(t, "Answer", f.Attribute(2), "cache=%v", cache)
	}
}

func TestEnrich_DirectRestoresSubsetFilter(t *testing.T) {
	src := newCountries()
	original := provider.Equals{Field: "population", Value: 84}
	require.NoError(t, src.mem.SetSubsetFilter(original))

	paris := city(1, "Paris", "FR", 4)
	berlin := city(2, "Berlin", "DE", 4)
	enrichAll(t, false, src, paris, berlin)

	assert.Nil(t, paris.Attribute(2), "FR is outside the joined dataset's own filter")
	assert.Equal(t, "Germany", berlin.Attribute(2))
	assert.Equal(t, original, src.mem.SubsetFilter())
	assert.Equal(t, 2, src.filterFn)

	// Re-query with no filter: every row is visible again.
	require.NoError(t, src.mem.SetSubsetFilter(nil))
	it, err := src.mem.Features(context.Background(), feature.NewRequest())
	require.NoError(t, err)
	feats, err := feature.Drain(it)
	require.NoError(t, err)
	assert.Len(t, feats, 3)
}

func TestEnrich_DirectNullKeyDoesNotQuery(t *testing.T) {
	src := newCountries()
	enrichAll(t, false, src, city(1, "x", nil, 4))
	assert.Zero(t, src.filterFn)
}

func TestEnrich_DirectFailureIsMiss(t *testing.T) {
	src := newCountries()
	src.failWith = errors.New("joined dataset offline")

	f := city(1, "Paris", "FR", 4)
	enrichAll(t, false, src, f)

	assert.Equal(t, feature.Attributes{"Paris", "FR", nil, nil}, f.Attributes())
}

func TestEnrich_SubsetDirectQueryFetchesRequestedOnly(t *testing.T) {
	buf := NewBuffer()
	require.NoError(t, buf.AddJoin(countriesJoin(false)))
	resolver := resolverMap{"countries": newCountries()}
	fields := cityFields(t, buf, resolver)

	plan, err := Prepare(fields, buf, resolver, feature.NewRequest().WithSubset(3))
	require.NoError(t, err)

	f := city(1, "Berlin", "DE", 4)
	quietPlan(plan).Enrich(context.Background(), f)
	assert.Equal(t, feature.Attributes{"Berlin", "DE", nil, int64(84)}, f.Attributes())
}
