package layer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/join"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/sqlite"
)

func TestRegistry_RegisterAndRemove(t *testing.T) {
	r := NewRegistry()
	a, _ := newRoads()
	b := New("other", roadsProvider(), WithLogger(quietLogger()))

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.ErrorIs(t, r.Register(a), ErrDuplicateLayer)

	got, ok := r.Layer("roads")
	require.True(t, ok)
	assert.Same(t, a, got)

	ids := func() []string {
		var out []string
		for _, l := range r.Layers() {
			out = append(out, l.ID())
		}
		return out
	}
	assert.Equal(t, []string{"roads", "other"}, ids())

	assert.True(t, r.Remove("roads"))
	assert.False(t, r.Remove("roads"))
	assert.Equal(t, []string{"other"}, ids())
	_, ok = r.Resolve("roads")
	assert.False(t, ok)
}

func TestLayer_EditingLifecycle(t *testing.T) {
	l, _ := newRoads()
	assert.False(t, l.IsEditing())
	assert.Nil(t, l.EditBuffer())

	edits := startEditing(l)
	assert.Same(t, edits, l.StartEditing(), "second StartEditing returns the open session")
	assert.Equal(t, "test-session", edits.SessionID())
	require.NoError(t, edits.DeleteFeature(1))
	assert.Equal(t, []int64{2, 3, 4}, drainIDs(t, l.Features(ctx, feature.NewRequest())))

	l.StopEditing()
	assert.False(t, l.IsEditing())
	assert.Equal(t, []int64{1, 2, 3, 4}, drainIDs(t, l.Features(ctx, feature.NewRequest())))
}

func TestLayer_SubsetFilterRestrictsScans(t *testing.T) {
	l, _ := newRoads()
	require.NoError(t, l.SetSubsetFilter(provider.Equals{Field: "lanes", Value: 2}))

	assert.Equal(t, []int64{1, 4}, drainIDs(t, l.Features(ctx, feature.NewRequest())))
	assert.Equal(t, provider.Equals{Field: "lanes", Value: 2}, l.SubsetFilter())
}

func TestLayer_ScanMatchingNarrowsOnlyItsIterator(t *testing.T) {
	l, mem := newRoads()
	prev := provider.Equals{Field: "lanes", Value: 2}
	require.NoError(t, l.SetSubsetFilter(prev))

	it, err := l.ScanMatching(ctx, provider.Equals{Field: "name", Value: "Dock"}, feature.NewRequest())
	require.NoError(t, err)
	assert.Equal(t, prev, mem.SubsetFilter(), "restored before the scan is read")
	assert.Equal(t, []int64{1, 4}, drainIDs(t, l.Features(ctx, feature.NewRequest())))

	feats, err := feature.Drain(it)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, feature.IDs(feats))
}

func TestLayer_ScanMatchingUnfilterableField(t *testing.T) {
	l, mem := newRoads()

	it, err := l.ScanMatching(ctx, provider.Equals{Field: "width", Value: 3}, feature.NewRequest())
	require.NoError(t, err)
	feats, err := feature.Drain(it)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, feature.IDs(feats), "unrestricted scan")
	assert.Nil(t, mem.SubsetFilter())
}

func TestJoin_SchemaAppendsJoinedFields(t *testing.T) {
	fx := newJoinFixture(t, false)

	assert.Equal(t,
		[]string{"city", "country_code", "countries_name", "countries_population"},
		fx.cities.Fields().Names())

	assert.True(t, fx.cities.RemoveJoin("countries"))
	assert.Equal(t, []string{"city", "country_code"}, fx.cities.Fields().Names())
	assert.False(t, fx.cities.RemoveJoin("countries"))
}

func TestJoin_CachedAndDirectAgree(t *testing.T) {
	want := map[int64]feature.Attributes{
		1: {"Paris", "FR", "France", int64(68)},
		2: {"Berlin", "DE", "Germany", int64(84)},
		3: {"Rome", "IT", nil, nil},
		4: {"Nowhere", nil, nil, nil},
	}
	for _, cache := range []bool{true, false} {
		fx := newJoinFixture(t, cache)
		feats := drain(t, fx.cities.Features(ctx, feature.NewRequest()))
		require.Len(t, feats, 4)
		for _, f := range feats {
			assert.Equal(t, want[f.ID()], f.Attributes(), "cache=%v fid=%d", cache, f.ID())
		}
	}
}

func TestJoin_CachedPathDoesNotQueryJoinedDataset(t *testing.T) {
	fx := newJoinFixture(t, true)
	opens := fx.countryDB.Opens()

	drain(t, fx.cities.Features(ctx, feature.NewRequest()))

	assert.Equal(t, opens, fx.countryDB.Opens())
}

func TestJoin_EnrichesOverlayFeatures(t *testing.T) {
	for _, cache := range []bool{true, false} {
		fx := newJoinFixture(t, cache)
		edits := startEditing(fx.cities)
		added := edits.AddFeature(newFeature(10, 10, "Lyon", "FR"))
		require.NoError(t, edits.ChangeGeometry(2, feature.PointGeometry(11, 11)))
		require.NoError(t, edits.ChangeAttribute(3, 1, "DE"))

		feats := drain(t, fx.cities.Features(ctx, feature.NewRequest().WithRect(feature.NewRect(-1, -1, 20, 20))))
		got := byID(feats)

		assert.Equal(t, feature.Attributes{"Lyon", "FR", "France", int64(68)}, got[added].Attributes(), "cache=%v", cache)
		assert.Equal(t, feature.Attributes{"Berlin", "DE", "Germany", int64(84)}, got[2].Attributes(), "cache=%v", cache)
		assert.Equal(t, feature.Attributes{"Rome", "DE", "Germany", int64(84)}, got[3].Attributes(), "edited target re-joins, cache=%v", cache)
	}
}

func TestJoin_DirectMissRestoresJoinedFilter(t *testing.T) {
	fx := newJoinFixture(t, false)

	it := fx.cities.Features(ctx, feature.NewRequest().WithFid(3))
	feats := drain(t, it)
	require.Len(t, feats, 1)
	assert.Equal(t, feature.Attributes{"Rome", "IT", nil, nil}, feats[0].Attributes())

	assert.Nil(t, fx.countryDB.SubsetFilter())
	assert.Equal(t, []int64{1, 2}, drainIDs(t, fx.countries.Features(ctx, feature.NewRequest())))
}

func TestJoin_DirectLookupHonoursExistingFilter(t *testing.T) {
	fx := newJoinFixture(t, false)
	prev := provider.Equals{Field: "name", Value: "France"}
	require.NoError(t, fx.countries.SetSubsetFilter(prev))

	got := byID(drain(t, fx.cities.Features(ctx, feature.NewRequest())))

	assert.Equal(t, "France", got[1].Attribute(2))
	assert.Nil(t, got[2].Attribute(2), "Germany is outside the joined dataset's filter")
	assert.Equal(t, prev, fx.countryDB.SubsetFilter())
}

func TestJoin_SubsetOfJoinedFieldOnly(t *testing.T) {
	for _, cache := range []bool{true, false} {
		fx := newJoinFixture(t, cache)

		feats := drain(t, fx.cities.Features(ctx, feature.NewRequest().WithSubset(2).WithSkipGeometry(true)))

		require.Len(t, feats, 4)
		assert.Equal(t, feature.Attributes{nil, "FR", "France", nil}, feats[0].Attributes(), "cache=%v", cache)
		assert.Nil(t, feats[0].Geometry())
	}
}

func TestJoin_SubsetWithoutJoinedFieldsSkipsJoins(t *testing.T) {
	fx := newJoinFixture(t, false)
	opens := fx.countryDB.Opens()

	feats := drain(t, fx.cities.Features(ctx, feature.NewRequest().WithSubset(0)))

	require.Len(t, feats, 4)
	assert.Equal(t, feature.Attributes{"Paris", nil, nil, nil}, feats[0].Attributes())
	assert.Equal(t, opens, fx.countryDB.Opens())
}

func TestJoin_ExpressionOnJoinedField(t *testing.T) {
	fx := newJoinFixture(t, true)

	ids := drainIDs(t, fx.cities.Features(ctx, feature.NewRequest().WithExpression("countries_population > 70")))

	assert.Equal(t, []int64{2}, ids)
}

func TestJoin_DanglingAfterRemove(t *testing.T) {
	fx := newJoinFixture(t, false)
	require.True(t, fx.registry.Remove("countries"))

	it := fx.cities.Features(ctx, feature.NewRequest())

	assert.False(t, it.Next())
	assert.True(t, IsDanglingJoin(it.Err()))
	assert.ErrorIs(t, it.Err(), join.ErrDanglingJoin)
	assert.True(t, it.Closed())
}

func TestJoin_UnknownTargetField(t *testing.T) {
	fx := newJoinFixture(t, false)
	require.True(t, fx.cities.RemoveJoin("countries"))
	require.NoError(t, fx.cities.AddJoin(&join.Relationship{
		JoinDatasetID:   "countries",
		JoinFieldName:   "code",
		TargetFieldName: "no_such_field",
	}))

	it := fx.cities.Features(ctx, feature.NewRequest())

	assert.False(t, it.Next())
	assert.True(t, IsUnknownField(it.Err()))
}

func TestAddJoin_Rejections(t *testing.T) {
	fx := newJoinFixture(t, false)

	err := fx.cities.AddJoin(&join.Relationship{JoinDatasetID: "cities", JoinFieldName: "city", TargetFieldName: "city"})
	assert.ErrorIs(t, err, ErrJoinCycle, "self join")

	err = fx.countries.AddJoin(&join.Relationship{JoinDatasetID: "cities", JoinFieldName: "country_code", TargetFieldName: "code"})
	assert.ErrorIs(t, err, ErrJoinCycle, "cycle")
	assert.Zero(t, fx.countries.Joins().Len())

	err = fx.cities.AddJoin(&join.Relationship{JoinDatasetID: "countries", JoinFieldName: "code", TargetFieldName: "country_code"})
	assert.ErrorIs(t, err, join.ErrDuplicateJoin)

	err = fx.cities.AddJoin(&join.Relationship{JoinDatasetID: "rivers", JoinFieldName: "id", TargetFieldName: "city"})
	assert.ErrorIs(t, err, join.ErrDanglingJoin)

	lone, _ := newRoads()
	err = lone.AddJoin(&join.Relationship{JoinDatasetID: "countries", JoinFieldName: "code", TargetFieldName: "name"})
	assert.ErrorIs(t, err, join.ErrDanglingJoin, "unregistered layers resolve nothing")
}

func TestAddJoin_UnknownJoinFieldRollsBack(t *testing.T) {
	fx := newJoinFixture(t, false)
	require.True(t, fx.cities.RemoveJoin("countries"))

	err := fx.cities.AddJoin(&join.Relationship{JoinDatasetID: "countries", JoinFieldName: "iso", TargetFieldName: "country_code"})

	assert.ErrorIs(t, err, join.ErrUnknownField)
	assert.Zero(t, fx.cities.Joins().Len())
	assert.Equal(t, []string{"city", "country_code"}, fx.cities.Fields().Names())
}

func TestJoin_ConcurrentDirectLookups(t *testing.T) {
	fx := newJoinFixture(t, false)
	want := map[int64]any{1: "France", 2: "Germany", 3: nil, 4: nil}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := fx.cities.Features(context.Background(), feature.NewRequest())
			defer it.Close()
			for it.Next() {
				f := it.Feature()
				if !assert.Equal(t, want[f.ID()], f.Attribute(2), "fid %d", f.ID()) {
					return
				}
			}
			errs <- it.Err()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Nil(t, fx.countryDB.SubsetFilter())
}

// drainCitiesUntil keeps draining cities, which looks up every country
// directly, until stop is closed.
func drainCitiesUntil(fx *joinFixture, stop <-chan struct{}, wg *sync.WaitGroup) {
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				it := fx.cities.Features(context.Background(), feature.NewRequest())
				for it.Next() {
				}
				it.Close()
			}
		}()
	}
}

func TestJoin_DirectLookupFilterInvisibleToReaders(t *testing.T) {
	fx := newJoinFixture(t, false)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	drainCitiesUntil(fx, stop, &wg)

	short := 0
	for i := 0; i < 500; i++ {
		if ids := drainIDs(t, fx.countries.Features(ctx, feature.NewRequest())); len(ids) != 2 {
			short++
		}
		f, ok, err := fx.countries.featureAt(ctx, 2, feature.NewRequest())
		require.NoError(t, err)
		if !ok || f.ID() != 2 {
			short++
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, short, "reads of countries that saw a lookup's filter")
	assert.Nil(t, fx.countries.SubsetFilter())
}

func TestJoin_SubsetFilterUpdatesSurviveLookups(t *testing.T) {
	fx := newJoinFixture(t, false)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	drainCitiesUntil(fx, stop, &wg)

	var last provider.Predicate
	for i := 0; i < 200; i++ {
		last = provider.Equals{Field: "population", Value: int64(i)}
		require.NoError(t, fx.countries.SetSubsetFilter(last))
		if !assert.Equal(t, last, fx.countries.SubsetFilter(), "update %d", i) {
			break
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, last, fx.countryDB.SubsetFilter())
}

func TestLayer_SQLiteBackedOverlay(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateTable(ctx, "roads", roadFields))
	require.NoError(t, store.CreateTable(ctx, "countries", countryFields))
	require.NoError(t, store.InsertFeatures(ctx, "roads", roadFields,
		road(1, 0, 0, "Main", 2),
		road(2, 5, 5, "High", 4),
		road(3, 9, 9, "Mill", 1),
	))

	roads := New("roads", sqlite.NewProvider(store, "roads", roadFields, sqlite.WithPageSize(1)), WithLogger(quietLogger()))
	edits := startEditing(roads)
	require.NoError(t, edits.ChangeGeometry(3, feature.PointGeometry(1, 1)))
	require.NoError(t, edits.ChangeAttribute(3, 0, "Mill Rd"))
	require.NoError(t, edits.DeleteFeature(2))
	edits.AddFeature(newFeature(2, 2, "New", int64(1)))

	feats := drain(t, roads.Features(ctx, feature.NewRequest().WithRect(feature.NewRect(-1, -1, 6, 6))))

	require.Equal(t, []int64{3, -1, 1}, feature.IDs(feats))
	assert.Equal(t, feature.Attributes{"Mill Rd", int64(1)}, feats[0].Attributes())
	assert.Equal(t, feature.Attributes{"Main", int64(2)}, feats[2].Attributes())
}

func TestLayer_SQLiteDirectJoin(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateTable(ctx, "cities", cityFields))
	require.NoError(t, store.CreateTable(ctx, "countries", countryFields))
	require.NoError(t, store.InsertFeatures(ctx, "cities", cityFields,
		city(1, 0, 0, "Paris", "FR"),
		city(2, 1, 1, "Rome", "IT"),
	))
	require.NoError(t, store.InsertFeatures(ctx, "countries", countryFields,
		country(1, "FR", "France", 68),
	))

	r := NewRegistry()
	cities := New("cities", sqlite.NewProvider(store, "cities", cityFields, sqlite.WithPageSize(1)), WithLogger(quietLogger()))
	countries := New("countries", sqlite.NewProvider(store, "countries", countryFields), WithLogger(quietLogger()))
	require.NoError(t, r.Register(cities))
	require.NoError(t, r.Register(countries))
	require.NoError(t, cities.AddJoin(&join.Relationship{
		JoinDatasetID:   "countries",
		JoinFieldName:   "code",
		TargetFieldName: "country_code",
		Prefix:          "c_",
	}))

	assert.Equal(t, []string{"city", "country_code", "c_name", "c_population"}, cities.Fields().Names())
	feats := drain(t, cities.Features(ctx, feature.NewRequest()))

	require.Len(t, feats, 2)
	assert.Equal(t, feature.Attributes{"Paris", "FR", "France", int64(68)}, feats[0].Attributes())
	assert.Equal(t, feature.Attributes{"Rome", "IT", nil, nil}, feats[1].Attributes())
	assert.Nil(t, countries.SubsetFilter())
}
