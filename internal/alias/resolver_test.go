package alias

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/graph"
)

// fakeStore keeps bindings in memory and counts lookups so cache behavior
// is observable.
type fakeStore struct {
	byKey   map[string]graph.AliasRecord
	lookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]graph.AliasRecord)}
}

func (f *fakeStore) LookupAlias(_ context.Context, scheme, value string) (*graph.AliasRecord, error) {
	f.lookups++
	if rec, ok := f.byKey[scheme+"|"+value]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeStore) LookupAliasValue(_ context.Context, value string) ([]graph.AliasRecord, error) {
	f.lookups++
	var recs []graph.AliasRecord
	for _, rec := range f.byKey {
		if rec.Value == value {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (f *fakeStore) PutAlias(_ context.Context, rec graph.AliasRecord) error {
	f.byKey[rec.Scheme+"|"+rec.Value] = rec
	return nil
}

func newTestResolver(t *testing.T) (*Resolver, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	r, err := NewResolver(store, zerolog.Nop())
	require.NoError(t, err)
	return r, store
}

func TestResolveWithScheme(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "TICKER", Value: "AAPL", EntityID: "inst-aapl", EntityKind: "instrument",
	}))

	res, err := r.Resolve(ctx, "aapl", "ticker")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "inst-aapl", res.EntityID)
	assert.Equal(t, "TICKER", res.Scheme)
}

func TestResolveDeterministicAndCached(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "TICKER", Value: "NVDA", EntityID: "inst-nvda", EntityKind: "instrument",
	}))

	first, err := r.Resolve(ctx, "NVDA", "TICKER")
	require.NoError(t, err)
	lookupsAfterFirst := store.lookups

	second, err := r.Resolve(ctx, "NVDA", "TICKER")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Second call served from cache
	assert.Equal(t, lookupsAfterFirst, store.lookups)
}

func TestResolveMissIsNotCachedOrError(t *testing.T) {
	r, store := newTestResolver(t)

	res, err := r.Resolve(context.Background(), "ZZZZ", "TICKER")
	require.NoError(t, err)
	assert.Nil(t, res)
	lookupsAfterFirst := store.lookups

	// A repeated miss goes back to the store
	res, err = r.Resolve(context.Background(), "ZZZZ", "TICKER")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Greater(t, store.lookups, lookupsAfterFirst)
}

func TestSchemePrecedence(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	// The same value bound under two schemes; TICKER outranks NAME
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "NAME", Value: "SAP", EntityID: "co-sap", EntityKind: "company",
	}))
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "TICKER", Value: "SAP", EntityID: "inst-sap", EntityKind: "instrument",
	}))

	res, err := r.Resolve(ctx, "SAP", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "inst-sap", res.EntityID)
}

func TestPutInvalidatesCache(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "TICKER", Value: "TSLA", EntityID: "inst-old", EntityKind: "instrument",
	}))

	res, err := r.Resolve(ctx, "TSLA", "TICKER")
	require.NoError(t, err)
	assert.Equal(t, "inst-old", res.EntityID)

	require.NoError(t, r.Put(ctx, "TICKER", "TSLA", "inst-new", "instrument"))

	res, err = r.Resolve(ctx, "TSLA", "TICKER")
	require.NoError(t, err)
	assert.Equal(t, "inst-new", res.EntityID)
}

func TestResolveInstrumentsStrictDropsUnresolved(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "TICKER", Value: "AAPL", EntityID: "inst-aapl", EntityKind: "instrument",
	}))

	resolved, err := r.ResolveInstruments(ctx, []domain.AffectedInstrument{
		{Ticker: "AAPL", Direction: "up"},
		{Ticker: "GHOST", Direction: "down"},
	}, true)
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, "inst-aapl", resolved[0].InstrumentID)
}

func TestResolveCompaniesDedupes(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "NAME", Value: "APPLE INC", EntityID: "co-apple", EntityKind: "company",
	}))
	require.NoError(t, store.PutAlias(ctx, graph.AliasRecord{
		Scheme: "NAME", Value: "APPLE", EntityID: "co-apple", EntityKind: "company",
	}))

	ids, err := r.ResolveCompanies(ctx, []string{"Apple Inc", "apple", "Unknown Co"})
	require.NoError(t, err)
	assert.Equal(t, []string{"co-apple"}, ids)
}

func TestLoadSeedDir(t *testing.T) {
	r, store := newTestResolver(t)
	dir := t.TempDir()

	rows := []seedEntry{
		{Scheme: "TICKER", Value: "aapl", EntityID: "inst-aapl", EntityKind: "instrument"},
		{Scheme: "ISIN", Value: "US0378331005", EntityID: "inst-aapl", EntityKind: "instrument"},
	}
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instruments.json"), data, 0644))

	n, err := r.LoadSeedDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Values are normalized on load
	rec := store.byKey["TICKER|AAPL"]
	assert.Equal(t, "inst-aapl", rec.EntityID)
}

func TestLoadSeedDirMissingIsNoop(t *testing.T) {
	r, _ := newTestResolver(t)
	n, err := r.LoadSeedDir(context.Background(), "/nonexistent/path")
	require.NoError(t, err)
	assert.Zero(t, n)
}
