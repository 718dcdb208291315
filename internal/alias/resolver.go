// Package alias resolves surface identifiers (ticker variants, names,
// ISINs, firm codes) to canonical entity ids.
package alias

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/graph"
)

// cacheSize bounds the in-process cache; entries are evicted LRU
const cacheSize = 100000

// schemePrecedence orders bare-value resolution when no hint is given
var schemePrecedence = []string{"TICKER", "ISIN", "FIGI", "NAME", "CODE"}

// Resolution is one successful alias resolution
type Resolution struct {
	EntityID   string
	EntityKind string
	Scheme     string
}

// Store is the alias persistence surface the resolver needs from the graph
type Store interface {
	LookupAlias(ctx context.Context, scheme, value string) (*graph.AliasRecord, error)
	LookupAliasValue(ctx context.Context, value string) ([]graph.AliasRecord, error)
	PutAlias(ctx context.Context, rec graph.AliasRecord) error
}

// Resolver maps surface values to canonical entities with an LRU cache in
// front of the graph store. Thread-safe; the cache carries its own lock.
type Resolver struct {
	store Store
	cache *lru.Cache[string, Resolution]
	log   zerolog.Logger
}

// NewResolver creates an alias resolver
func NewResolver(store Store, log zerolog.Logger) (*Resolver, error) {
	cache, err := lru.New[string, Resolution](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "alias").Logger(),
	}, nil
}

func cacheKey(scheme, value string) string {
	return scheme + "\x00" + value
}

// Normalize canonicalizes a surface value before lookup
func Normalize(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// Resolve maps a surface value to a canonical entity. When scheme is empty
// the precedence order TICKER, ISIN, FIGI, NAME, CODE applies. A miss
// returns (nil, nil); it is not an error.
func (r *Resolver) Resolve(ctx context.Context, value, scheme string) (*Resolution, error) {
	value = Normalize(value)
	if value == "" {
		return nil, nil
	}
	scheme = strings.ToUpper(strings.TrimSpace(scheme))

	key := cacheKey(scheme, value)
	if res, ok := r.cache.Get(key); ok {
		return &res, nil
	}

	var resolved *Resolution
	if scheme != "" {
		rec, err := r.store.LookupAlias(ctx, scheme, value)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			resolved = &Resolution{EntityID: rec.EntityID, EntityKind: rec.EntityKind, Scheme: rec.Scheme}
		}
	} else {
		recs, err := r.store.LookupAliasValue(ctx, value)
		if err != nil {
			return nil, err
		}
		resolved = pickByPrecedence(recs)
	}

	if resolved == nil {
		return nil, nil
	}
	r.cache.Add(key, *resolved)
	return resolved, nil
}

func pickByPrecedence(recs []graph.AliasRecord) *Resolution {
	if len(recs) == 0 {
		return nil
	}
	for _, scheme := range schemePrecedence {
		for _, rec := range recs {
			if rec.Scheme == scheme {
				return &Resolution{EntityID: rec.EntityID, EntityKind: rec.EntityKind, Scheme: rec.Scheme}
			}
		}
	}
	// Unknown schemes still resolve; first row wins
	rec := recs[0]
	return &Resolution{EntityID: rec.EntityID, EntityKind: rec.EntityKind, Scheme: rec.Scheme}
}

// Put writes an alias binding and invalidates the affected cache entries
func (r *Resolver) Put(ctx context.Context, scheme, value, entityID, entityKind string) error {
	value = Normalize(value)
	scheme = strings.ToUpper(strings.TrimSpace(scheme))
	if err := r.store.PutAlias(ctx, graph.AliasRecord{
		Scheme: scheme, Value: value, EntityID: entityID, EntityKind: entityKind,
	}); err != nil {
		return err
	}
	r.cache.Remove(cacheKey(scheme, value))
	r.cache.Remove(cacheKey("", value))
	return nil
}

// ResolveInstruments resolves extracted instruments in place. Unresolved
// tickers are dropped in strict mode so phantom nodes are never created;
// each drop is logged.
func (r *Resolver) ResolveInstruments(ctx context.Context, instruments []domain.AffectedInstrument, strict bool) ([]domain.AffectedInstrument, error) {
	var out []domain.AffectedInstrument
	for _, inst := range instruments {
		res, err := r.Resolve(ctx, inst.Ticker, "TICKER")
		if err != nil {
			return nil, err
		}
		if res == nil {
			res, err = r.Resolve(ctx, inst.Ticker, "")
			if err != nil {
				return nil, err
			}
		}
		if res == nil || res.EntityKind != "instrument" {
			if strict {
				r.log.Warn().Str("ticker", inst.Ticker).Msg("Unresolved ticker dropped from enrichment")
				continue
			}
		} else {
			inst.InstrumentID = res.EntityID
		}
		if inst.InstrumentID == "" && strict {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// ResolveCompanies resolves extracted company names to company ids,
// dropping unresolved names with a warning.
func (r *Resolver) ResolveCompanies(ctx context.Context, names []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		res, err := r.Resolve(ctx, name, "NAME")
		if err != nil {
			return nil, err
		}
		if res == nil {
			res, err = r.Resolve(ctx, name, "")
			if err != nil {
				return nil, err
			}
		}
		if res == nil || res.EntityKind != "company" {
			r.log.Warn().Str("company", name).Msg("Unresolved company dropped from enrichment")
			continue
		}
		if !seen[res.EntityID] {
			seen[res.EntityID] = true
			out = append(out, res.EntityID)
		}
	}
	return out, nil
}

// CacheLen reports current cache occupancy (for the system endpoint)
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}
