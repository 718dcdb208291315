package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/graph"
	"github.com/meridian/newsgraph/internal/vector"
)

// Embedder produces query vectors for free-text search
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the engine
type Config struct {
	Weights             Weights
	ActivationThreshold float64
	RecencyHalfLifeMin  float64
}

// Options bounds one feed request
type Options struct {
	K               int
	TimeWindow      time.Duration
	MinImpactScore  float64
	ImpactTiers     []string
	IncludeHoldings bool
	IncludeWatch    bool
	IncludeLateral  bool
	Lambda          float64 // opportunity bias in [0,1]
}

// DefaultOptions matches the tool defaults
func DefaultOptions() Options {
	return Options{
		K:               10,
		TimeWindow:      24 * time.Hour,
		IncludeHoldings: true,
		IncludeWatch:    true,
		IncludeLateral:  true,
		Lambda:          0,
	}
}

// Engine generates and scores feed candidates. All store queries carry
// the caller's permitted groups.
type Engine struct {
	graph               *graph.Store
	vectors             *vector.Index
	embedder            Embedder
	weights             Weights
	activationThreshold float64
	recencyHalfLifeMin  float64
	log                 zerolog.Logger
}

// NewEngine creates the hybrid query engine
func NewEngine(g *graph.Store, v *vector.Index, embedder Embedder, cfg Config, log zerolog.Logger) *Engine {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.ActivationThreshold == 0 {
		cfg.ActivationThreshold = 0.5
	}
	if cfg.RecencyHalfLifeMin == 0 {
		cfg.RecencyHalfLifeMin = 60
	}
	return &Engine{
		graph:               g,
		vectors:             v,
		embedder:            embedder,
		weights:             cfg.Weights,
		activationThreshold: cfg.ActivationThreshold,
		recencyHalfLifeMin:  cfg.RecencyHalfLifeMin,
		log:                 log.With().Str("component", "query").Logger(),
	}
}

// ClientFeed ranks recent stories by why they matter to the client's book
// and mandate, blending defensive and offensive candidates on lambda.
func (e *Engine) ClientFeed(ctx context.Context, ac *auth.AccessContext, clientID string, opts Options) ([]ScoredDocument, error) {
	opts.Lambda = clamp(opts.Lambda, 0, 1)
	if opts.K <= 0 {
		opts.K = 10
	}
	if opts.TimeWindow <= 0 {
		opts.TimeWindow = 24 * time.Hour
	}

	client, err := e.graph.GetClient(ctx, clientID, ac.GroupList())
	if err != nil {
		return nil, err
	}
	profile, _, err := e.graph.GetProfile(ctx, clientID)
	if err != nil && !domain.IsCode(err, domain.ErrNotFound) {
		return nil, err
	}

	positions, err := e.graph.GetPortfolio(ctx, clientID)
	if err != nil {
		return nil, err
	}
	watchlist, err := e.graph.GetWatchlist(ctx, clientID)
	if err != nil {
		return nil, err
	}

	filter, err := e.feedFilter(ctx, profile, opts)
	if err != nil {
		return nil, err
	}

	groups := ac.GroupList()
	cands := make(map[string]*candidate)
	percentiles := positionPercentiles(positions)

	// DIRECT_HOLDING
	if opts.IncludeHoldings && len(positions) > 0 {
		ids := instrumentIDs(positions)
		rows, err := e.graph.DocsAffecting(ctx, groups, ids, filter)
		if err != nil {
			return nil, err
		}
		tickerPct := make(map[string]float64, len(positions))
		for _, p := range positions {
			tickerPct[p.Ticker] = percentiles[p.InstrumentID]
		}
		for _, row := range rows {
			c := mergeCandidate(cands, row, domain.ReasonDirectHolding)
			c.pathCount++
			if pct := tickerPct[row.MatchKey]; pct > c.percentile {
				c.percentile = pct
			}
		}
	}

	// WATCHLIST
	if opts.IncludeWatch && len(watchlist) > 0 {
		ids := make([]string, len(watchlist))
		for i, w := range watchlist {
			ids[i] = w.InstrumentID
		}
		rows, err := e.graph.DocsAffecting(ctx, groups, ids, filter)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			c := mergeCandidate(cands, row, domain.ReasonWatchlist)
			c.pathCount++
		}
	}

	// LATERAL - bounded two-hop traversal from held and watched seeds
	if opts.IncludeLateral {
		seeds := instrumentIDs(positions)
		for _, w := range watchlist {
			seeds = append(seeds, w.InstrumentID)
		}
		if len(seeds) > 0 {
			laterals, err := e.graph.LateralInstruments(ctx, seeds)
			if err != nil {
				return nil, err
			}
			byRelation := make(map[string][]string)
			for _, rel := range laterals {
				byRelation[rel.Relation] = append(byRelation[rel.Relation], rel.InstrumentID)
			}
			for relation, ids := range byRelation {
				rows, err := e.graph.DocsAffecting(ctx, groups, ids, filter)
				if err != nil {
					return nil, err
				}
				reason := lateralReason(relation)
				for _, row := range rows {
					c := mergeCandidate(cands, row, reason)
					c.pathCount++
				}
			}
		}
	}

	// THEMATIC
	if profile != nil && len(profile.MandateThemes) > 0 {
		rows, err := e.graph.DocsTagged(ctx, groups, profile.MandateThemes, filter)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			mergeCandidate(cands, row, domain.ReasonThematic)
		}
	}

	// VECTOR - mandate embedding k-NN, continuously gated on lambda
	if profile != nil && len(profile.MandateEmbedding) > 0 &&
		vectorActivation(opts.Lambda, e.activationThreshold) > 0 {
		matches, err := e.vectors.Search(ctx, profile.MandateEmbedding, opts.K*3, vector.Filter{
			Groups:    groups,
			Since:     time.Now().Add(-opts.TimeWindow),
			MinImpact: opts.MinImpactScore,
		})
		if err != nil {
			return nil, err
		}
		if err := e.mergeVectorMatches(ctx, cands, matches, groups, filter); err != nil {
			return nil, err
		}
	}

	return e.finalize(ctx, cands, client.ClientType, opts)
}

// feedFilter builds the store-side filter including the profile's hard
// exclusions, applied before any scoring.
func (e *Engine) feedFilter(ctx context.Context, profile *domain.ClientProfile, opts Options) (graph.FeedFilter, error) {
	filter := graph.FeedFilter{
		Since:          time.Now().Add(-opts.TimeWindow),
		MinImpactScore: opts.MinImpactScore,
		ImpactTiers:    opts.ImpactTiers,
	}
	if profile == nil {
		return filter, nil
	}
	if len(profile.Restrictions.ExcludedCompanies) > 0 {
		ids, err := e.graph.CompanyIDsByName(ctx, profile.Restrictions.ExcludedCompanies)
		if err != nil {
			return filter, err
		}
		filter.ExcludedCompanyIDs = ids
	}
	filter.ExcludedSectors = profile.Restrictions.ExcludedIndustries
	return filter, nil
}

// mergeVectorMatches folds vector hits into the candidate set, applying
// the exclusion filter and group-checked meta fetch.
func (e *Engine) mergeVectorMatches(ctx context.Context, cands map[string]*candidate,
	matches []vector.Match, groups []string, filter graph.FeedFilter) error {

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.DocumentID
	}
	metas, err := e.graph.DocumentMetas(ctx, ids, groups)
	if err != nil {
		return err
	}
	excluded, err := e.graph.ExcludedDocuments(ctx, ids, filter.ExcludedCompanyIDs, filter.ExcludedSectors)
	if err != nil {
		return err
	}

	for _, m := range matches {
		meta, ok := metas[m.DocumentID]
		if !ok || excluded[m.DocumentID] {
			continue
		}
		c, exists := cands[m.DocumentID]
		if !exists {
			c = &candidate{
				documentID:  meta.DocumentID,
				createdAt:   meta.CreatedAt,
				title:       meta.Title,
				summary:     meta.Summary,
				impactScore: meta.ImpactScore,
				impactTier:  meta.ImpactTier,
				reasons:     make(map[domain.Reason]bool),
				matchKeys:   make(map[domain.Reason]string),
			}
			cands[m.DocumentID] = c
		}
		c.reasons[domain.ReasonVector] = true
		if sim := 1 - m.Distance; sim > c.similarity {
			c.similarity = sim
		}
	}
	return nil
}

// finalize scores, ranks, and trims the candidate set
func (e *Engine) finalize(ctx context.Context, cands map[string]*candidate,
	clientType domain.ClientType, opts Options) ([]ScoredDocument, error) {

	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	docEvents, err := e.graph.DocumentEvents(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scored := make([]ScoredDocument, 0, len(cands))
	for id, c := range cands {
		scored = append(scored, e.score(c, clientType, docEvents[id], opts.Lambda, now))
	}
	rank(scored)
	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	return scored, nil
}

// SearchDocuments is the free-text document search: vector k-NN over the
// query embedding, scored by similarity, impact and recency. The query text
// is not matched against graph entities.
func (e *Engine) SearchDocuments(ctx context.Context, ac *auth.AccessContext, queryText string, k int, window time.Duration) ([]ScoredDocument, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "query text is required")
	}
	if k <= 0 {
		k = 10
	}
	groups := ac.GroupList()

	queryVec, err := e.embedder.EmbedOne(ctx, queryText)
	if err != nil {
		return nil, err
	}
	filter := vector.Filter{Groups: groups}
	if window > 0 {
		filter.Since = time.Now().Add(-window)
	}
	matches, err := e.vectors.Search(ctx, queryVec, k*3, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.DocumentID
	}
	metas, err := e.graph.DocumentMetas(ctx, ids, groups)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scored := make([]ScoredDocument, 0, len(matches))
	for _, m := range matches {
		meta, ok := metas[m.DocumentID]
		if !ok {
			continue
		}
		sim := clamp(1-m.Distance, 0, 1)
		recency := recencyScore(now.Sub(meta.CreatedAt), 0, e.recencyHalfLifeMin)
		final := e.weights.Semantic*sim +
			e.weights.Impact*meta.ImpactScore/100 +
			e.weights.Recency*recency
		scored = append(scored, ScoredDocument{
			DocumentID:  meta.DocumentID,
			FinalScore:  final,
			Reasons:     []domain.Reason{domain.ReasonVector},
			Title:       meta.Title,
			Summary:     meta.Summary,
			ImpactScore: meta.ImpactScore,
			ImpactTier:  meta.ImpactTier,
			CreatedAt:   meta.CreatedAt,
			ComponentScores: map[string]float64{
				"semantic": sim,
				"impact":   meta.ImpactScore / 100,
				"recency":  recency,
			},
			WhyItMattersBase: "Semantically close to the query",
		})
	}
	rank(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// WhyItMatters renders the two ≤30-word explanations for one document and
// client. Deterministic: derived from stored reasons and the extraction
// summary, never a fresh LLM call.
func (e *Engine) WhyItMatters(ctx context.Context, ac *auth.AccessContext, clientID, documentID string) (why, summary string, err error) {
	feed, err := e.ClientFeed(ctx, ac, clientID, Options{
		K:               1000,
		TimeWindow:      30 * 24 * time.Hour,
		IncludeHoldings: true,
		IncludeWatch:    true,
		IncludeLateral:  true,
	})
	if err != nil {
		return "", "", err
	}
	meta, err := e.graph.GetDocumentMeta(ctx, documentID, ac.GroupList())
	if err != nil {
		return "", "", err
	}
	summary = truncateWords(meta.Summary, 30)
	if summary == "" {
		summary = truncateWords(meta.Title, 30)
	}
	for _, doc := range feed {
		if doc.DocumentID == documentID {
			return truncateWords(doc.WhyItMattersBase, 30), summary, nil
		}
	}
	return "No direct link to the client book was found", summary, nil
}

func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}

func mergeCandidate(cands map[string]*candidate, row graph.Candidate, reason domain.Reason) *candidate {
	c, ok := cands[row.DocumentID]
	if !ok {
		c = &candidate{
			documentID:  row.DocumentID,
			createdAt:   row.CreatedAt,
			title:       row.Title,
			summary:     row.Summary,
			impactScore: row.ImpactScore,
			impactTier:  row.ImpactTier,
			reasons:     make(map[domain.Reason]bool),
			matchKeys:   make(map[domain.Reason]string),
		}
		cands[row.DocumentID] = c
	}
	c.reasons[reason] = true
	if _, seen := c.matchKeys[reason]; !seen {
		c.matchKeys[reason] = row.MatchKey
	}
	return c
}

func lateralReason(relation string) domain.Reason {
	switch relation {
	case "SUPPLIER":
		return domain.ReasonSupplier
	case "COMPETITOR":
		return domain.ReasonCompetitor
	default:
		return domain.ReasonPeer
	}
}

func instrumentIDs(positions []domain.Position) []string {
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.InstrumentID
	}
	return ids
}

// positionPercentiles ranks positions by weight; the largest position has
// percentile 1.
func positionPercentiles(positions []domain.Position) map[string]float64 {
	out := make(map[string]float64, len(positions))
	if len(positions) == 0 {
		return out
	}
	weights := make([]float64, len(positions))
	for i, p := range positions {
		weights[i] = p.Weight
	}
	sorted := append([]float64(nil), weights...)
	sort.Float64s(sorted)
	for i, p := range positions {
		out[p.InstrumentID] = stat.CDF(weights[i], stat.Empirical, sorted, nil)
	}
	return out
}
