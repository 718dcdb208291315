// Package query is the hybrid query engine: candidate generation from the
// graph and vector indexes, blended by the opportunity bias lambda.
package query

import (
	"math"
	"sort"
	"time"

	"github.com/meridian/newsgraph/internal/domain"
)

// Weights blends the score components. Graph and semantic terms are
// additive; they are never combined by max.
type Weights struct {
	Graph    float64
	Semantic float64
	Impact   float64
	Recency  float64
}

// DefaultWeights matches the service defaults
func DefaultWeights() Weights {
	return Weights{Graph: 0.35, Semantic: 0.35, Impact: 0.15, Recency: 0.15}
}

// baseScore interpolates the per-reason base on lambda. Defensive reasons
// decay as lambda rises; offensive reasons grow.
func baseScore(reason domain.Reason, lambda float64) float64 {
	switch reason {
	case domain.ReasonDirectHolding:
		return 1.0 - 0.4*lambda
	case domain.ReasonWatchlist:
		return 0.8
	case domain.ReasonThematic:
		return 0.5 + 0.5*lambda
	case domain.ReasonVector, domain.ReasonPeer, domain.ReasonSupplier, domain.ReasonCompetitor:
		return 0.4 + 0.4*lambda
	default:
		return 0
	}
}

// vectorActivation gates the vector path continuously in lambda: a linear
// ramp half a unit wide centered on the threshold, never a hard step.
func vectorActivation(lambda, threshold float64) float64 {
	low := threshold - 0.25
	return clamp((lambda-low)/0.5, 0, 1)
}

// recencyScore decays exponentially with a lambda-interpolated half-life:
// 60 minutes at lambda 0, 180 at lambda 1.
func recencyScore(age time.Duration, lambda, baseHalfLifeMin float64) float64 {
	if age < 0 {
		age = 0
	}
	halfLife := baseHalfLifeMin * (1 + 2*lambda)
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * age.Minutes() / halfLife)
}

// convictionBoost is logarithmic in the position's rank percentile,
// capped at 0.3. Percentile 1 is the largest position in the book.
func convictionBoost(percentile float64) float64 {
	p := clamp(percentile, 0, 1)
	boost := 0.3 * math.Log1p(p) / math.Ln2
	if boost > 0.3 {
		boost = 0.3
	}
	return boost
}

// eventBoosts maps client classes to the event types that matter most to
// them; matching candidates get a small additive boost.
var eventBoosts = map[domain.ClientType]map[string]float64{
	domain.ClientRiskArb: {
		"MERGER_ACQUISITION": 0.10,
		"REGULATORY_ACTION":  0.05,
	},
	domain.ClientHedgeFund: {
		"EARNINGS_BEAT":   0.05,
		"EARNINGS_MISS":   0.05,
		"GUIDANCE_CHANGE": 0.05,
	},
	domain.ClientPrivateWealth: {
		"DIVIDEND_CHANGE": 0.05,
		"CENTRAL_BANK":    0.05,
	},
	domain.ClientInstitutional: {
		"CENTRAL_BANK": 0.05,
		"MACRO_DATA":   0.03,
	},
}

func eventBoost(clientType domain.ClientType, eventTypes []domain.ExtractedEvent) float64 {
	boosts, ok := eventBoosts[clientType]
	if !ok {
		return 0
	}
	best := 0.0
	for _, e := range eventTypes {
		if b := boosts[e.Type]; b > best {
			best = b
		}
	}
	return best
}

// candidate accumulates evidence for one document across paths
type candidate struct {
	documentID  string
	createdAt   time.Time
	title       string
	summary     string
	impactScore float64
	impactTier  domain.ImpactTier
	reasons     map[domain.Reason]bool
	matchKeys   map[domain.Reason]string
	similarity  float64 // best vector similarity, 0 when unreached
	pathCount   int     // distinct portfolio links that produced it
	percentile  float64 // best position rank percentile among its reasons
}

// ScoredDocument is one ranked feed entry
type ScoredDocument struct {
	DocumentID       string             `json:"document_id"`
	FinalScore       float64            `json:"final_score"`
	Reasons          []domain.Reason    `json:"reasons"`
	ComponentScores  map[string]float64 `json:"component_scores"`
	Title            string             `json:"title"`
	Summary          string             `json:"story_summary"`
	ImpactScore      float64            `json:"impact_score"`
	ImpactTier       domain.ImpactTier  `json:"impact_tier"`
	CreatedAt        time.Time          `json:"created_at"`
	WhyItMattersBase string             `json:"why_it_matters_base"`
}

// score folds one candidate into its final score
func (e *Engine) score(c *candidate, clientType domain.ClientType,
	docEvents []domain.ExtractedEvent, lambda float64, now time.Time) ScoredDocument {

	// Graph term: per-reason bases summed, capped at 1.0
	graphTerm := 0.0
	for reason := range c.reasons {
		if reason == domain.ReasonVector {
			continue
		}
		graphTerm += baseScore(reason, lambda)
	}
	if graphTerm > 1.0 {
		graphTerm = 1.0
	}

	// Semantic term: similarity through the continuous lambda gate
	vectorTerm := 0.0
	if c.reasons[domain.ReasonVector] {
		vectorTerm = clamp(c.similarity, 0, 1) * baseScore(domain.ReasonVector, lambda) *
			vectorActivation(lambda, e.activationThreshold)
	}

	impactTerm := c.impactScore / 100
	recencyTerm := recencyScore(now.Sub(c.createdAt), lambda, e.recencyHalfLifeMin)

	boosts := 0.0
	if c.pathCount > 1 {
		boosts += 0.1 * float64(c.pathCount-1)
	}
	if c.reasons[domain.ReasonDirectHolding] {
		boosts += convictionBoost(c.percentile)
	}
	boosts += eventBoost(clientType, docEvents)

	final := e.weights.Graph*graphTerm +
		e.weights.Semantic*vectorTerm +
		e.weights.Impact*impactTerm +
		e.weights.Recency*recencyTerm +
		boosts

	return ScoredDocument{
		DocumentID:  c.documentID,
		FinalScore:  final,
		Reasons:     sortedReasons(c.reasons),
		Title:       c.title,
		Summary:     c.summary,
		ImpactScore: c.impactScore,
		ImpactTier:  c.impactTier,
		CreatedAt:   c.createdAt,
		ComponentScores: map[string]float64{
			"graph":    graphTerm,
			"semantic": vectorTerm,
			"impact":   impactTerm,
			"recency":  recencyTerm,
			"boosts":   boosts,
		},
		WhyItMattersBase: whyItMatters(c),
	}
}

// reasonOrder fixes the display and tie-break order of reasons
var reasonOrder = []domain.Reason{
	domain.ReasonDirectHolding,
	domain.ReasonWatchlist,
	domain.ReasonPeer,
	domain.ReasonSupplier,
	domain.ReasonCompetitor,
	domain.ReasonThematic,
	domain.ReasonVector,
}

func sortedReasons(set map[domain.Reason]bool) []domain.Reason {
	var out []domain.Reason
	for _, r := range reasonOrder {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}

// whyItMatters renders the deterministic base explanation from the
// candidate's strongest reason.
func whyItMatters(c *candidate) string {
	for _, r := range reasonOrder {
		if !c.reasons[r] {
			continue
		}
		key := c.matchKeys[r]
		switch r {
		case domain.ReasonDirectHolding:
			return "Directly affects held position " + key
		case domain.ReasonWatchlist:
			return "Affects watched instrument " + key
		case domain.ReasonPeer:
			return "Affects " + key + ", a peer of a held position"
		case domain.ReasonSupplier:
			return "Affects " + key + ", a supplier linked to the book"
		case domain.ReasonCompetitor:
			return "Affects " + key + ", a competitor of a held position"
		case domain.ReasonThematic:
			return "Matches mandate theme " + key
		case domain.ReasonVector:
			return "Semantically close to the mandate"
		}
	}
	return "Relevant to the client book"
}

// rank orders scored documents: final score descending, then created_at
// descending, then document_id ascending. Deterministic for equal scores.
func rank(docs []ScoredDocument) {
	sort.Slice(docs, func(a, b int) bool {
		if docs[a].FinalScore != docs[b].FinalScore {
			return docs[a].FinalScore > docs[b].FinalScore
		}
		if !docs[a].CreatedAt.Equal(docs[b].CreatedAt) {
			return docs[a].CreatedAt.After(docs[b].CreatedAt)
		}
		return docs[a].DocumentID < docs[b].DocumentID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
