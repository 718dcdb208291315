package query

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/meridian/newsgraph/internal/domain"
)

func TestBaseScoreInterpolation(t *testing.T) {
	// Defensive decays with lambda
	assert.InDelta(t, 1.0, baseScore(domain.ReasonDirectHolding, 0), 1e-9)
	assert.InDelta(t, 0.6, baseScore(domain.ReasonDirectHolding, 1), 1e-9)

	// Watchlist is flat
	assert.InDelta(t, 0.8, baseScore(domain.ReasonWatchlist, 0), 1e-9)
	assert.InDelta(t, 0.8, baseScore(domain.ReasonWatchlist, 1), 1e-9)

	// Offensive grows with lambda
	assert.InDelta(t, 0.5, baseScore(domain.ReasonThematic, 0), 1e-9)
	assert.InDelta(t, 1.0, baseScore(domain.ReasonThematic, 1), 1e-9)
	assert.InDelta(t, 0.4, baseScore(domain.ReasonVector, 0), 1e-9)
	assert.InDelta(t, 0.8, baseScore(domain.ReasonVector, 1), 1e-9)
}

func TestVectorActivationContinuous(t *testing.T) {
	// A ramp, not a step: no jump anywhere near the threshold
	prev := vectorActivation(0, 0.5)
	for lambda := 0.01; lambda <= 1.0; lambda += 0.01 {
		cur := vectorActivation(lambda, 0.5)
		assert.GreaterOrEqual(t, cur, prev, "activation must be non-decreasing at lambda %v", lambda)
		assert.Less(t, cur-prev, 0.03, "activation jump at lambda %v", lambda)
		prev = cur
	}
	assert.Equal(t, 0.0, vectorActivation(0, 0.5))
	assert.Equal(t, 1.0, vectorActivation(1, 0.5))
	assert.InDelta(t, 0.5, vectorActivation(0.5, 0.5), 1e-9)
}

func TestRecencyHalfLife(t *testing.T) {
	// At exactly one half-life the score is 0.5
	assert.InDelta(t, 0.5, recencyScore(60*time.Minute, 0, 60), 1e-9)
	// lambda=1 triples the half-life to 180 minutes
	assert.InDelta(t, 0.5, recencyScore(180*time.Minute, 1, 60), 1e-9)
	// Fresh documents score 1
	assert.InDelta(t, 1.0, recencyScore(0, 0, 60), 1e-9)
	// Negative ages clamp
	assert.InDelta(t, 1.0, recencyScore(-time.Minute, 0, 60), 1e-9)
}

func TestConvictionBoostCapped(t *testing.T) {
	assert.InDelta(t, 0.3, convictionBoost(1), 1e-9)
	assert.InDelta(t, 0.0, convictionBoost(0), 1e-9)
	assert.Less(t, convictionBoost(0.5), 0.3)
	// Out-of-range input clamps
	assert.InDelta(t, 0.3, convictionBoost(2), 1e-9)
}

func TestEventBoostByClientClass(t *testing.T) {
	mna := []domain.ExtractedEvent{{Type: "MERGER_ACQUISITION", Confidence: 0.9}}

	assert.InDelta(t, 0.10, eventBoost(domain.ClientRiskArb, mna), 1e-9)
	assert.Zero(t, eventBoost(domain.ClientHedgeFund, mna))
	assert.Zero(t, eventBoost(domain.ClientRetail, mna))
	assert.Zero(t, eventBoost(domain.ClientRiskArb, nil))
}

// Thematic-only candidates must score non-decreasing in lambda (weak
// ranking monotonicity).
func TestThematicMonotonicInLambda(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{}, zerolog.Nop())
	now := time.Now().UTC()
	c := &candidate{
		documentID:  "doc-1",
		createdAt:   now.Add(-30 * time.Minute),
		impactScore: 70,
		impactTier:  domain.TierSilver,
		reasons:     map[domain.Reason]bool{domain.ReasonThematic: true},
		matchKeys:   map[domain.Reason]string{domain.ReasonThematic: "clean_energy"},
	}

	prev := -1.0
	for lambda := 0.0; lambda <= 1.0; lambda += 0.05 {
		got := e.score(c, domain.ClientInstitutional, nil, lambda, now)
		assert.GreaterOrEqual(t, got.FinalScore, prev, "final score decreased at lambda %v", lambda)
		prev = got.FinalScore
	}
}

func TestGraphTermCappedAtOne(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{}, zerolog.Nop())
	now := time.Now().UTC()
	c := &candidate{
		documentID: "doc-1",
		createdAt:  now,
		reasons: map[domain.Reason]bool{
			domain.ReasonDirectHolding: true,
			domain.ReasonWatchlist:     true,
			domain.ReasonThematic:      true,
		},
		matchKeys: map[domain.Reason]string{},
	}

	got := e.score(c, domain.ClientRetail, nil, 0, now)
	assert.InDelta(t, 1.0, got.ComponentScores["graph"], 1e-9)
}

func TestGraphAndSemanticAdditive(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{}, zerolog.Nop())
	now := time.Now().UTC()

	graphOnly := &candidate{
		documentID: "doc-1", createdAt: now,
		reasons:   map[domain.Reason]bool{domain.ReasonThematic: true},
		matchKeys: map[domain.Reason]string{},
	}
	both := &candidate{
		documentID: "doc-1", createdAt: now,
		reasons:    map[domain.Reason]bool{domain.ReasonThematic: true, domain.ReasonVector: true},
		matchKeys:  map[domain.Reason]string{},
		similarity: 0.9,
	}

	lambda := 1.0
	scoreGraph := e.score(graphOnly, domain.ClientRetail, nil, lambda, now)
	scoreBoth := e.score(both, domain.ClientRetail, nil, lambda, now)

	// The vector term adds on top of the graph term; it is not a max()
	assert.Greater(t, scoreBoth.FinalScore, scoreGraph.FinalScore)
	assert.Equal(t, scoreBoth.ComponentScores["graph"], scoreGraph.ComponentScores["graph"])
	assert.Positive(t, scoreBoth.ComponentScores["semantic"])
}

func TestRankDeterministicTieBreak(t *testing.T) {
	early := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	docs := []ScoredDocument{
		{DocumentID: "doc-b", FinalScore: 0.5, CreatedAt: early},
		{DocumentID: "doc-c", FinalScore: 0.5, CreatedAt: late},
		{DocumentID: "doc-a", FinalScore: 0.5, CreatedAt: early},
		{DocumentID: "doc-z", FinalScore: 0.9, CreatedAt: early},
	}
	rank(docs)

	// Score first, then created_at desc, then id asc
	assert.Equal(t, "doc-z", docs[0].DocumentID)
	assert.Equal(t, "doc-c", docs[1].DocumentID)
	assert.Equal(t, "doc-a", docs[2].DocumentID)
	assert.Equal(t, "doc-b", docs[3].DocumentID)
}

func TestWhyItMattersStrongestReason(t *testing.T) {
	c := &candidate{
		reasons: map[domain.Reason]bool{
			domain.ReasonThematic:      true,
			domain.ReasonDirectHolding: true,
		},
		matchKeys: map[domain.Reason]string{
			domain.ReasonThematic:      "clean_energy",
			domain.ReasonDirectHolding: "AAPL",
		},
	}
	assert.Equal(t, "Directly affects held position AAPL", whyItMatters(c))

	delete(c.reasons, domain.ReasonDirectHolding)
	assert.Equal(t, "Matches mandate theme clean_energy", whyItMatters(c))
}

func TestPositionPercentiles(t *testing.T) {
	pcts := positionPercentiles([]domain.Position{
		{InstrumentID: "a", Weight: 0.20},
		{InstrumentID: "b", Weight: 0.05},
		{InstrumentID: "c", Weight: 0.10},
	})

	assert.InDelta(t, 1.0, pcts["a"], 1e-9)
	assert.Greater(t, pcts["a"], pcts["c"])
	assert.Greater(t, pcts["c"], pcts["b"])
}
