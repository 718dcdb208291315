package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score float64
		tier  ImpactTier
	}{
		{95, TierPlatinum},
		{90, TierPlatinum},
		{89.9, TierGold},
		{75, TierGold},
		{74, TierSilver},
		{60, TierSilver},
		{59, TierBronze},
		{40, TierBronze},
		{39, TierStandard},
		{0, TierStandard},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.tier, TierForScore(tt.score), "score %v", tt.score)
	}
}

func TestFilterThemes(t *testing.T) {
	kept, dropped := FilterThemes([]string{"Clean_Energy", "policy", "moon_landings", "policy", ""})

	assert.Equal(t, []string{"clean_energy", "policy"}, kept)
	assert.Equal(t, []string{"moon_landings"}, dropped)
}

func TestFilterThemesAllInvalid(t *testing.T) {
	kept, dropped := FilterThemes([]string{"nonsense", "also_nonsense"})

	assert.Empty(t, kept)
	assert.Len(t, dropped, 2)
}

func TestFilterEvents(t *testing.T) {
	kept, dropped := FilterEvents([]ExtractedEvent{
		{Type: "merger_acquisition", Confidence: 0.9},
		{Type: "ALIEN_CONTACT", Confidence: 0.99},
		{Type: "EARNINGS_BEAT", Confidence: 0.7},
	})

	assert.Len(t, kept, 2)
	assert.Equal(t, "MERGER_ACQUISITION", kept[0].Type)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, []string{"ALIEN_CONTACT"}, dropped)
}

func TestEventTypeByName(t *testing.T) {
	spec, ok := EventTypeByName("bankruptcy")
	assert.True(t, ok)
	assert.Equal(t, TierPlatinum, spec.DefaultTier)

	_, ok = EventTypeByName("NOT_A_THING")
	assert.False(t, ok)
}

func TestErrorCarriesStageAndCode(t *testing.T) {
	err := NewError(ErrStoreWriteFailed, "graph write failed").WithStage("WRITE_GRAPH")

	assert.True(t, IsCode(err, ErrStoreWriteFailed))
	assert.Equal(t, ErrStoreWriteFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "WRITE_GRAPH")
}

func TestRecoveryStrategyFallback(t *testing.T) {
	assert.NotEmpty(t, RecoveryStrategy(ErrDuplicate))
	assert.NotEmpty(t, RecoveryStrategy(ErrorCode("UNKNOWN_CODE")))
}
