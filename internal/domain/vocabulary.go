package domain

import "strings"

// Themes is the controlled vocabulary shared by documents and mandates.
// Non-member values are dropped at ingest with a warning, never stored.
var Themes = []string{
	"ai",
	"clean_energy",
	"commodities",
	"consumer",
	"crypto",
	"defense",
	"dividends",
	"earnings",
	"emerging_markets",
	"esg",
	"geopolitics",
	"healthcare",
	"inflation",
	"litigation",
	"mna",
	"monetary_policy",
	"policy",
	"rates",
	"real_estate",
	"regulation",
	"semiconductors",
	"supply_chain",
}

// EventTypeSpec parameterizes one member of the event-type vocabulary
type EventTypeSpec struct {
	Name          string
	BaseImpact    float64
	DefaultTier   ImpactTier
	DecayHalfLife float64 // minutes
}

// EventTypes is the controlled event-type vocabulary with scoring parameters
var EventTypes = []EventTypeSpec{
	{Name: "MERGER_ACQUISITION", BaseImpact: 85, DefaultTier: TierGold, DecayHalfLife: 2880},
	{Name: "EARNINGS_BEAT", BaseImpact: 70, DefaultTier: TierSilver, DecayHalfLife: 720},
	{Name: "EARNINGS_MISS", BaseImpact: 72, DefaultTier: TierSilver, DecayHalfLife: 720},
	{Name: "GUIDANCE_CHANGE", BaseImpact: 68, DefaultTier: TierSilver, DecayHalfLife: 1440},
	{Name: "REGULATORY_ACTION", BaseImpact: 75, DefaultTier: TierGold, DecayHalfLife: 4320},
	{Name: "PRODUCT_LAUNCH", BaseImpact: 55, DefaultTier: TierBronze, DecayHalfLife: 1440},
	{Name: "EXECUTIVE_CHANGE", BaseImpact: 50, DefaultTier: TierBronze, DecayHalfLife: 1440},
	{Name: "DIVIDEND_CHANGE", BaseImpact: 60, DefaultTier: TierSilver, DecayHalfLife: 2880},
	{Name: "CREDIT_RATING", BaseImpact: 65, DefaultTier: TierSilver, DecayHalfLife: 2880},
	{Name: "LITIGATION", BaseImpact: 62, DefaultTier: TierSilver, DecayHalfLife: 4320},
	{Name: "MACRO_DATA", BaseImpact: 58, DefaultTier: TierBronze, DecayHalfLife: 480},
	{Name: "CENTRAL_BANK", BaseImpact: 80, DefaultTier: TierGold, DecayHalfLife: 1440},
	{Name: "SUPPLY_DISRUPTION", BaseImpact: 66, DefaultTier: TierSilver, DecayHalfLife: 2880},
	{Name: "BANKRUPTCY", BaseImpact: 92, DefaultTier: TierPlatinum, DecayHalfLife: 5760},
	{Name: "BUYBACK", BaseImpact: 52, DefaultTier: TierBronze, DecayHalfLife: 1440},
	{Name: "IPO", BaseImpact: 60, DefaultTier: TierSilver, DecayHalfLife: 1440},
	{Name: "ANALYST_RATING", BaseImpact: 45, DefaultTier: TierStandard, DecayHalfLife: 720},
	{Name: "GENERAL", BaseImpact: 30, DefaultTier: TierStandard, DecayHalfLife: 480},
}

var themeSet = func() map[string]bool {
	m := make(map[string]bool, len(Themes))
	for _, t := range Themes {
		m[t] = true
	}
	return m
}()

var eventTypeSet = func() map[string]EventTypeSpec {
	m := make(map[string]EventTypeSpec, len(EventTypes))
	for _, e := range EventTypes {
		m[e.Name] = e
	}
	return m
}()

// IsTheme reports vocabulary membership for a theme value
func IsTheme(theme string) bool {
	return themeSet[strings.ToLower(strings.TrimSpace(theme))]
}

// NormalizeTheme lowercases and trims a candidate theme value
func NormalizeTheme(theme string) string {
	return strings.ToLower(strings.TrimSpace(theme))
}

// FilterThemes keeps only vocabulary members, normalized and deduplicated.
// The second return lists the dropped out-of-vocabulary values.
func FilterThemes(candidates []string) (kept []string, dropped []string) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		n := NormalizeTheme(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if themeSet[n] {
			kept = append(kept, n)
		} else {
			dropped = append(dropped, c)
		}
	}
	return kept, dropped
}

// EventTypeByName looks up an event-type spec; ok is false for
// out-of-vocabulary names.
func EventTypeByName(name string) (EventTypeSpec, bool) {
	spec, ok := eventTypeSet[strings.ToUpper(strings.TrimSpace(name))]
	return spec, ok
}

// FilterEvents keeps only vocabulary event types, preserving confidences.
// The second return lists the dropped out-of-vocabulary names.
func FilterEvents(candidates []ExtractedEvent) (kept []ExtractedEvent, dropped []string) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		name := strings.ToUpper(strings.TrimSpace(c.Type))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := eventTypeSet[name]; ok {
			kept = append(kept, ExtractedEvent{Type: name, Confidence: c.Confidence})
		} else {
			dropped = append(dropped, c.Type)
		}
	}
	return kept, dropped
}
