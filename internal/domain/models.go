// Package domain provides core domain models and types.
package domain

import "time"

// TrustLevel classifies how much weight a source's reporting carries
type TrustLevel string

const (
	TrustVerified   TrustLevel = "verified"
	TrustTrusted    TrustLevel = "trusted"
	TrustStandard   TrustLevel = "standard"
	TrustUnverified TrustLevel = "unverified"
)

// ImpactTier buckets an article's market importance
type ImpactTier string

const (
	TierPlatinum ImpactTier = "PLATINUM"
	TierGold     ImpactTier = "GOLD"
	TierSilver   ImpactTier = "SILVER"
	TierBronze   ImpactTier = "BRONZE"
	TierStandard ImpactTier = "STANDARD"
)

// TierForScore maps an impact score to its tier bucket.
// A document's tier must always agree with its score.
func TierForScore(score float64) ImpactTier {
	switch {
	case score >= 90:
		return TierPlatinum
	case score >= 75:
		return TierGold
	case score >= 60:
		return TierSilver
	case score >= 40:
		return TierBronze
	default:
		return TierStandard
	}
}

// InstrumentType represents the type of financial instrument
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "STOCK"
	InstrumentADR    InstrumentType = "ADR"
	InstrumentETF    InstrumentType = "ETF"
	InstrumentREIT   InstrumentType = "REIT"
	InstrumentCrypto InstrumentType = "CRYPTO"
	InstrumentIndex  InstrumentType = "INDEX"
)

// Reserved group names. Both exist from schema init and cannot be removed.
const (
	GroupAdmin  = "admin"
	GroupPublic = "public"
)

// Group is a permission boundary. Groups are never hard-deleted.
type Group struct {
	GroupID  string `json:"group_id"`
	Name     string `json:"name"`
	Reserved bool   `json:"reserved"`
	Active   bool   `json:"active"`
}

// Source is a global attribution record; only admins may create or modify one.
type Source struct {
	SourceID   string     `json:"source_id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Region     string     `json:"region"`
	Languages  []string   `json:"languages"`
	TrustLevel TrustLevel `json:"trust_level"`
	Active     bool       `json:"active"`
}

// AffectedInstrument is one instrument an article moves, with the
// extraction's direction/magnitude/confidence attached.
type AffectedInstrument struct {
	InstrumentID  string  `json:"instrument_id,omitempty"`
	Ticker        string  `json:"ticker"`
	Direction     string  `json:"direction"` // up | down | neutral
	Magnitude     float64 `json:"magnitude"`
	Confidence    float64 `json:"confidence"`
	RegexDetected bool    `json:"regex_detected,omitempty"`
}

// ExtractedEvent is a typed market event the extraction attributed to a document
type ExtractedEvent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Enrichment holds everything the extraction stage produced for a document
type Enrichment struct {
	ImpactScore float64              `json:"impact_score"`
	ImpactTier  ImpactTier           `json:"impact_tier"`
	Events      []ExtractedEvent     `json:"events"`
	Instruments []AffectedInstrument `json:"instruments"`
	Companies   []string             `json:"companies"`
	Regions     []string             `json:"regions"`
	Sectors     []string             `json:"sectors"`
	Themes      []string             `json:"themes"`
	Summary     string               `json:"summary"`
}

// EmptyEnrichment is the degraded default used when extraction fails but
// graph writes are not mandated.
func EmptyEnrichment() Enrichment {
	return Enrichment{
		ImpactScore: 0,
		ImpactTier:  TierStandard,
	}
}

// Document is the immutable unit of news. A new version replaces by
// reference; old versions are retained.
type Document struct {
	DocumentID        string     `json:"document_id"`
	Version           int        `json:"version"`
	PreviousVersionID string     `json:"previous_version_id,omitempty"`
	SourceID          string     `json:"source_id"`
	GroupID           string     `json:"group_id"`
	CreatedAt         time.Time  `json:"created_at"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	Language          string     `json:"language"`
	Title             string     `json:"title"`
	Content           string     `json:"content"`
	WordCount         int        `json:"word_count"`
	ContentHash       string     `json:"content_hash"`
	StoryFingerprint  string     `json:"story_fingerprint"`
	DuplicateOf       string     `json:"duplicate_of,omitempty"`
	DuplicateScore    *float64   `json:"duplicate_score,omitempty"`
	Enrichment        Enrichment `json:"extracted"`
	Metadata          Metadata   `json:"metadata,omitempty"`
}

// MaxWordCount bounds document content at ingest
const MaxWordCount = 20000

// MaxMetadataBytes bounds the free-form metadata bag per document
const MaxMetadataBytes = 8192

// Metadata is the free-form per-document bag, deliberately bounded in size
type Metadata map[string]string

// ClientType classifies the book holder
type ClientType string

const (
	ClientInstitutional ClientType = "INSTITUTIONAL"
	ClientHedgeFund     ClientType = "HEDGE_FUND"
	ClientRiskArb       ClientType = "RISK_ARB"
	ClientPrivateWealth ClientType = "PRIVATE_WEALTH"
	ClientRetail        ClientType = "RETAIL"
)

// Client is a book holder, owned by exactly one group
type Client struct {
	ClientID        string     `json:"client_id"`
	Name            string     `json:"name"`
	ClientType      ClientType `json:"client_type"`
	GroupID         string     `json:"group_id"`
	AlertFrequency  string     `json:"alert_frequency"`
	ImpactThreshold float64    `json:"impact_threshold"`
	Status          string     `json:"status"`
}

// Restrictions is the sealed constraint schema on a client profile
type Restrictions struct {
	ExcludedIndustries []string           `json:"excluded_industries,omitempty"`
	ExcludedCompanies  []string           `json:"excluded_companies,omitempty"`
	ImpactThemes       []string           `json:"impact_themes,omitempty"`
	Jurisdictions      []string           `json:"jurisdictions,omitempty"`
	ConcentrationCaps  map[string]float64 `json:"concentration_caps,omitempty"`
}

// ClientProfile holds the mandate and constraints for a client
type ClientProfile struct {
	ClientID         string       `json:"client_id"`
	MandateType      string       `json:"mandate_type"`
	MandateText      string       `json:"mandate_text"`
	MandateThemes    []string     `json:"mandate_themes"`
	MandateEmbedding []float32    `json:"-"`
	Benchmark        string       `json:"benchmark,omitempty"`
	Horizon          string       `json:"horizon,omitempty"`
	ESGConstrained   bool         `json:"esg_constrained"`
	Restrictions     Restrictions `json:"restrictions"`
}

// MaxMandateChars bounds mandate text length
const MaxMandateChars = 5000

// Position is one HOLDS edge in a portfolio
type Position struct {
	InstrumentID string  `json:"instrument_id"`
	Ticker       string  `json:"ticker"`
	Weight       float64 `json:"weight"`
	Shares       float64 `json:"shares"`
	AvgCost      float64 `json:"avg_cost"`
}

// WatchItem is one WATCHES edge in a watchlist
type WatchItem struct {
	InstrumentID   string  `json:"instrument_id"`
	Ticker         string  `json:"ticker"`
	AlertThreshold float64 `json:"alert_threshold"`
}

// Instrument is a tradeable entity node (global, no group)
type Instrument struct {
	InstrumentID string         `json:"instrument_id"`
	Ticker       string         `json:"ticker"`
	Name         string         `json:"name"`
	Type         InstrumentType `json:"type"`
	Exchange     string         `json:"exchange"`
	Currency     string         `json:"currency"`
	CompanyID    string         `json:"company_id,omitempty"`
}

// Company is an issuer entity node
type Company struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Sector    string `json:"sector"`
}

// Reason tags the provenance of a feed candidate
type Reason string

const (
	ReasonDirectHolding Reason = "DIRECT_HOLDING"
	ReasonWatchlist     Reason = "WATCHLIST"
	ReasonThematic      Reason = "THEMATIC"
	ReasonVector        Reason = "VECTOR"
	ReasonPeer          Reason = "PEER"
	ReasonSupplier      Reason = "SUPPLIER"
	ReasonCompetitor    Reason = "COMPETITOR"
)

// IngestStatus is the terminal disposition of one ingest request
type IngestStatus string

const (
	IngestDone      IngestStatus = "DONE"
	IngestDuplicate IngestStatus = "DUPLICATE"
	IngestFailed    IngestStatus = "FAILED"
)
