// Package dedup implements three-tier duplicate detection: exact content
// hash, structural story fingerprint, and semantic near-duplicate. All
// state lives in the backing stores; the detector itself is stateless.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/vector"
)

// Mode selects the duplicate disposition
type Mode string

const (
	// ModeFlag stores duplicates with duplicate_of set and indexes them
	ModeFlag Mode = "flag"
	// ModeSkip rejects duplicates with no side effects
	ModeSkip Mode = "skip"
)

// Tier names which detection tier fired
type Tier string

const (
	TierHash        Tier = "hash"
	TierFingerprint Tier = "fingerprint"
	TierSemantic    Tier = "semantic"
)

// Hit describes one detected duplicate
type Hit struct {
	DuplicateOf string
	Tier        Tier
	Score       float64
}

// Config bounds the temporal windows and the semantic threshold
type Config struct {
	HashWindow        time.Duration // 0 = unbounded
	FingerprintWindow time.Duration
	SemanticWindow    time.Duration
	SemanticThreshold float64
	Mode              Mode
}

// DefaultConfig matches the service defaults
func DefaultConfig() Config {
	return Config{
		HashWindow:        0,
		FingerprintWindow: 24 * time.Hour,
		SemanticWindow:    48 * time.Hour,
		SemanticThreshold: 0.85,
		Mode:              ModeFlag,
	}
}

// HashIndex is the graph-store surface the detector reads
type HashIndex interface {
	FindByContentHash(ctx context.Context, groupID, contentHash string, window time.Duration) (string, error)
	FindByFingerprint(ctx context.Context, groupID, fingerprint string, window time.Duration) (string, error)
}

// VectorSearcher is the vector-store surface for the semantic tier
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int, filter vector.Filter) ([]vector.Match, error)
}

// Detector runs the three tiers. The hash tier is free and runs before
// extraction; fingerprint and semantic need extraction output.
type Detector struct {
	cfg    Config
	hashes HashIndex
	vecs   VectorSearcher
	log    zerolog.Logger
}

// NewDetector creates a duplicate detector
func NewDetector(cfg Config, hashes HashIndex, vecs VectorSearcher, log zerolog.Logger) *Detector {
	if cfg.SemanticThreshold == 0 {
		cfg.SemanticThreshold = 0.85
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFlag
	}
	return &Detector{
		cfg:    cfg,
		hashes: hashes,
		vecs:   vecs,
		log:    log.With().Str("component", "dedup").Logger(),
	}
}

// Mode returns the configured disposition
func (d *Detector) Mode() Mode {
	return d.cfg.Mode
}

// NormalizeContent lowercases, collapses whitespace, and strips
// punctuation so cosmetic differences hash identically.
func NormalizeContent(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentHash is the SHA-256 of the normalized text
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes (sorted affected tickers, event type, published
// date). Two differently-worded stories about the same event collide here.
func Fingerprint(tickers []string, eventType string, published time.Time) string {
	if len(tickers) == 0 && eventType == "" {
		return ""
	}
	sorted := make([]string, len(tickers))
	for i, t := range tickers {
		sorted[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	sort.Strings(sorted)

	payload := strings.Join(sorted, ",") + "|" + strings.ToUpper(eventType) + "|" + published.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// CheckHash runs the exact tier against the write group
func (d *Detector) CheckHash(ctx context.Context, groupID, contentHash string) (*Hit, error) {
	id, err := d.hashes.FindByContentHash(ctx, groupID, contentHash, d.cfg.HashWindow)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	d.log.Debug().Str("duplicate_of", id).Str("group_id", groupID).Msg("Exact duplicate detected")
	return &Hit{DuplicateOf: id, Tier: TierHash, Score: 1.0}, nil
}

// CheckFingerprint runs the structural tier against the write group
func (d *Detector) CheckFingerprint(ctx context.Context, groupID, fingerprint string) (*Hit, error) {
	if fingerprint == "" {
		return nil, nil
	}
	id, err := d.hashes.FindByFingerprint(ctx, groupID, fingerprint, d.cfg.FingerprintWindow)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	d.log.Debug().Str("duplicate_of", id).Str("group_id", groupID).Msg("Structural duplicate detected")
	return &Hit{DuplicateOf: id, Tier: TierFingerprint, Score: 1.0}, nil
}

// CheckSemantic runs the near-duplicate tier with the precomputed query
// vector, restricted to the write group and the semantic window. No
// additional embedding call happens here: the pipeline produced the query
// vector in the same batch as the chunk vectors.
func (d *Detector) CheckSemantic(ctx context.Context, groupID string, queryVec []float32) (*Hit, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	matches, err := d.vecs.Search(ctx, queryVec, 1, vector.Filter{
		Groups: []string{groupID},
		Since:  time.Now().Add(-d.cfg.SemanticWindow),
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	similarity := 1 - matches[0].Distance
	if similarity < d.cfg.SemanticThreshold {
		return nil, nil
	}
	d.log.Debug().
		Str("duplicate_of", matches[0].DocumentID).
		Float64("similarity", similarity).
		Msg("Semantic duplicate detected")
	return &Hit{DuplicateOf: matches[0].DocumentID, Tier: TierSemantic, Score: similarity}, nil
}

// QueryText builds the semantic dedup query text: title plus the first
// 500 characters of content. Prepending it to the chunk embedding batch
// makes one provider call serve both purposes.
func QueryText(title, content string) string {
	runes := []rune(content)
	if len(runes) > 500 {
		runes = runes[:500]
	}
	return title + " " + string(runes)
}
