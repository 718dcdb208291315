// Package clients provides CRUD for clients, portfolios, and watchlists,
// plus mandate enrichment and the profile completeness score.
package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/graph"
)

// Enricher is the LLM surface mandate enrichment needs
type Enricher interface {
	ExtractThemes(ctx context.Context, mandateText string) ([]string, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Service owns client lifecycle operations
type Service struct {
	graph    *graph.Store
	enricher Enricher
	log      zerolog.Logger
}

// NewService creates the client profile service
func NewService(g *graph.Store, enricher Enricher, log zerolog.Logger) *Service {
	return &Service{
		graph:    g,
		enricher: enricher,
		log:      log.With().Str("component", "clients").Logger(),
	}
}

// Upsert creates or updates a client inside the caller's write group
func (s *Service) Upsert(ctx context.Context, ac *auth.AccessContext, c domain.Client) (*domain.Client, error) {
	if err := ac.RequireWrite(c.GroupID); err != nil {
		return nil, err
	}
	c.GroupID = ac.WriteGroup
	if c.ClientID != "" {
		// Updates must stay in a group the caller can already see
		if _, err := s.graph.GetClient(ctx, c.ClientID, ac.GroupList()); err != nil {
			return nil, err
		}
	}
	return s.graph.UpsertClient(ctx, c)
}

// Get fetches a client with its profile, portfolio, and watchlist
func (s *Service) Get(ctx context.Context, ac *auth.AccessContext, clientID string) (*domain.Client, *domain.ClientProfile, []domain.Position, []domain.WatchItem, error) {
	client, err := s.graph.GetClient(ctx, clientID, ac.GroupList())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	profile, _, err := s.graph.GetProfile(ctx, clientID)
	if err != nil && !domain.IsCode(err, domain.ErrNotFound) {
		return nil, nil, nil, nil, err
	}
	positions, err := s.graph.GetPortfolio(ctx, clientID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	watch, err := s.graph.GetWatchlist(ctx, clientID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return client, profile, positions, watch, nil
}

// SetPortfolio replaces the client's holdings
func (s *Service) SetPortfolio(ctx context.Context, ac *auth.AccessContext, clientID string, positions []domain.Position) error {
	client, err := s.graph.GetClient(ctx, clientID, ac.GroupList())
	if err != nil {
		return err
	}
	if err := ac.RequireWrite(client.GroupID); err != nil {
		return err
	}
	return s.graph.SetPortfolio(ctx, clientID, positions)
}

// SetWatchlist replaces the client's watchlist
func (s *Service) SetWatchlist(ctx context.Context, ac *auth.AccessContext, clientID string, items []domain.WatchItem) error {
	client, err := s.graph.GetClient(ctx, clientID, ac.GroupList())
	if err != nil {
		return err
	}
	if err := ac.RequireWrite(client.GroupID); err != nil {
		return err
	}
	return s.graph.SetWatchlist(ctx, clientID, items)
}

// mandateHash keys enrichment idempotence on the exact mandate text
func mandateHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// UpsertProfile stores the profile and enriches the mandate. Enrichment
// is idempotent: unchanged mandate text keeps the stored themes and
// embedding without new provider calls.
func (s *Service) UpsertProfile(ctx context.Context, ac *auth.AccessContext, p domain.ClientProfile) (*domain.ClientProfile, error) {
	client, err := s.graph.GetClient(ctx, p.ClientID, ac.GroupList())
	if err != nil {
		return nil, err
	}
	if err := ac.RequireWrite(client.GroupID); err != nil {
		return nil, err
	}
	if len(p.MandateText) > domain.MaxMandateChars {
		return nil, domain.NewErrorf(domain.ErrInvalidInput, "mandate text exceeds %d characters", domain.MaxMandateChars)
	}

	// Explicitly supplied themes are validated against the vocabulary
	if len(p.MandateThemes) > 0 {
		kept, dropped := domain.FilterThemes(p.MandateThemes)
		p.MandateThemes = kept
		for _, d := range dropped {
			s.log.Warn().Str("theme", d).Str("client_id", p.ClientID).Msg("Dropped out-of-vocabulary mandate theme")
		}
	}

	textHash := mandateHash(p.MandateText)
	existing, storedHash, err := s.graph.GetProfile(ctx, p.ClientID)
	if err != nil && !domain.IsCode(err, domain.ErrNotFound) {
		return nil, err
	}

	if p.MandateText != "" {
		if existing != nil && storedHash == textHash && len(existing.MandateEmbedding) > 0 {
			// Unchanged mandate: reuse enrichment
			if len(p.MandateThemes) == 0 {
				p.MandateThemes = existing.MandateThemes
			}
			p.MandateEmbedding = existing.MandateEmbedding
		} else {
			if len(p.MandateThemes) == 0 {
				themes, err := s.enricher.ExtractThemes(ctx, p.MandateText)
				if err != nil {
					return nil, err
				}
				p.MandateThemes = themes
			}
			embedding, err := s.enricher.EmbedOne(ctx, p.MandateText)
			if err != nil {
				return nil, err
			}
			p.MandateEmbedding = embedding
		}
	}

	if err := s.graph.UpsertProfile(ctx, p, textHash); err != nil {
		return nil, err
	}
	return &p, nil
}

// CompletenessReport is the CPCS breakdown
type CompletenessReport struct {
	Score         float64  `json:"score"`
	MissingFields []string `json:"missing_fields"`
}

// Completeness computes the deterministic profile completeness score:
// holdings 35%, mandate_type 17.5%, mandate_text 17.5%, constraints 20%,
// engagement 10%.
func (s *Service) Completeness(ctx context.Context, ac *auth.AccessContext, clientID string) (*CompletenessReport, error) {
	client, profile, positions, _, err := s.Get(ctx, ac, clientID)
	if err != nil {
		return nil, err
	}

	report := &CompletenessReport{}
	if len(positions) > 0 {
		report.Score += 0.35
	} else {
		report.MissingFields = append(report.MissingFields, "holdings")
	}
	if profile != nil && profile.MandateType != "" {
		report.Score += 0.175
	} else {
		report.MissingFields = append(report.MissingFields, "mandate_type")
	}
	if profile != nil && profile.MandateText != "" {
		report.Score += 0.175
	} else {
		report.MissingFields = append(report.MissingFields, "mandate_text")
	}
	if profile != nil && hasConstraints(profile.Restrictions) {
		report.Score += 0.20
	} else {
		report.MissingFields = append(report.MissingFields, "constraints")
	}
	if client.AlertFrequency != "" && client.ImpactThreshold > 0 {
		report.Score += 0.10
	} else {
		report.MissingFields = append(report.MissingFields, "engagement")
	}
	return report, nil
}

func hasConstraints(r domain.Restrictions) bool {
	return len(r.ExcludedIndustries) > 0 || len(r.ExcludedCompanies) > 0 ||
		len(r.ImpactThemes) > 0 || len(r.Jurisdictions) > 0 || len(r.ConcentrationCaps) > 0
}
