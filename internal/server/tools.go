package server

import (
	"context"
	"time"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/ingest"
	"github.com/meridian/newsgraph/internal/query"
)

// registerTools builds the POST /tools/{name} dispatch table
func (s *Server) registerTools() {
	s.tools = map[string]toolHandler{
		"ingest_document":          s.toolIngestDocument,
		"query_documents":          s.toolQueryDocuments,
		"get_document":             s.toolGetDocument,
		"get_top_client_news":      s.toolGetTopClientNews,
		"why_it_matters_to_client": s.toolWhyItMatters,
		"upsert_client":            s.toolUpsertClient,
		"get_client_profile":       s.toolGetClientProfile,
		"upsert_client_profile":    s.toolUpsertClientProfile,
		"set_portfolio":            s.toolSetPortfolio,
		"set_watchlist":            s.toolSetWatchlist,
		"get_profile_completeness": s.toolGetProfileCompleteness,
		"list_sources":             s.toolListSources,
		"create_source":            s.toolCreateSource,
		"update_source":            s.toolUpdateSource,
		"delete_source":            s.toolDeleteSource,
		"delete_document":          s.toolDeleteDocument,
		"create_group":             s.toolCreateGroup,
		"list_groups":              s.toolListGroups,
		"create_token":             s.toolCreateToken,
		"revoke_token":             s.toolRevokeToken,
	}
}

// --- ingest ----------------------------------------------------------------

type ingestRequest struct {
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	SourceID    string          `json:"source_id"`
	Language    string          `json:"language,omitempty"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
}

func (s *Server) toolIngestDocument(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req ingestRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	result, err := s.pipeline().Ingest(ctx, ac, ingest.Request{
		Title:       req.Title,
		Content:     req.Content,
		SourceID:    req.SourceID,
		Language:    req.Language,
		PublishedAt: req.PublishedAt,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, "", err
	}

	data := map[string]interface{}{
		"document_id": result.DocumentID,
		"group_id":    result.GroupID,
		"status":      result.Status,
	}
	message := "document ingested"
	if result.Status == domain.IngestDuplicate {
		data["duplicate_of"] = result.DuplicateOf
		data["duplicate_score"] = result.DuplicateScore
		data["detection_tier"] = result.DuplicateTier
		message = "duplicate content"
	}
	return data, message, nil
}

// --- queries ---------------------------------------------------------------

type queryDocumentsRequest struct {
	Query           string `json:"query"`
	K               int    `json:"k,omitempty"`
	TimeWindowHours int    `json:"time_window_hours,omitempty"`
}

func (s *Server) toolQueryDocuments(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req queryDocumentsRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	docs, err := s.engine().SearchDocuments(ctx, ac, req.Query, req.K, time.Duration(req.TimeWindowHours)*time.Hour)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"documents": docs}, "", nil
}

type getDocumentRequest struct {
	DocumentID string     `json:"document_id"`
	DateHint   *time.Time `json:"date_hint,omitempty"`
}

func (s *Server) toolGetDocument(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req getDocumentRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	// The graph lookup enforces the group filter before any file read
	meta, err := s.container.GraphStore.GetDocumentMeta(ctx, req.DocumentID, ac.GroupList())
	if err != nil {
		return nil, "", err
	}
	doc, err := s.container.DocStore.Get(req.DocumentID, &meta.CreatedAt)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"document": doc}, "", nil
}

type topClientNewsRequest struct {
	ClientID            string   `json:"client_id"`
	K                   int      `json:"k,omitempty"`
	TimeWindowHours     int      `json:"time_window_hours,omitempty"`
	MinImpactScore      float64  `json:"min_impact_score,omitempty"`
	ImpactTiers         []string `json:"impact_tiers,omitempty"`
	IncludePortfolio    *bool    `json:"include_portfolio,omitempty"`
	IncludeWatchlist    *bool    `json:"include_watchlist,omitempty"`
	IncludeLateralGraph *bool    `json:"include_lateral_graph,omitempty"`
	OpportunityBias     float64  `json:"opportunity_bias,omitempty"`
}

func (s *Server) toolGetTopClientNews(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req topClientNewsRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if req.ClientID == "" {
		return nil, "", domain.NewError(domain.ErrInvalidInput, "client_id is required")
	}

	opts := query.DefaultOptions()
	if req.K > 0 {
		opts.K = req.K
	}
	if req.TimeWindowHours > 0 {
		opts.TimeWindow = time.Duration(req.TimeWindowHours) * time.Hour
	}
	opts.MinImpactScore = req.MinImpactScore
	opts.ImpactTiers = req.ImpactTiers
	if req.IncludePortfolio != nil {
		opts.IncludeHoldings = *req.IncludePortfolio
	}
	if req.IncludeWatchlist != nil {
		opts.IncludeWatch = *req.IncludeWatchlist
	}
	if req.IncludeLateralGraph != nil {
		opts.IncludeLateral = *req.IncludeLateralGraph
	}
	opts.Lambda = req.OpportunityBias

	articles, err := s.engine().ClientFeed(ctx, ac, req.ClientID, opts)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"articles": articles}, "", nil
}

type whyItMattersRequest struct {
	ClientID   string `json:"client_id"`
	DocumentID string `json:"document_id"`
}

func (s *Server) toolWhyItMatters(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req whyItMattersRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if req.ClientID == "" || req.DocumentID == "" {
		return nil, "", domain.NewError(domain.ErrInvalidInput, "client_id and document_id are required")
	}
	why, summary, err := s.engine().WhyItMatters(ctx, ac, req.ClientID, req.DocumentID)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{
		"why_it_matters": why,
		"story_summary":  summary,
	}, "", nil
}

// --- clients ---------------------------------------------------------------

func (s *Server) toolUpsertClient(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req domain.Client
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	client, err := s.clientService().Upsert(ctx, ac, req)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"client": client}, "client saved", nil
}

type clientIDRequest struct {
	ClientID string `json:"client_id"`
}

func (s *Server) toolGetClientProfile(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req clientIDRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	client, profile, positions, watch, err := s.clientService().Get(ctx, ac, req.ClientID)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{
		"client":    client,
		"profile":   profile,
		"portfolio": positions,
		"watchlist": watch,
	}, "", nil
}

func (s *Server) toolUpsertClientProfile(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req domain.ClientProfile
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	profile, err := s.clientService().UpsertProfile(ctx, ac, req)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"profile": profile}, "profile saved", nil
}

type setPortfolioRequest struct {
	ClientID  string            `json:"client_id"`
	Positions []domain.Position `json:"positions"`
}

func (s *Server) toolSetPortfolio(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req setPortfolioRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if err := s.clientService().SetPortfolio(ctx, ac, req.ClientID, req.Positions); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"positions": len(req.Positions)}, "portfolio saved", nil
}

type setWatchlistRequest struct {
	ClientID string             `json:"client_id"`
	Items    []domain.WatchItem `json:"items"`
}

func (s *Server) toolSetWatchlist(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req setWatchlistRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if err := s.clientService().SetWatchlist(ctx, ac, req.ClientID, req.Items); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"items": len(req.Items)}, "watchlist saved", nil
}

func (s *Server) toolGetProfileCompleteness(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	var req clientIDRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	report, err := s.clientService().Completeness(ctx, ac, req.ClientID)
	if err != nil {
		return nil, "", err
	}
	return report, "", nil
}

// --- sources (admin-gated writes, global reads) ----------------------------

func (s *Server) toolListSources(ctx context.Context, _ *auth.AccessContext, _ []byte) (interface{}, string, error) {
	// Sources are global attribution records; no group filter applies
	sources, err := s.container.GraphStore.ListSources(ctx)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"sources": sources}, "", nil
}

func (s *Server) toolCreateSource(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req domain.Source
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	src, err := s.container.GraphStore.CreateSource(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"source": src}, "source created", nil
}

func (s *Server) toolUpdateSource(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req domain.Source
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if err := s.container.GraphStore.UpdateSource(ctx, req); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"source_id": req.SourceID}, "source updated", nil
}

type sourceIDRequest struct {
	SourceID string `json:"source_id"`
}

func (s *Server) toolDeleteSource(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req sourceIDRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if err := s.container.GraphStore.DeleteSource(ctx, req.SourceID); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"source_id": req.SourceID}, "source deactivated", nil
}

// --- documents (admin delete) ----------------------------------------------

type deleteDocumentRequest struct {
	DocumentID string `json:"document_id"`
	GroupID    string `json:"group_id"`
}

func (s *Server) toolDeleteDocument(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req deleteDocumentRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if req.DocumentID == "" || req.GroupID == "" {
		return nil, "", domain.NewError(domain.ErrInvalidInput, "document_id and group_id are required")
	}

	// Soft delete in graph and canonical store, hard delete of chunks:
	// the vector index holds no tombstones.
	if err := s.container.GraphStore.SoftDeleteDocument(ctx, req.DocumentID, req.GroupID); err != nil {
		return nil, "", err
	}
	if err := s.container.DocStore.Delete(req.DocumentID, req.GroupID); err != nil {
		return nil, "", err
	}
	if err := s.container.VectorIndex.Delete(ctx, req.DocumentID); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"document_id": req.DocumentID}, "document deleted", nil
}

// --- groups and tokens (admin) ---------------------------------------------

type createGroupRequest struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

func (s *Server) toolCreateGroup(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req createGroupRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	group, err := s.container.GraphStore.CreateGroup(ctx, req.GroupID, req.Name)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"group": group}, "group created", nil
}

func (s *Server) toolListGroups(ctx context.Context, ac *auth.AccessContext, _ []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	groups, err := s.container.GraphStore.ListGroups(ctx)
	if err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"groups": groups}, "", nil
}

type createTokenRequest struct {
	Groups   []string `json:"groups"`
	TTLHours int      `json:"ttl_hours,omitempty"`
}

func (s *Server) toolCreateToken(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req createTokenRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	ttl := 24 * time.Hour
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	tokenID, signed, err := s.container.AuthService.Mint(req.Groups, ttl)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	if err := s.container.GraphStore.RegisterToken(ctx, tokenID, req.Groups, now, now.Add(ttl)); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{
		"token_id": tokenID,
		"token":    signed,
		"groups":   req.Groups,
	}, "token issued", nil
}

type revokeTokenRequest struct {
	TokenID string `json:"token_id"`
}

func (s *Server) toolRevokeToken(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, "", err
	}
	var req revokeTokenRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, "", err
	}
	if err := s.container.GraphStore.RevokeToken(ctx, req.TokenID); err != nil {
		return nil, "", err
	}
	return map[string]interface{}{"token_id": req.TokenID}, "token revoked", nil
}
