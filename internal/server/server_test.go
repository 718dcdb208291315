package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/newsgraph/internal/alias"
	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/clients"
	"github.com/meridian/newsgraph/internal/config"
	"github.com/meridian/newsgraph/internal/database"
	"github.com/meridian/newsgraph/internal/dedup"
	"github.com/meridian/newsgraph/internal/di"
	"github.com/meridian/newsgraph/internal/docstore"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/events"
	"github.com/meridian/newsgraph/internal/graph"
	"github.com/meridian/newsgraph/internal/ingest"
	"github.com/meridian/newsgraph/internal/llm"
	"github.com/meridian/newsgraph/internal/query"
	"github.com/meridian/newsgraph/internal/reliability"
	"github.com/meridian/newsgraph/internal/vector"
)

// fakeProvider is an httptest LLM endpoint returning canned extraction
// and deterministic embeddings.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			extraction := `{"impact_score": 80, "events": [{"type": "EARNINGS_BEAT", "confidence": 0.9}],
				"instruments": [{"ticker": "AAPL", "direction": "up", "magnitude": 0.6, "confidence": 0.9}],
				"companies": [], "themes": ["earnings"], "summary": "Apple beat."}`
			body, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": extraction}}},
			})
			_, _ = w.Write(body)
		case "/embeddings":
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			data := make([]map[string]any, len(req.Input))
			for i, text := range req.Input {
				vec := []float32{float32(len(text)%7) + 1, 1, 0}
				data[i] = map[string]any{"embedding": vec, "index": i}
			}
			body, _ := json.Marshal(map[string]any{"data": data})
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type testEnv struct {
	server *Server
	auth   *auth.Service
	graph  *graph.Store
	files  *docstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.Nop()
	provider := fakeProvider(t)
	t.Cleanup(provider.Close)

	graphDB, err := database.New(database.Config{Path: filepath.Join(dir, "graph.db"), Profile: database.ProfileGraph, Name: "graph"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = graphDB.Close() })
	vectorDB, err := database.New(database.Config{Path: filepath.Join(dir, "vector.db"), Name: "vector"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectorDB.Close() })
	cacheDB, err := database.New(database.Config{Path: filepath.Join(dir, "cache.db"), Profile: database.ProfileCache, Name: "cache"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheDB.Close() })

	bus := events.NewBus(log)
	g := graph.NewStore(graphDB, log)
	require.NoError(t, g.InitSchema())
	files, err := docstore.NewStore(filepath.Join(dir, "documents"), log)
	require.NoError(t, err)
	vectors, err := vector.NewIndex(vectorDB, vector.DefaultChunkConfig(), log)
	require.NoError(t, err)

	llmClient := llm.NewClient(llm.Config{
		BaseURL: provider.URL, Model: "m", EmbeddingModel: "e",
		MaxRetries: 1, Timeout: 5 * time.Second, MaxInflight: 2,
	}, log)

	authSvc := auth.NewService("test-secret", g, log)
	resolver, err := alias.NewResolver(g, log)
	require.NoError(t, err)
	detector := dedup.NewDetector(dedup.DefaultConfig(), g, vectors, log)
	pipeline := ingest.New(ingest.Config{StrictTickerValidation: true, RegexTickerFallback: false, ExtractionRequired: true},
		g, files, vectors, llmClient, detector, resolver, bus, log)
	engine := query.NewEngine(g, vectors, llmClient, query.Config{}, log)
	clientSvc := clients.NewService(g, llmClient, log)

	container := &di.Container{
		GraphDB:       graphDB,
		VectorDB:      vectorDB,
		CacheDB:       cacheDB,
		EventBus:      bus,
		GraphStore:    g,
		DocStore:      files,
		VectorIndex:   vectors,
		LLMClient:     llmClient,
		AuthService:   authSvc,
		AliasResolver: resolver,
		Detector:      detector,
		Pipeline:      pipeline,
		QueryEngine:   engine,
		ClientService: clientSvc,
		Reconciler:    reliability.NewReconciler(files, g, vectors, bus, true, log),
	}

	srv := New(Config{
		Port:      0,
		DevMode:   true,
		Log:       log,
		Config:    &config.Config{DataDir: dir, DevMode: true},
		Container: container,
	})

	return &testEnv{server: srv, auth: authSvc, graph: g, files: files}
}

func (e *testEnv) seed(t *testing.T) (sourceID string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.graph.CreateGroup(ctx, "group_alpha", "Alpha")
	require.NoError(t, err)
	_, err = e.graph.CreateGroup(ctx, "group_beta", "Beta")
	require.NoError(t, err)
	src, err := e.graph.CreateSource(ctx, domain.Source{Name: "Wire"})
	require.NoError(t, err)
	require.NoError(t, e.graph.UpsertCompany(ctx, domain.Company{CompanyID: "co-apple", Name: "Apple Inc", Sector: "Technology"}))
	require.NoError(t, e.graph.UpsertInstrument(ctx, domain.Instrument{InstrumentID: "inst-aapl", Ticker: "AAPL", CompanyID: "co-apple"}))
	require.NoError(t, e.graph.PutAlias(ctx, graph.AliasRecord{Scheme: "TICKER", Value: "AAPL", EntityID: "inst-aapl", EntityKind: "instrument"}))
	return src.SourceID
}

func (e *testEnv) token(t *testing.T, groups ...string) string {
	t.Helper()
	_, signed, err := e.auth.Mint(groups, time.Hour)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) call(t *testing.T, tool, token string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/tools/"+tool, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	var parsed map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	return rec, parsed
}

func TestAdminOnlySourceCreate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	// Non-admin token: ADMIN_REQUIRED
	rec, parsed := env.call(t, "create_source", env.token(t, "group_alpha"), map[string]any{"name": "New Wire"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ADMIN_REQUIRED", parsed["error_code"])
	assert.NotEmpty(t, parsed["recovery_strategy"])

	// Admin token: success, and the source is globally listed
	rec, parsed = env.call(t, "create_source", env.token(t, domain.GroupAdmin), map[string]any{"name": "New Wire"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", parsed["status"])

	rec, parsed = env.call(t, "list_sources", env.token(t, "group_beta"), map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	sources := parsed["data"].(map[string]any)["sources"].([]any)
	assert.Len(t, sources, 2)
}

func TestIngestThenCrossGroupIsolation(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.seed(t)

	alphaToken := env.token(t, "group_alpha")
	betaToken := env.token(t, "group_beta")

	rec, parsed := env.call(t, "ingest_document", alphaToken, map[string]any{
		"title":     "Apple beats estimates",
		"content":   "Apple reported record revenue and beat analyst estimates comfortably this quarter.",
		"source_id": sourceID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := parsed["data"].(map[string]any)
	assert.Equal(t, "group_alpha", data["group_id"])
	assert.Equal(t, string(domain.IngestDone), data["status"])

	// The writer can find it
	rec, parsed = env.call(t, "query_documents", alphaToken, map[string]any{"query": "apple earnings", "k": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	docs := parsed["data"].(map[string]any)["documents"]
	require.NotNil(t, docs)
	assert.NotEmpty(t, docs.([]any))

	// A beta-group caller gets zero results for the same query
	rec, parsed = env.call(t, "query_documents", betaToken, map[string]any{"query": "apple earnings", "k": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	betaDocs := parsed["data"].(map[string]any)["documents"]
	assert.Empty(t, betaDocs)
}

func TestIngestDuplicateSecondCall(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.seed(t)
	token := env.token(t, "group_alpha")

	payload := map[string]any{
		"title":     "Apple beats estimates",
		"content":   "Apple reported record revenue and beat analyst estimates comfortably this quarter.",
		"source_id": sourceID,
	}
	rec, _ := env.call(t, "ingest_document", token, payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, parsed := env.call(t, "ingest_document", token, payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := parsed["data"].(map[string]any)
	assert.Equal(t, string(domain.IngestDuplicate), data["status"])
	assert.NotEmpty(t, data["duplicate_of"])
}

func TestAnonymousIngestDenied(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.seed(t)

	rec, parsed := env.call(t, "ingest_document", "", map[string]any{
		"title": "T", "content": "C", "source_id": sourceID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCESS_DENIED", parsed["error_code"])
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec, parsed := env.call(t, "list_sources", "not-a-jwt", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_INVALID_TOKEN", parsed["error_code"])
}

func TestUnknownTool(t *testing.T) {
	env := newTestEnv(t)
	rec, parsed := env.call(t, "no_such_tool", "", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", parsed["error_code"])
}

func TestClientFeedEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.seed(t)
	alphaToken := env.token(t, "group_alpha")

	// Create a client holding AAPL
	rec, parsed := env.call(t, "upsert_client", alphaToken, map[string]any{
		"name": "Fund One", "client_type": "HEDGE_FUND",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clientID := parsed["data"].(map[string]any)["client"].(map[string]any)["client_id"].(string)

	rec, _ = env.call(t, "set_portfolio", alphaToken, map[string]any{
		"client_id": clientID,
		"positions": []map[string]any{{"instrument_id": "inst-aapl", "ticker": "AAPL", "weight": 0.2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Ingest a story affecting AAPL
	rec, _ = env.call(t, "ingest_document", alphaToken, map[string]any{
		"title":     "Apple beats estimates",
		"content":   "Apple reported record revenue and beat analyst estimates comfortably this quarter.",
		"source_id": sourceID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Feed at lambda 0: the story ranks with DIRECT_HOLDING
	rec, parsed = env.call(t, "get_top_client_news", alphaToken, map[string]any{
		"client_id": clientID, "k": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	articles := parsed["data"].(map[string]any)["articles"].([]any)
	require.NotEmpty(t, articles)
	first := articles[0].(map[string]any)
	assert.Contains(t, first["reasons"], "DIRECT_HOLDING")
	assert.Contains(t, first["why_it_matters_base"], "AAPL")

	// why_it_matters augmentation stays within the word bounds
	docID := first["document_id"].(string)
	rec, parsed = env.call(t, "why_it_matters_to_client", alphaToken, map[string]any{
		"client_id": clientID, "document_id": docID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	why := parsed["data"].(map[string]any)["why_it_matters"].(string)
	assert.NotEmpty(t, why)
	assert.LessOrEqual(t, len(strings.Fields(why)), 30)
}

func TestDeleteDocumentAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.seed(t)
	alphaToken := env.token(t, "group_alpha")

	rec, parsed := env.call(t, "ingest_document", alphaToken, map[string]any{
		"title":     "Apple beats estimates",
		"content":   "Apple reported record revenue and beat analyst estimates comfortably this quarter.",
		"source_id": sourceID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	docID := parsed["data"].(map[string]any)["document_id"].(string)

	rec, _ = env.call(t, "delete_document", alphaToken, map[string]any{
		"document_id": docID, "group_id": "group_alpha",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.call(t, "delete_document", env.token(t, domain.GroupAdmin), map[string]any{
		"document_id": docID, "group_id": "group_alpha",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Soft-deleted documents disappear from queries
	rec, parsed = env.call(t, "query_documents", alphaToken, map[string]any{"query": "apple", "k": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, parsed["data"].(map[string]any)["documents"])
}

func TestCreateTokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	adminToken := env.token(t, domain.GroupAdmin)

	rec, parsed := env.call(t, "create_token", adminToken, map[string]any{
		"groups": []string{"group_alpha"}, "ttl_hours": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := parsed["data"].(map[string]any)
	minted := data["token"].(string)
	tokenID := data["token_id"].(string)

	// The minted token works
	rec, _ = env.call(t, "list_sources", minted, map[string]any{})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Revocation kills it
	rec, _ = env.call(t, "revoke_token", adminToken, map[string]any{"token_id": tokenID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, parsed = env.call(t, "list_sources", minted, map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_INVALID_TOKEN", parsed["error_code"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
