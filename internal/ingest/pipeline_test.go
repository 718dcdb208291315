package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/dedup"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/events"
	"github.com/meridian/newsgraph/internal/vector"
)

// --- fakes -----------------------------------------------------------------

type fakeGraph struct {
	sources      map[string]bool
	groups       map[string]bool
	universe     map[string]string
	hashes       map[string]string // group|hash -> doc
	fingerprints map[string]string
	written      []*domain.Document
	deleted      []string
	writeErr     error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		sources:      map[string]bool{"src-1": true},
		groups:       map[string]bool{"group_alpha": true},
		universe:     map[string]string{},
		hashes:       map[string]string{},
		fingerprints: map[string]string{},
	}
}

func (g *fakeGraph) SourceExists(_ context.Context, id string) (bool, error) {
	return g.sources[id], nil
}
func (g *fakeGraph) GroupExists(_ context.Context, id string) (bool, error) { return g.groups[id], nil }
func (g *fakeGraph) TickerUniverse(_ context.Context) (map[string]string, error) {
	return g.universe, nil
}

func (g *fakeGraph) WriteDocument(_ context.Context, doc *domain.Document) error {
	if g.writeErr != nil {
		return g.writeErr
	}
	g.written = append(g.written, doc)
	if doc.DuplicateOf == "" {
		g.hashes[doc.GroupID+"|"+doc.ContentHash] = doc.DocumentID
	}
	return nil
}

func (g *fakeGraph) DeleteDocumentNode(_ context.Context, id string) error {
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *fakeGraph) FindByContentHash(_ context.Context, groupID, hash string, _ time.Duration) (string, error) {
	return g.hashes[groupID+"|"+hash], nil
}

func (g *fakeGraph) FindByFingerprint(_ context.Context, groupID, fp string, _ time.Duration) (string, error) {
	return g.fingerprints[groupID+"|"+fp], nil
}

type fakeFiles struct {
	puts    []*domain.Document
	removes []string
	putErr  error
}

func (f *fakeFiles) Put(doc *domain.Document) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, doc)
	return nil
}

func (f *fakeFiles) Remove(documentID, _ string, _ time.Time) error {
	f.removes = append(f.removes, documentID)
	return nil
}

type fakeVectors struct {
	puts    []string
	deletes []string
	putErr  error
	matches []vector.Match
}

func (v *fakeVectors) ChunkText(text string) []string {
	return vector.Chunk(text, vector.DefaultChunkConfig())
}

func (v *fakeVectors) Put(_ context.Context, meta vector.ChunkMetadata, _ []string, _ [][]float32) error {
	if v.putErr != nil {
		return v.putErr
	}
	v.puts = append(v.puts, meta.DocumentID)
	return nil
}

func (v *fakeVectors) Delete(_ context.Context, documentID string) error {
	v.deletes = append(v.deletes, documentID)
	return nil
}

func (v *fakeVectors) Search(_ context.Context, _ []float32, _ int, _ vector.Filter) ([]vector.Match, error) {
	return v.matches, nil
}

type fakeLLM struct {
	enrichment *domain.Enrichment
	extractErr error
	embedCalls int
}

func (l *fakeLLM) Extract(_ context.Context, _, _ string) (*domain.Enrichment, error) {
	if l.extractErr != nil {
		return nil, l.extractErr
	}
	if l.enrichment != nil {
		enr := *l.enrichment
		return &enr, nil
	}
	return &domain.Enrichment{ImpactScore: 70, ImpactTier: domain.TierSilver, Summary: "s"}, nil
}

func (l *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	l.embedCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveInstruments(_ context.Context, instruments []domain.AffectedInstrument, strict bool) ([]domain.AffectedInstrument, error) {
	var out []domain.AffectedInstrument
	for _, inst := range instruments {
		if strings.HasPrefix(inst.Ticker, "GHOST") {
			if strict {
				continue
			}
		} else {
			inst.InstrumentID = "inst-" + strings.ToLower(inst.Ticker)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (fakeResolver) ResolveCompanies(_ context.Context, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, "co-"+strings.ToLower(n))
	}
	return out, nil
}

// --- harness ---------------------------------------------------------------

type harness struct {
	pipeline *Pipeline
	graph    *fakeGraph
	files    *fakeFiles
	vectors  *fakeVectors
	llm      *fakeLLM
}

func newHarness(t *testing.T, cfg Config, dedupCfg dedup.Config) *harness {
	t.Helper()
	g := newFakeGraph()
	f := &fakeFiles{}
	v := &fakeVectors{}
	l := &fakeLLM{}
	detector := dedup.NewDetector(dedupCfg, g, v, zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	p := New(cfg, g, f, v, l, detector, fakeResolver{}, bus, zerolog.Nop())
	return &harness{pipeline: p, graph: g, files: f, vectors: v, llm: l}
}

func writerContext() *auth.AccessContext {
	return &auth.AccessContext{
		PermittedGroups: map[string]bool{"group_alpha": true, domain.GroupPublic: true},
		WriteGroup:      "group_alpha",
	}
}

func validRequest() Request {
	return Request{
		Title:    "Apple beats estimates",
		Content:  "Apple reported record revenue this quarter, beating analyst estimates.",
		SourceID: "src-1",
	}
}

// --- tests -----------------------------------------------------------------

func TestIngestHappyPath(t *testing.T) {
	h := newHarness(t, Config{StrictTickerValidation: true, ExtractionRequired: true}, dedup.DefaultConfig())

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.IngestDone, res.Status)
	assert.Equal(t, "group_alpha", res.GroupID)
	assert.NotEmpty(t, res.DocumentID)

	// Writes in order C3, C5, C4; all present
	require.Len(t, h.files.puts, 1)
	require.Len(t, h.graph.written, 1)
	require.Len(t, h.vectors.puts, 1)

	// One embedding batch covered query text + chunks
	assert.Equal(t, 1, h.llm.embedCalls)

	doc := h.graph.written[0]
	assert.Equal(t, "group_alpha", doc.GroupID)
	assert.NotEmpty(t, doc.ContentHash)
}

func TestIngestAnonymousDenied(t *testing.T) {
	h := newHarness(t, Config{}, dedup.DefaultConfig())

	_, err := h.pipeline.Ingest(context.Background(), auth.AnonymousContext(), validRequest())
	assert.True(t, domain.IsCode(err, domain.ErrAccessDenied))
	assert.Empty(t, h.files.puts)
}

func TestIngestWordLimit(t *testing.T) {
	h := newHarness(t, Config{}, dedup.DefaultConfig())

	req := validRequest()
	req.Content = strings.Repeat("word ", domain.MaxWordCount+1)
	_, err := h.pipeline.Ingest(context.Background(), writerContext(), req)
	assert.True(t, domain.IsCode(err, domain.ErrWordLimit))
}

func TestIngestUnknownSource(t *testing.T) {
	h := newHarness(t, Config{}, dedup.DefaultConfig())

	req := validRequest()
	req.SourceID = "src-ghost"
	_, err := h.pipeline.Ingest(context.Background(), writerContext(), req)
	assert.True(t, domain.IsCode(err, domain.ErrSourceNotFound))
}

func TestIngestHashDuplicateSkipMode(t *testing.T) {
	cfg := dedup.DefaultConfig()
	cfg.Mode = dedup.ModeSkip
	h := newHarness(t, Config{ExtractionRequired: true}, cfg)

	req := validRequest()
	h.graph.hashes["group_alpha|"+dedup.ContentHash(req.Content)] = "doc-original"

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.IngestDuplicate, res.Status)
	assert.Equal(t, "doc-original", res.DuplicateOf)
	assert.Equal(t, dedup.TierHash, res.DuplicateTier)
	// No side effects at all, and no LLM spend
	assert.Empty(t, h.files.puts)
	assert.Empty(t, h.graph.written)
	assert.Empty(t, h.vectors.puts)
	assert.Zero(t, h.llm.embedCalls)
}

func TestIngestHashDuplicateFlagMode(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: true}, dedup.DefaultConfig())

	req := validRequest()
	h.graph.hashes["group_alpha|"+dedup.ContentHash(req.Content)] = "doc-original"

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), req)
	require.NoError(t, err)

	// Flag mode stores and indexes the duplicate normally
	assert.Equal(t, domain.IngestDuplicate, res.Status)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "doc-original", res.DuplicateOf)
	require.Len(t, h.graph.written, 1)
	assert.Equal(t, "doc-original", h.graph.written[0].DuplicateOf)
	require.NotNil(t, h.graph.written[0].DuplicateScore)
	assert.Len(t, h.vectors.puts, 1)
}

func TestIngestSemanticDuplicateSkipMode(t *testing.T) {
	cfg := dedup.DefaultConfig()
	cfg.Mode = dedup.ModeSkip
	h := newHarness(t, Config{ExtractionRequired: true}, cfg)
	h.vectors.matches = []vector.Match{{DocumentID: "doc-similar", Distance: 0.05}}

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.IngestDuplicate, res.Status)
	assert.Equal(t, dedup.TierSemantic, res.DuplicateTier)
	assert.InDelta(t, 0.95, res.DuplicateScore, 1e-9)
	assert.Empty(t, h.files.puts)
}

func TestIngestExtractionFailureRequired(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: true}, dedup.DefaultConfig())
	h.llm.extractErr = domain.NewError(domain.ErrLLMParseFailed, "garbage output")

	_, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrExtractionFailed))

	var se *domain.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(StageExtract), se.Stage)
	assert.Empty(t, h.files.puts)
}

func TestIngestExtractionFailureDegrades(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: false}, dedup.DefaultConfig())
	h.llm.extractErr = domain.NewError(domain.ErrUpstreamUnavailable, "provider down")

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.IngestDone, res.Status)
	require.Len(t, h.graph.written, 1)
	assert.Equal(t, domain.TierStandard, h.graph.written[0].Enrichment.ImpactTier)
	assert.Zero(t, h.graph.written[0].Enrichment.ImpactScore)
}

func TestIngestRollbackOnGraphFailure(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: true}, dedup.DefaultConfig())
	h.graph.writeErr = domain.NewError(domain.ErrStoreWriteFailed, "graph down")

	_, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.Error(t, err)

	var se *domain.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(StageGraph), se.Stage)

	// Canonical file was written then compensated
	require.Len(t, h.files.puts, 1)
	require.Len(t, h.files.removes, 1)
	assert.Equal(t, h.files.puts[0].DocumentID, h.files.removes[0])
	// Vector write never happened
	assert.Empty(t, h.vectors.puts)
}

func TestIngestRollbackOnVectorFailure(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: true}, dedup.DefaultConfig())
	h.vectors.putErr = domain.NewError(domain.ErrStoreWriteFailed, "vector down")

	_, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.Error(t, err)

	var se *domain.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, string(StageVector), se.Stage)

	// Reverse-order compensation: graph node deleted, then file removed
	require.Len(t, h.graph.deleted, 1)
	require.Len(t, h.files.removes, 1)
	assert.Equal(t, h.graph.deleted[0], h.files.removes[0])
}

func TestIngestDuplicateRaceLoser(t *testing.T) {
	h := newHarness(t, Config{ExtractionRequired: true}, dedup.DefaultConfig())
	// The pre-check missed, but the unique constraint fires at write time
	h.graph.writeErr = domain.NewError(domain.ErrDuplicate, "constraint")

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.IngestDuplicate, res.Status)
	// The loser's canonical file is compensated away
	require.Len(t, h.files.removes, 1)
}

func TestIngestRegexTickerFallback(t *testing.T) {
	h := newHarness(t, Config{StrictTickerValidation: true, RegexTickerFallback: true, ExtractionRequired: true}, dedup.DefaultConfig())
	h.graph.universe = map[string]string{"NVDA": "inst-nvda"}
	h.llm.enrichment = &domain.Enrichment{ImpactScore: 60, ImpactTier: domain.TierSilver}

	req := validRequest()
	req.Content = "Chipmaker NVDA extended gains while Apple slipped."

	res, err := h.pipeline.Ingest(context.Background(), writerContext(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestDone, res.Status)

	require.Len(t, h.graph.written, 1)
	instruments := h.graph.written[0].Enrichment.Instruments
	require.Len(t, instruments, 1)
	assert.Equal(t, "NVDA", instruments[0].Ticker)
	assert.Equal(t, "inst-nvda", instruments[0].InstrumentID)
	assert.True(t, instruments[0].RegexDetected)
}

func TestIngestStrictDropsUnresolvedTickers(t *testing.T) {
	h := newHarness(t, Config{StrictTickerValidation: true, ExtractionRequired: true}, dedup.DefaultConfig())
	h.llm.enrichment = &domain.Enrichment{
		ImpactScore: 60,
		ImpactTier:  domain.TierSilver,
		Instruments: []domain.AffectedInstrument{
			{Ticker: "AAPL", Direction: "up"},
			{Ticker: "GHOST1", Direction: "down"},
		},
	}

	_, err := h.pipeline.Ingest(context.Background(), writerContext(), validRequest())
	require.NoError(t, err)

	instruments := h.graph.written[0].Enrichment.Instruments
	require.Len(t, instruments, 1)
	assert.Equal(t, "AAPL", instruments[0].Ticker)
}

func TestTickerTokens(t *testing.T) {
	tokens := tickerTokens("Apple and NVDA rallied; MSFT too. NVDA again. A1B not IBMX5.")
	assert.Equal(t, []string{"NVDA", "MSFT"}, tokens)
}
