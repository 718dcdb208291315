// Package ingest orchestrates the document ingestion pipeline: validation,
// dedup tiers, extraction, alias resolution, embedding, and the ordered
// canonical/graph/vector writes with reverse-order compensation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/dedup"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/events"
	"github.com/meridian/newsgraph/internal/vector"
)

// Stage names the pipeline states for failure reporting
type Stage string

const (
	StageValidate     Stage = "VALIDATE"
	StageHashCheck    Stage = "HASH_CHECK"
	StageExtract      Stage = "EXTRACT"
	StageFingerprint  Stage = "FINGERPRINT_CHECK"
	StageAliasResolve Stage = "ALIAS_RESOLVE"
	StageEmbed        Stage = "EMBED_AND_SEMANTIC_CHECK"
	StageCanonical    Stage = "WRITE_CANONICAL"
	StageGraph        Stage = "WRITE_GRAPH"
	StageVector       Stage = "WRITE_VECTOR"
)

// Request is one ingest call after envelope parsing
type Request struct {
	Title       string
	Content     string
	SourceID    string
	Language    string
	PublishedAt *time.Time
	Metadata    domain.Metadata
}

// Result is the terminal pipeline outcome
type Result struct {
	DocumentID     string
	GroupID        string
	Status         domain.IngestStatus
	DuplicateOf    string
	DuplicateScore float64
	DuplicateTier  dedup.Tier
	Chunks         int
}

// GraphWriter is the graph-store surface the pipeline needs
type GraphWriter interface {
	SourceExists(ctx context.Context, sourceID string) (bool, error)
	GroupExists(ctx context.Context, groupID string) (bool, error)
	TickerUniverse(ctx context.Context) (map[string]string, error)
	WriteDocument(ctx context.Context, doc *domain.Document) error
	DeleteDocumentNode(ctx context.Context, documentID string) error
}

// CanonicalStore is the file-store surface the pipeline needs
type CanonicalStore interface {
	Put(doc *domain.Document) error
	Remove(documentID, groupID string, createdAt time.Time) error
}

// VectorWriter is the vector-index surface the pipeline needs
type VectorWriter interface {
	ChunkText(text string) []string
	Put(ctx context.Context, meta vector.ChunkMetadata, chunks []string, vectors [][]float32) error
	Delete(ctx context.Context, documentID string) error
}

// Extractor is the LLM surface the pipeline needs
type Extractor interface {
	Extract(ctx context.Context, title, content string) (*domain.Enrichment, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// InstrumentResolver is the alias surface the pipeline needs
type InstrumentResolver interface {
	ResolveInstruments(ctx context.Context, instruments []domain.AffectedInstrument, strict bool) ([]domain.AffectedInstrument, error)
	ResolveCompanies(ctx context.Context, names []string) ([]string, error)
}

// Config holds pipeline policy
type Config struct {
	StrictTickerValidation bool
	RegexTickerFallback    bool
	// ExtractionRequired fails the request when extraction is
	// unrecoverable; when false the pipeline degrades to an empty default
	// enrichment.
	ExtractionRequired bool
}

// Pipeline runs one document through the ingest state machine. Safe for
// concurrent use; duplicate races serialize on the graph's hash index.
type Pipeline struct {
	cfg      Config
	graph    GraphWriter
	files    CanonicalStore
	vectors  VectorWriter
	llm      Extractor
	detector *dedup.Detector
	resolver InstrumentResolver
	bus      *events.Bus
	log      zerolog.Logger
}

// New creates an ingest pipeline
func New(cfg Config, graph GraphWriter, files CanonicalStore, vectors VectorWriter,
	llm Extractor, detector *dedup.Detector, resolver InstrumentResolver,
	bus *events.Bus, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		graph:    graph,
		files:    files,
		vectors:  vectors,
		llm:      llm,
		detector: detector,
		resolver: resolver,
		bus:      bus,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest runs the full state machine for one document
func (p *Pipeline) Ingest(ctx context.Context, ac *auth.AccessContext, req Request) (*Result, error) {
	// VALIDATE
	groupID, err := p.validate(ctx, ac, &req)
	if err != nil {
		return nil, stageErr(err, StageValidate)
	}

	// HASH_CHECK - free, runs before any LLM spend
	contentHash := dedup.ContentHash(req.Content)
	hit, err := p.detector.CheckHash(ctx, groupID, contentHash)
	if err != nil {
		return nil, stageErr(err, StageHashCheck)
	}
	if hit != nil && p.detector.Mode() == dedup.ModeSkip {
		return p.duplicateResult(groupID, hit, true), nil
	}

	// EXTRACT
	enrichment, err := p.extract(ctx, req)
	if err != nil {
		return nil, stageErr(err, StageExtract)
	}

	// FINGERPRINT_CHECK
	published := req.PublishedAt
	if published == nil {
		now := time.Now().UTC()
		published = &now
	}
	fingerprint := dedup.Fingerprint(extractTickers(enrichment.Instruments), primaryEventType(enrichment.Events), *published)
	if hit == nil {
		hit, err = p.detector.CheckFingerprint(ctx, groupID, fingerprint)
		if err != nil {
			return nil, stageErr(err, StageFingerprint)
		}
		if hit != nil && p.detector.Mode() == dedup.ModeSkip {
			return p.duplicateResult(groupID, hit, true), nil
		}
	}

	// ALIAS_RESOLVE - unresolved surface forms are dropped, never phantoms
	enrichment.Instruments, err = p.resolver.ResolveInstruments(ctx, enrichment.Instruments, p.cfg.StrictTickerValidation)
	if err != nil {
		return nil, stageErr(err, StageAliasResolve)
	}
	enrichment.Companies, err = p.resolver.ResolveCompanies(ctx, enrichment.Companies)
	if err != nil {
		return nil, stageErr(err, StageAliasResolve)
	}
	if p.cfg.RegexTickerFallback {
		if err := p.regexFallback(ctx, req.Content, enrichment); err != nil {
			return nil, stageErr(err, StageAliasResolve)
		}
	}

	// EMBED_AND_SEMANTIC_CHECK - the dedup query text rides the same
	// embedding batch as the chunks
	chunks := p.vectors.ChunkText(req.Content)
	texts := append([]string{dedup.QueryText(req.Title, req.Content)}, chunks...)
	vecs, err := p.llm.Embed(ctx, texts)
	if err != nil {
		return nil, stageErr(err, StageEmbed)
	}
	queryVec, chunkVecs := vecs[0], vecs[1:]

	if hit == nil {
		hit, err = p.detector.CheckSemantic(ctx, groupID, queryVec)
		if err != nil {
			return nil, stageErr(err, StageEmbed)
		}
		if hit != nil && p.detector.Mode() == dedup.ModeSkip {
			return p.duplicateResult(groupID, hit, true), nil
		}
	}

	// Build the document
	doc := &domain.Document{
		DocumentID:       uuid.New().String(),
		Version:          1,
		SourceID:         req.SourceID,
		GroupID:          groupID,
		CreatedAt:        time.Now().UTC(),
		PublishedAt:      req.PublishedAt,
		Language:         req.Language,
		Title:            req.Title,
		Content:          req.Content,
		WordCount:        wordCount(req.Content),
		ContentHash:      contentHash,
		StoryFingerprint: fingerprint,
		Enrichment:       *enrichment,
		Metadata:         req.Metadata,
	}
	if hit != nil {
		doc.DuplicateOf = hit.DuplicateOf
		score := hit.Score
		doc.DuplicateScore = &score
	}

	// WRITE_CANONICAL - point of no return; later failures compensate
	if err := p.files.Put(doc); err != nil {
		return nil, stageErr(err, StageCanonical)
	}

	// WRITE_GRAPH
	if err := p.graph.WriteDocument(ctx, doc); err != nil {
		p.compensate(doc, StageGraph)
		if domain.IsCode(err, domain.ErrDuplicate) {
			// Lost the hash-index race: the winner's document stands
			p.log.Info().Str("group_id", groupID).Msg("Lost duplicate race on hash index")
			return &Result{GroupID: groupID, Status: domain.IngestDuplicate, DuplicateTier: dedup.TierHash}, nil
		}
		return nil, stageErr(err, StageGraph)
	}

	// WRITE_VECTOR
	if err := p.vectors.Put(ctx, vector.ChunkMetadata{
		DocumentID:  doc.DocumentID,
		GroupID:     doc.GroupID,
		SourceID:    doc.SourceID,
		Language:    doc.Language,
		CreatedAt:   doc.CreatedAt,
		ImpactScore: doc.Enrichment.ImpactScore,
		ImpactTier:  doc.Enrichment.ImpactTier,
	}, chunks, chunkVecs); err != nil {
		p.compensate(doc, StageVector)
		return nil, stageErr(err, StageVector)
	}

	// DONE
	p.bus.Publish(events.DocumentIngested, &events.DocumentIngestedData{
		DocumentID:  doc.DocumentID,
		GroupID:     doc.GroupID,
		ImpactScore: doc.Enrichment.ImpactScore,
		ImpactTier:  string(doc.Enrichment.ImpactTier),
		Chunks:      len(chunks),
	})
	if hit != nil {
		p.bus.Publish(events.DocumentDuplicate, &events.DocumentDuplicateData{
			GroupID:        groupID,
			DuplicateOf:    hit.DuplicateOf,
			DetectionTier:  string(hit.Tier),
			DuplicateScore: hit.Score,
			Skipped:        false,
		})
	}

	result := &Result{
		DocumentID: doc.DocumentID,
		GroupID:    doc.GroupID,
		Status:     domain.IngestDone,
		Chunks:     len(chunks),
	}
	if hit != nil {
		result.Status = domain.IngestDuplicate
		result.DuplicateOf = hit.DuplicateOf
		result.DuplicateScore = hit.Score
		result.DuplicateTier = hit.Tier
	}
	return result, nil
}

func (p *Pipeline) validate(ctx context.Context, ac *auth.AccessContext, req *Request) (string, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		return "", domain.NewError(domain.ErrInvalidInput, "title and content are required")
	}
	if wc := wordCount(req.Content); wc > domain.MaxWordCount {
		return "", domain.NewErrorf(domain.ErrWordLimit, "content is %d words, limit is %d", wc, domain.MaxWordCount)
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Metadata != nil {
		blob, err := json.Marshal(req.Metadata)
		if err != nil || len(blob) > domain.MaxMetadataBytes {
			return "", domain.NewErrorf(domain.ErrInvalidInput, "metadata exceeds %d bytes", domain.MaxMetadataBytes)
		}
	}

	if err := ac.RequireWrite(""); err != nil {
		return "", err
	}
	groupID := ac.WriteGroup

	ok, err := p.graph.GroupExists(ctx, groupID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.NewErrorf(domain.ErrAccessDenied, "write group %q is not active", groupID)
	}

	ok, err = p.graph.SourceExists(ctx, req.SourceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.NewErrorf(domain.ErrSourceNotFound, "source %q not found", req.SourceID)
	}
	return groupID, nil
}

func (p *Pipeline) extract(ctx context.Context, req Request) (*domain.Enrichment, error) {
	enrichment, err := p.llm.Extract(ctx, req.Title, req.Content)
	if err == nil {
		return enrichment, nil
	}
	if p.cfg.ExtractionRequired {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "extraction failed and graph writes require it", err)
	}
	p.log.Warn().Err(err).Msg("Extraction failed, degrading to empty enrichment")
	empty := domain.EmptyEnrichment()
	return &empty, nil
}

// regexFallback scans the raw text for universe tickers the extraction
// missed and adds them flagged regex-detected.
func (p *Pipeline) regexFallback(ctx context.Context, content string, enr *domain.Enrichment) error {
	universe, err := p.graph.TickerUniverse(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(enr.Instruments))
	for _, inst := range enr.Instruments {
		present[inst.Ticker] = true
	}
	for _, token := range tickerTokens(content) {
		if present[token] {
			continue
		}
		id, ok := universe[token]
		if !ok {
			continue
		}
		present[token] = true
		enr.Instruments = append(enr.Instruments, domain.AffectedInstrument{
			InstrumentID:  id,
			Ticker:        token,
			Direction:     "neutral",
			Confidence:    0.3,
			RegexDetected: true,
		})
		p.log.Debug().Str("ticker", token).Msg("Regex fallback detected ticker")
	}
	return nil
}

// compensate rolls back writes in reverse order. Best-effort: failures are
// logged and left for reconciliation. Runs even when the request context
// is already cancelled.
func (p *Pipeline) compensate(doc *domain.Document, failed Stage) {
	ctx := context.WithoutCancel(context.Background())
	complete := true

	if failed == StageVector {
		if err := p.graph.DeleteDocumentNode(ctx, doc.DocumentID); err != nil {
			complete = false
			p.log.Error().Err(err).Str("document_id", doc.DocumentID).
				Msg("Compensating graph delete failed, orphan left for reconciliation")
		}
	}
	if err := p.files.Remove(doc.DocumentID, doc.GroupID, doc.CreatedAt); err != nil {
		complete = false
		p.log.Error().Err(err).Str("document_id", doc.DocumentID).
			Msg("Compensating file delete failed, orphan left for reconciliation")
	}

	p.bus.Publish(events.RollbackPerformed, &events.RollbackPerformedData{
		DocumentID: doc.DocumentID,
		Stage:      string(failed),
		Complete:   complete,
	})
}

func (p *Pipeline) duplicateResult(groupID string, hit *dedup.Hit, skipped bool) *Result {
	p.bus.Publish(events.DocumentDuplicate, &events.DocumentDuplicateData{
		GroupID:        groupID,
		DuplicateOf:    hit.DuplicateOf,
		DetectionTier:  string(hit.Tier),
		DuplicateScore: hit.Score,
		Skipped:        skipped,
	})
	return &Result{
		GroupID:        groupID,
		Status:         domain.IngestDuplicate,
		DuplicateOf:    hit.DuplicateOf,
		DuplicateScore: hit.Score,
		DuplicateTier:  hit.Tier,
	}
}

func stageErr(err error, stage Stage) error {
	var se *domain.Error
	if ok := errors.As(err, &se); ok {
		if se.Stage == "" {
			se.Stage = string(stage)
		}
		return se
	}
	return domain.WrapError(domain.ErrStoreWriteFailed, "pipeline failure", err).WithStage(string(stage))
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func extractTickers(instruments []domain.AffectedInstrument) []string {
	out := make([]string, len(instruments))
	for i, inst := range instruments {
		out[i] = inst.Ticker
	}
	return out
}

// primaryEventType is the highest-confidence event, the fingerprint's
// event component.
func primaryEventType(evts []domain.ExtractedEvent) string {
	best := ""
	bestConf := -1.0
	for _, e := range evts {
		if e.Confidence > bestConf {
			best = e.Type
			bestConf = e.Confidence
		}
	}
	return best
}

// tickerPattern matches standalone 2-5 letter uppercase tokens; word
// boundaries reject mixed-case words like "Apple".
var tickerPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// tickerTokens pulls candidate ticker tokens out of raw text
func tickerTokens(text string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range tickerPattern.FindAllString(text, -1) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}
