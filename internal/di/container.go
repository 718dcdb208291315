// Package di wires all services together. Everything is explicitly
// constructed here; there are no package-level singletons or lazy init.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/alias"
	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/clients"
	"github.com/meridian/newsgraph/internal/config"
	"github.com/meridian/newsgraph/internal/database"
	"github.com/meridian/newsgraph/internal/dedup"
	"github.com/meridian/newsgraph/internal/docstore"
	"github.com/meridian/newsgraph/internal/events"
	"github.com/meridian/newsgraph/internal/graph"
	"github.com/meridian/newsgraph/internal/ingest"
	"github.com/meridian/newsgraph/internal/llm"
	"github.com/meridian/newsgraph/internal/query"
	"github.com/meridian/newsgraph/internal/reliability"
	"github.com/meridian/newsgraph/internal/vector"
)

// Container holds every constructed service
type Container struct {
	// Storage
	GraphDB  *database.DB
	VectorDB *database.DB
	CacheDB  *database.DB

	// Core services
	EventBus       *events.Bus
	GraphStore     *graph.Store
	DocStore       *docstore.Store
	VectorIndex    *vector.Index
	LLMClient      *llm.Client
	EmbeddingCache *llm.EmbeddingCache
	AuthService    *auth.Service
	AliasResolver  *alias.Resolver
	Detector       *dedup.Detector
	Pipeline       *ingest.Pipeline
	QueryEngine    *query.Engine
	ClientService  *clients.Service

	// Maintenance
	BackupService *reliability.BackupService
	Reconciler    *reliability.Reconciler
}

// Build constructs the full service graph from configuration
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}
	c.EventBus = events.NewBus(log)

	// Databases
	var err error
	c.GraphDB, err = database.New(database.Config{
		Path:    cfg.GraphDBPath,
		Profile: database.ProfileGraph,
		Name:    "graph",
	})
	if err != nil {
		return nil, fmt.Errorf("graph database: %w", err)
	}
	c.VectorDB, err = database.New(database.Config{
		Path:    cfg.VectorDBPath,
		Profile: database.ProfileStandard,
		Name:    "vector",
	})
	if err != nil {
		return nil, fmt.Errorf("vector database: %w", err)
	}
	c.CacheDB, err = database.New(database.Config{
		Path:    cfg.CacheDBPath,
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return nil, fmt.Errorf("cache database: %w", err)
	}

	// Stores
	c.GraphStore = graph.NewStore(c.GraphDB, log)
	if err := c.GraphStore.InitSchema(); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	c.DocStore, err = docstore.NewStore(cfg.DocumentsDir, log)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	c.VectorIndex, err = vector.NewIndex(c.VectorDB, vector.ChunkConfig{
		Size:    cfg.EmbeddingChunkSize,
		Overlap: cfg.EmbeddingChunkOverlap,
		Min:     cfg.EmbeddingMinChunk,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}

	// LLM gateway with its embedding cache
	c.LLMClient = llm.NewClient(llm.Config{
		BaseURL:        cfg.LLMProviderURL,
		APIKey:         cfg.LLMAPIKey,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.LLMEmbeddingModel,
		MaxRetries:     cfg.LLMMaxRetries,
		Timeout:        time.Duration(cfg.LLMTimeoutS) * time.Second,
		MaxInflight:    int64(cfg.LLMMaxInflight),
	}, log)
	c.EmbeddingCache, err = llm.NewEmbeddingCache(c.CacheDB.Conn(), log)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	c.LLMClient.SetCache(c.EmbeddingCache)

	// Auth + aliases
	c.AuthService = auth.NewService(cfg.JWTSecret, c.GraphStore, log)
	c.AliasResolver, err = alias.NewResolver(c.GraphStore, log)
	if err != nil {
		return nil, fmt.Errorf("alias resolver: %w", err)
	}
	if cfg.AliasSeedDir != "" {
		n, err := c.AliasResolver.LoadSeedDir(ctx, cfg.AliasSeedDir)
		if err != nil {
			return nil, fmt.Errorf("alias seed load: %w", err)
		}
		log.Info().Int("aliases", n).Msg("Alias seed files loaded")
	}

	// Dedup + pipeline
	c.Detector = dedup.NewDetector(dedup.Config{
		HashWindow:        time.Duration(cfg.DupHashWindowH) * time.Hour,
		FingerprintWindow: time.Duration(cfg.DupFingerprintWindowH) * time.Hour,
		SemanticWindow:    time.Duration(cfg.DupSemanticWindowH) * time.Hour,
		SemanticThreshold: cfg.DupSemanticThreshold,
		Mode:              dedup.Mode(cfg.DupMode),
	}, c.GraphStore, c.VectorIndex, log)

	c.Pipeline = ingest.New(ingest.Config{
		StrictTickerValidation: cfg.StrictTickerValidation,
		RegexTickerFallback:    cfg.RegexTickerFallback,
		ExtractionRequired:     true,
	}, c.GraphStore, c.DocStore, c.VectorIndex, c.LLMClient, c.Detector, c.AliasResolver, c.EventBus, log)

	// Query engine + client service
	c.QueryEngine = query.NewEngine(c.GraphStore, c.VectorIndex, c.LLMClient, query.Config{
		Weights: query.Weights{
			Graph:    cfg.WeightGraph,
			Semantic: cfg.WeightSemantic,
			Impact:   cfg.WeightImpact,
			Recency:  cfg.WeightRecency,
		},
		ActivationThreshold: cfg.VectorActivationThreshold,
		RecencyHalfLifeMin:  cfg.RecencyHalfLifeMin,
	}, log)
	c.ClientService = clients.NewService(c.GraphStore, c.LLMClient, log)

	// Maintenance services
	c.BackupService, err = reliability.NewBackupService(ctx, reliability.BackupConfig{
		Bucket:    cfg.BackupBucket,
		Endpoint:  cfg.BackupEndpoint,
		AccessKey: cfg.BackupAccessKey,
		SecretKey: cfg.BackupSecretKey,
	}, cfg.DataDir, c.EventBus, log)
	if err != nil {
		return nil, fmt.Errorf("backup service: %w", err)
	}
	c.Reconciler = reliability.NewReconciler(c.DocStore, c.GraphStore, c.VectorIndex, c.EventBus, true, log)

	return c, nil
}

// Close releases all database handles
func (c *Container) Close() {
	for _, db := range []*database.DB{c.CacheDB, c.VectorDB, c.GraphDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
