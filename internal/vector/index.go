package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/meridian/newsgraph/internal/database"
	"github.com/meridian/newsgraph/internal/domain"
)

// chunkSchema stores one row per chunk with its metadata and the embedding
// as a little-endian float32 BLOB.
const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id     TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	group_id     TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT 'en',
	created_at   INTEGER NOT NULL,
	impact_score REAL NOT NULL DEFAULT 0,
	impact_tier  TEXT NOT NULL DEFAULT 'STANDARD',
	content      TEXT NOT NULL,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_group_created ON chunks(group_id, created_at);
`

// ChunkMetadata is written with every chunk
type ChunkMetadata struct {
	DocumentID  string
	GroupID     string
	SourceID    string
	Language    string
	CreatedAt   time.Time
	ImpactScore float64
	ImpactTier  domain.ImpactTier
}

// Match is one k-NN result. Distance is cosine distance (1 - similarity).
type Match struct {
	DocumentID string
	Distance   float64
}

// Filter bounds a search. Groups is mandatory; an empty set matches
// nothing.
type Filter struct {
	Groups    []string
	Since     time.Time
	MinImpact float64 // 0 = no impact filter
}

// Embedder produces query vectors for text searches
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector store. k-NN runs through the sqlite-vec vec0 table
// when the extension is present, otherwise over a filtered BLOB scan with
// the cosine computed in-process.
type Index struct {
	db           *database.DB
	vecAvailable bool
	chunkCfg     ChunkConfig
	log          zerolog.Logger

	// vec0 tables carry a fixed dimension, so vec_chunks is created
	// lazily at the first write once the embedding size is known.
	vecMu    sync.Mutex
	vecReady bool
	vecDim   int
}

// NewIndex creates the vector index and its schema
func NewIndex(db *database.DB, chunkCfg ChunkConfig, log zerolog.Logger) (*Index, error) {
	idx := &Index{
		db:       db,
		chunkCfg: chunkCfg,
		log:      log.With().Str("component", "vector").Logger(),
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		return nil, fmt.Errorf("vector schema init: %w", err)
	}
	idx.vecAvailable = idx.detectVecExtension()
	if !idx.vecAvailable {
		idx.log.Info().Msg("sqlite-vec not available, using in-process cosine scan")
	}
	return idx, nil
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is loaded into this build. A pre-existing vec_chunks table
// from an earlier run is picked up here too.
func (i *Index) detectVecExtension() bool {
	if _, err := i.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		return false
	}
	_, _ = i.db.Exec("DROP TABLE IF EXISTS vec_probe")

	var dim int
	err := i.db.QueryRow("SELECT length(embedding) / 4 FROM chunks LIMIT 1").Scan(&dim)
	if err == nil && dim > 0 {
		if cerr := i.ensureVecTable(dim); cerr != nil {
			i.log.Warn().Err(cerr).Msg("vec0 table init failed, using in-process cosine scan")
			return false
		}
	}
	return true
}

// ensureVecTable creates the vec0 table for the given dimension and makes
// sure every chunk row is mirrored into it.
func (i *Index) ensureVecTable(dim int) error {
	i.vecMu.Lock()
	defer i.vecMu.Unlock()
	if i.vecReady {
		if dim != i.vecDim {
			return fmt.Errorf("embedding dimension %d does not match vec0 table dimension %d", dim, i.vecDim)
		}
		return nil
	}

	if _, err := i.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			embedding float[%d] distance_metric=cosine,
			chunk_id TEXT,
			document_id TEXT
		)`, dim)); err != nil {
		return err
	}

	// Backfill rows written before the table existed (fallback-era data or
	// a crash between the two inserts)
	if _, err := i.db.Exec(
		`INSERT INTO vec_chunks (embedding, chunk_id, document_id)
		 SELECT c.embedding, c.chunk_id, c.document_id FROM chunks c
		 WHERE NOT EXISTS (SELECT 1 FROM vec_chunks v WHERE v.chunk_id = c.chunk_id)`); err != nil {
		return err
	}

	i.vecReady = true
	i.vecDim = dim
	return nil
}

// Put writes precomputed chunk embeddings with their metadata atomically.
// Chunk texts and vectors must correspond by index.
func (i *Index) Put(ctx context.Context, meta ChunkMetadata, chunks []string, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.NewErrorf(domain.ErrInvalidInput, "%d chunks but %d vectors", len(chunks), len(vectors))
	}
	useVec := i.vecAvailable && len(vectors) > 0
	if useVec {
		if err := i.ensureVecTable(len(vectors[0])); err != nil {
			return domain.WrapError(domain.ErrStoreWriteFailed, "vec0 table init failed", err)
		}
	}

	err := database.WithTransaction(i.db.Conn(), func(tx *sql.Tx) error {
		for idx, chunk := range chunks {
			chunkID := uuid.New().String()
			blob := encodeVector(vectors[idx])
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (
					chunk_id, document_id, chunk_index, group_id, source_id,
					language, created_at, impact_score, impact_tier, content, embedding)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				chunkID, meta.DocumentID, idx, meta.GroupID, meta.SourceID,
				meta.Language, meta.CreatedAt.UnixMilli(), meta.ImpactScore, string(meta.ImpactTier),
				chunk, blob,
			); err != nil {
				return err
			}
			if useVec {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO vec_chunks (embedding, chunk_id, document_id) VALUES (?, ?, ?)`,
					blob, chunkID, meta.DocumentID,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "vector chunk write failed", err)
	}
	return nil
}

// EmbedAndPut chunks the text, embeds all chunks in one batch, and writes
// them.
func (i *Index) EmbedAndPut(ctx context.Context, embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}, meta ChunkMetadata, text string) error {
	chunks := Chunk(text, i.chunkCfg)
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedder.Embed(ctx, chunks)
	if err != nil {
		return err
	}
	return i.Put(ctx, meta, chunks, vectors)
}

// ChunkText splits text with this index's chunk configuration. The ingest
// pipeline uses it to share one embedding batch between chunks and the
// dedup query vector.
func (i *Index) ChunkText(text string) []string {
	return Chunk(text, i.chunkCfg)
}

// Search returns up to k (document_id, distance) pairs nearest to the
// query vector, best first. The group predicate is part of the SQL query
// on both paths. Multiple chunk hits for one document collapse to the
// best distance.
func (i *Index) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error) {
	if len(filter.Groups) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	if i.vecAvailable && i.isVecReady() {
		return i.searchVec(ctx, query, k, filter)
	}
	return i.searchScan(ctx, query, k, filter)
}

func (i *Index) isVecReady() bool {
	i.vecMu.Lock()
	defer i.vecMu.Unlock()
	return i.vecReady
}

// metadataClause builds the chunks-table predicate shared by both search
// paths.
func metadataClause(alias string, filter Filter) (string, []interface{}) {
	where := alias + `.group_id IN (` + placeholders(len(filter.Groups)) + `)`
	args := make([]interface{}, 0, len(filter.Groups)+2)
	for _, g := range filter.Groups {
		args = append(args, g)
	}
	if !filter.Since.IsZero() {
		where += ` AND ` + alias + `.created_at >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	if filter.MinImpact > 0 {
		where += ` AND ` + alias + `.impact_score >= ?`
		args = append(args, filter.MinImpact)
	}
	return where, args
}

// vecOverfetch widens the vec0 k-NN so candidates removed by the joined
// metadata predicate still leave k survivors.
const vecOverfetch = 8

// searchVec runs the k-NN through the vec0 virtual table, joined against
// the chunk metadata in the same statement.
func (i *Index) searchVec(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error) {
	where, args := metadataClause("c", filter)
	sqlQuery := `SELECT c.document_id, v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.chunk_id = v.chunk_id
		WHERE v.embedding MATCH ? AND v.k = ? AND ` + where + `
		ORDER BY v.distance`
	qargs := append([]interface{}{encodeVector(query), k * vecOverfetch}, args...)

	rows, err := i.db.QueryContext(ctx, sqlQuery, qargs...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "vec0 search failed", err)
	}
	defer rows.Close()

	best := make(map[string]float64)
	for rows.Next() {
		var docID string
		var dist float64
		if err := rows.Scan(&docID, &dist); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "vec0 scan failed", err)
		}
		if prev, ok := best[docID]; !ok || dist < prev {
			best[docID] = dist
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "vec0 search failed", err)
	}
	return topMatches(best, k), nil
}

// searchScan is the fallback path: a filtered BLOB scan with the cosine
// computed in-process.
func (i *Index) searchScan(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error) {
	where, args := metadataClause("chunks", filter)
	rows, err := i.db.QueryContext(ctx,
		`SELECT document_id, embedding FROM chunks WHERE `+where, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "vector search failed", err)
	}
	defer rows.Close()

	best := make(map[string]float64)
	for rows.Next() {
		var docID string
		var blob []byte
		if err := rows.Scan(&docID, &blob); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "chunk scan failed", err)
		}
		vec := decodeVector(blob)
		dist := cosineDistance(query, vec)
		if prev, ok := best[docID]; !ok || dist < prev {
			best[docID] = dist
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "vector search failed", err)
	}
	return topMatches(best, k), nil
}

func topMatches(best map[string]float64, k int) []Match {
	matches := make([]Match, 0, len(best))
	for docID, dist := range best {
		matches = append(matches, Match{DocumentID: docID, Distance: dist})
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// SearchWithText produces the query vector through the embedder and
// applies the same filter contract.
func (i *Index) SearchWithText(ctx context.Context, embedder Embedder, text string, k int, filter Filter) ([]Match, error) {
	query, err := embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	return i.Search(ctx, query, k, filter)
}

// Delete removes all chunks for a document from both tables
func (i *Index) Delete(ctx context.Context, documentID string) error {
	if i.isVecReady() {
		if _, err := i.db.ExecContext(ctx, `DELETE FROM vec_chunks WHERE document_id = ?`, documentID); err != nil {
			return domain.WrapError(domain.ErrStoreWriteFailed, "vec0 chunk delete failed", err)
		}
	}
	if _, err := i.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "vector chunk delete failed", err)
	}
	return nil
}

// HasDocument reports whether any chunks exist for a document; used by
// reconciliation.
func (i *Index) HasDocument(ctx context.Context, documentID string) (bool, error) {
	var one int
	err := i.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE document_id = ? LIMIT 1`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "chunk existence check failed", err)
	}
	return true, nil
}

// cosineDistance is 1 - cosine similarity; mismatched or zero vectors are
// maximally distant.
func cosineDistance(a []float32, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}
	normA := floats.Norm(af, 2)
	normB := floats.Norm(bf, 2)
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - floats.Dot(af, bf)/(normA*normB)
}

// CosineSimilarity exposes the similarity for the duplicate detector
func CosineSimilarity(a, b []float32) float64 {
	return 1 - cosineDistance(a, b)
}

func sortMatches(matches []Match) {
	// Distance ascending, document id as deterministic tie-break
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0; j-- {
			a, b := matches[j-1], matches[j]
			if b.Distance < a.Distance || (b.Distance == a.Distance && b.DocumentID < a.DocumentID) {
				matches[j-1], matches[j] = b, a
			} else {
				break
			}
		}
	}
}

func placeholders(n int) string {
	if n == 0 {
		return "''"
	}
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
