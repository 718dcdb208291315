package llm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// cacheSchema holds embedding vectors keyed by model + text hash. Vectors
// are msgpack-encoded float32 slices with an expiration timestamp for
// cache-first behavior.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key        TEXT PRIMARY KEY,
	vector     BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_expires ON embeddings(expires_at);
`

// defaultEmbeddingTTL keeps vectors warm for a week; embeddings of the
// same text under the same model never change, the TTL only bounds growth.
const defaultEmbeddingTTL = 7 * 24 * time.Hour

// EmbeddingCache is the persistent embedding cache in cache.db
type EmbeddingCache struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
}

// NewEmbeddingCache creates the cache and its table
func NewEmbeddingCache(db *sql.DB, log zerolog.Logger) (*EmbeddingCache, error) {
	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, err
	}
	return &EmbeddingCache{
		db:  db,
		ttl: defaultEmbeddingTTL,
		log: log.With().Str("component", "embedding_cache").Logger(),
	}, nil
}

func cacheKeyFor(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns a cached vector if fresh
func (c *EmbeddingCache) Get(model, text string) ([]float32, bool) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT vector FROM embeddings WHERE key = ? AND expires_at > ?`,
		cacheKeyFor(model, text), time.Now().Unix()).Scan(&blob)
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := msgpack.Unmarshal(blob, &vec); err != nil {
		c.log.Warn().Err(err).Msg("Corrupt cached embedding dropped")
		return nil, false
	}
	return vec, true
}

// Put stores a vector with the cache TTL
func (c *EmbeddingCache) Put(model, text string, vec []float32) {
	blob, err := msgpack.Marshal(vec)
	if err != nil {
		c.log.Warn().Err(err).Msg("Embedding marshal failed, not cached")
		return
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO embeddings (key, vector, expires_at) VALUES (?, ?, ?)`,
		cacheKeyFor(model, text), blob, time.Now().Add(c.ttl).Unix())
	if err != nil {
		c.log.Warn().Err(err).Msg("Embedding cache write failed")
	}
}

// Cleanup removes expired rows; run from the maintenance job
func (c *EmbeddingCache) Cleanup() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM embeddings WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
