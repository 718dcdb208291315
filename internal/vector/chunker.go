// Package vector is the chunked embedding index with k-NN retrieval and
// metadata filtering. Group filtering is a native predicate on every
// search; it is not optional and never post-filtered.
package vector

// ChunkConfig parameterizes the sliding-window chunker
type ChunkConfig struct {
	Size    int // characters per chunk
	Overlap int // characters shared between adjacent chunks
	Min     int // chunks shorter than this are merged into the previous one
}

// DefaultChunkConfig matches the service defaults
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 1000, Overlap: 200, Min: 100}
}

// Chunk splits text into fixed-size sliding windows. The final remainder
// shorter than Min is appended to the previous chunk rather than emitted
// alone; text shorter than Min still yields one chunk.
func Chunk(text string, cfg ChunkConfig) []string {
	if cfg.Size <= 0 {
		cfg = DefaultChunkConfig()
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= cfg.Size {
		return []string{text}
	}

	step := cfg.Size - cfg.Overlap
	if step <= 0 {
		step = cfg.Size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + cfg.Size
		if end >= len(runes) {
			tail := runes[start:]
			if len(tail) < cfg.Min && len(chunks) > 0 {
				// Merge the short remainder into the previous chunk
				prevStart := start - step
				chunks[len(chunks)-1] = string(runes[prevStart:])
			} else {
				chunks = append(chunks, string(tail))
			}
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
