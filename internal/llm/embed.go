package llm

import (
	"context"
	"sort"

	"github.com/meridian/newsgraph/internal/domain"
)

// maxEmbeddingBatch bounds one provider call; larger inputs are split
const maxEmbeddingBatch = 100

// Embed produces one vector per input text, in input order. Batches of at
// most 100 texts per provider call; cached vectors are served without a
// call when a cache is attached.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []int
	if c.cache != nil {
		for i, text := range texts {
			if vec, ok := c.cache.Get(c.cfg.EmbeddingModel, text); ok {
				out[i] = vec
				continue
			}
			missing = append(missing, i)
		}
	} else {
		missing = make([]int, len(texts))
		for i := range texts {
			missing[i] = i
		}
	}

	for start := 0; start < len(missing); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		input := make([]string, len(batch))
		for j, idx := range batch {
			input[j] = texts[idx]
		}

		var resp embeddingsResponse
		if err := c.post(ctx, "/embeddings", embeddingsRequest{Model: c.cfg.EmbeddingModel, Input: input}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != len(input) {
			return nil, domain.NewErrorf(domain.ErrLLMParseFailed,
				"provider returned %d embeddings for %d inputs", len(resp.Data), len(input))
		}

		// Providers may reorder; the index field is authoritative
		sort.Slice(resp.Data, func(a, b int) bool { return resp.Data[a].Index < resp.Data[b].Index })
		for j, d := range resp.Data {
			idx := batch[j]
			out[idx] = d.Embedding
			if c.cache != nil {
				c.cache.Put(c.cfg.EmbeddingModel, texts[idx], d.Embedding)
			}
		}
	}

	return out, nil
}

// EmbedOne is the single-text convenience wrapper
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
