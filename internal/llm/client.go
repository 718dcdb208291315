// Package llm wraps the chat-completion + embeddings HTTP provider with
// retry, timeout, and rate-limit awareness. All provider traffic in the
// service flows through this gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/meridian/newsgraph/internal/domain"
)

// Config holds gateway configuration
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxRetries     int
	Timeout        time.Duration
	MaxInflight    int64
}

// Client is the LLM gateway. Concurrency is bounded by a semaphore;
// request pacing by a token-bucket limiter. Both are shared across all
// in-flight pipeline tasks.
type Client struct {
	cfg      Config
	client   *http.Client
	inflight *semaphore.Weighted
	limiter  *rate.Limiter
	cache    *EmbeddingCache
	log      zerolog.Logger
}

// SetCache attaches a persistent embedding cache. Optional; embeddings
// work without one.
func (c *Client) SetCache(cache *EmbeddingCache) {
	c.cache = cache
}

// NewClient creates an LLM gateway client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = 5
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		inflight: semaphore.NewWeighted(cfg.MaxInflight),
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxInflight*2), int(cfg.MaxInflight)),
		log:      log.With().Str("component", "llm").Logger(),
	}
}

// chatMessage is a single message in a chat completion request
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat requests JSON-mode output
type responseFormat struct {
	Type string `json:"type"`
}

// chatRequest is an OpenAI-compatible chat completion request
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatResponse is an OpenAI-compatible chat completion response
type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// embeddingsRequest is an embeddings API request
type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingsResponse is an embeddings API response
type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// post sends one JSON request with bounded retries. 429 honors Retry-After;
// 5xx and transport errors back off exponentially. 4xx other than 429 is
// not retried.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return domain.WrapError(domain.ErrLLMTransport, "request cancelled before dispatch", err)
	}
	defer c.inflight.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.ErrLLMTransport, "request cancelled while pacing", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.WrapError(domain.ErrLLMTransport, "marshal request", err)
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.WrapError(domain.ErrUpstreamUnavailable, "deadline exceeded during retries", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return domain.WrapError(domain.ErrLLMTransport, "create request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return domain.WrapError(domain.ErrUpstreamUnavailable, "provider deadline exceeded", ctx.Err())
			}
			lastErr = domain.WrapError(domain.ErrLLMTransport, "provider request failed", err)
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("LLM transport error, retrying")
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			_ = resp.Body.Close()
			if err != nil {
				return domain.WrapError(domain.ErrLLMParseFailed, "decode provider response", err)
			}
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), backoff)
			_ = resp.Body.Close()
			lastErr = domain.NewError(domain.ErrLLMRateLimited, "provider rate limited")
			c.log.Warn().Dur("retry_after", retryAfter).Int("attempt", attempt).Msg("LLM rate limited")
			select {
			case <-ctx.Done():
				return domain.WrapError(domain.ErrUpstreamUnavailable, "deadline exceeded while rate limited", ctx.Err())
			case <-time.After(retryAfter):
			}

		case resp.StatusCode >= 500:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			lastErr = domain.NewErrorf(domain.ErrLLMTransport, "provider returned status %d: %s", resp.StatusCode, string(respBody))
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("LLM server error, retrying")

		default:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return domain.NewErrorf(domain.ErrLLMTransport, "provider returned status %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return domain.WrapError(domain.ErrUpstreamUnavailable,
		fmt.Sprintf("provider retries exhausted after %d attempts", c.cfg.MaxRetries+1), lastErr)
}

// parseRetryAfter reads a Retry-After header in seconds, falling back to
// the current backoff.
func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
