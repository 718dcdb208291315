package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/meridian/newsgraph/internal/domain"
)

// extractionSystemPrompt defines the output schema the provider must
// follow. Low temperature + JSON response format keep it parseable.
const extractionSystemPrompt = `You are a financial news analyst. Analyze the article and respond with ONLY a JSON object of this exact shape:
{
  "impact_score": <number 0-100>,
  "impact_tier": "<PLATINUM|GOLD|SILVER|BRONZE|STANDARD>",
  "events": [{"type": "<EVENT_TYPE>", "confidence": <0-1>}],
  "instruments": [{"ticker": "<TICKER>", "direction": "<up|down|neutral>", "magnitude": <0-1>, "confidence": <0-1>}],
  "companies": ["<company name>"],
  "regions": ["<region>"],
  "sectors": ["<sector>"],
  "themes": ["<theme>"],
  "summary": "<one sentence>"
}
Event types: ` + "%EVENT_TYPES%" + `
Themes: ` + "%THEMES%" + `
Use only listed event types and themes. Omit what the article does not support.`

// rawExtraction mirrors the provider's JSON schema before validation
type rawExtraction struct {
	ImpactScore float64 `json:"impact_score"`
	ImpactTier  string  `json:"impact_tier"`
	Events      []struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"events"`
	Instruments []struct {
		Ticker     string  `json:"ticker"`
		Direction  string  `json:"direction"`
		Magnitude  float64 `json:"magnitude"`
		Confidence float64 `json:"confidence"`
	} `json:"instruments"`
	Companies []string `json:"companies"`
	Regions   []string `json:"regions"`
	Sectors   []string `json:"sectors"`
	Themes    []string `json:"themes"`
	Summary   string   `json:"summary"`
}

func buildSystemPrompt() string {
	eventNames := make([]string, len(domain.EventTypes))
	for i, e := range domain.EventTypes {
		eventNames[i] = e.Name
	}
	prompt := strings.Replace(extractionSystemPrompt, "%EVENT_TYPES%", strings.Join(eventNames, ", "), 1)
	return strings.Replace(prompt, "%THEMES%", strings.Join(domain.Themes, ", "), 1)
}

// Extract runs a low-temperature structured extraction over the document.
// Transport failures retry inside post; an HTTP 200 with unparseable JSON
// retries here up to MaxRetries before surfacing LLM_PARSE_FAILED. The
// result is validated against the schema; out-of-vocabulary themes and
// event types are dropped with a warning. The pipeline decides whether a
// surfaced failure degrades or fails the request.
func (c *Client) Extract(ctx context.Context, title, content string) (*domain.Enrichment, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		enr, err := c.extractOnce(ctx, title, content)
		if err == nil {
			return enr, nil
		}
		if !domain.IsCode(err, domain.ErrLLMParseFailed) {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("Extraction output unparseable, retrying")
	}
	return nil, lastErr
}

func (c *Client) extractOnce(ctx context.Context, title, content string) (*domain.Enrichment, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt()},
			{Role: "user", Content: title + "\n\n" + content},
		},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.ErrLLMParseFailed, "provider returned no choices")
	}

	var raw rawExtraction
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some providers wrap JSON mode output in a fence anyway
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, domain.WrapError(domain.ErrLLMParseFailed, "extraction output is not valid JSON", err)
	}

	return c.validate(raw), nil
}

// validate enforces schema bounds and vocabulary closure
func (c *Client) validate(raw rawExtraction) *domain.Enrichment {
	enr := &domain.Enrichment{
		Summary: strings.TrimSpace(raw.Summary),
		Regions: dedupeStrings(raw.Regions),
		Sectors: dedupeStrings(raw.Sectors),
	}

	enr.ImpactScore = clamp(raw.ImpactScore, 0, 100)
	// The tier must agree with the score bucket regardless of what the
	// provider claimed
	enr.ImpactTier = domain.TierForScore(enr.ImpactScore)

	var events []domain.ExtractedEvent
	for _, e := range raw.Events {
		events = append(events, domain.ExtractedEvent{Type: e.Type, Confidence: clamp(e.Confidence, 0, 1)})
	}
	kept, droppedEvents := domain.FilterEvents(events)
	enr.Events = kept
	for _, d := range droppedEvents {
		c.log.Warn().Str("event_type", d).Msg("Dropped out-of-vocabulary event type")
	}

	themes, droppedThemes := domain.FilterThemes(raw.Themes)
	enr.Themes = themes
	for _, d := range droppedThemes {
		c.log.Warn().Str("theme", d).Msg("Dropped out-of-vocabulary theme")
	}

	for _, inst := range raw.Instruments {
		ticker := strings.ToUpper(strings.TrimSpace(inst.Ticker))
		if ticker == "" {
			continue
		}
		direction := strings.ToLower(inst.Direction)
		if direction != "up" && direction != "down" {
			direction = "neutral"
		}
		enr.Instruments = append(enr.Instruments, domain.AffectedInstrument{
			Ticker:     ticker,
			Direction:  direction,
			Magnitude:  clamp(inst.Magnitude, 0, 1),
			Confidence: clamp(inst.Confidence, 0, 1),
		})
	}

	enr.Companies = dedupeStrings(raw.Companies)
	return enr
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
