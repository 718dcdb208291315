package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/meridian/newsgraph/internal/domain"
)

const themePromptPrefix = `You classify investment mandates. Respond with ONLY a JSON object {"themes": [...]} choosing from: `

// ExtractThemes maps free mandate text onto the controlled theme
// vocabulary. Out-of-vocabulary suggestions are dropped with a warning.
func (c *Client) ExtractThemes(ctx context.Context, mandateText string) ([]string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: themePromptPrefix + strings.Join(domain.Themes, ", ")},
			{Role: "user", Content: mandateText},
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

	var parsed struct {
		Themes []string `json:"themes"`
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, domain.WrapError(domain.ErrLLMParseFailed, "theme output is not valid JSON", err)
	}

	kept, dropped := domain.FilterThemes(parsed.Themes)
	for _, d := range dropped {
		c.log.Warn().Str("theme", d).Msg("Dropped out-of-vocabulary mandate theme")
	}
	return kept, nil
}
