package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ltvsync/internal/pkg/httpclient"
)

// ErrNotArray is returned when the model response is not a JSON array.
var ErrNotArray = errors.New("expected JSON array")

const anthropicVersion = "2023-06-01"

var promptTemplate = template.Must(template.New("normalize_ltv").Parse(
	`You are ranking customer lifetime values for an advertising audience.

Below are {{.Count}} LTV values in US dollars. The smallest is {{.Min}} and the largest is {{.Max}}.
Assign each value a percentile score from 0 to 100, where 0 is the lowest value and 100 the highest.
Equal values must get equal scores. Keep the input order.

Values:
{{.Values}}

Respond with only a JSON array of {{.Count}} integers, one per input value, and nothing else.`))

// ClaudeConfig configures the Messages API transform.
type ClaudeConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// ClaudeTransform ranks values by prompting a Claude model.
type ClaudeTransform struct {
	http      *httpclient.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewClaudeTransform(cfg ClaudeConfig, logger *zap.Logger) *ClaudeTransform {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	client := httpclient.New(cfg.BaseURL).
		WithTimeout(cfg.Timeout).
		WithHeader("x-api-key", cfg.APIKey).
		WithHeader("anthropic-version", anthropicVersion)

	return &ClaudeTransform{
		http:      client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Rank sends one chunk to the model and parses its scores.
func (t *ClaudeTransform) Rank(ctx context.Context, values []float64, min, max float64) ([]int, error) {
	prompt, err := BuildPrompt(values, min, max)
	if err != nil {
		return nil, err
	}

	resp, err := t.http.JSON(ctx, messageRequest{
		Model:     t.model,
		MaxTokens: t.maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}).Post("/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("claude request failed: %w", err)
	}
	if resp.IsError() {
		t.logger.Error("Claude API error", zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
		return nil, fmt.Errorf("claude API returned status %d", resp.StatusCode())
	}

	var out messageResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return ParseScores(block.Text)
		}
	}
	return nil, errors.New("claude response has no text content")
}

// BuildPrompt renders the ranking prompt for one chunk.
func BuildPrompt(values []float64, min, max float64) (string, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode values: %w", err)
	}
	var buf bytes.Buffer
	err = promptTemplate.Execute(&buf, map[string]interface{}{
		"Count":  len(values),
		"Min":    strconv.FormatFloat(min, 'f', 2, 64),
		"Max":    strconv.FormatFloat(max, 'f', 2, 64),
		"Values": string(raw),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// ParseScores reads a JSON array of numbers, tolerating markdown code fences.
func ParseScores(text string) ([]int, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimPrefix(cleaned, "json")
	}
	cleaned = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cleaned), "```"))

	var decoded interface{}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}
	items, ok := decoded.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrNotArray, decoded)
	}

	scores := make([]int, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case float64:
			// Bound before converting; int() of an out-of-range float is undefined.
			scores[i] = int(math.Max(0, math.Min(100, v)))
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("parse score %d: %w", i, err)
			}
			scores[i] = n
		default:
			return nil, fmt.Errorf("parse score %d: unexpected %T", i, item)
		}
	}
	return scores, nil
}
