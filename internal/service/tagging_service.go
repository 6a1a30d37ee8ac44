package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

// MaxTags is the most tags a campaign carries
const MaxTags = 3

// TagRequest is the context handed to the tag generator
type TagRequest struct {
	Message      string
	Rules        models.RuleSet
	AudienceSize int
	AvgSpend     float64
}

// Tagger suggests short advisory tags for a campaign
type Tagger interface {
	SuggestTags(ctx context.Context, req TagRequest) ([]string, error)
}

// NoopTagger returns no tags. It is used when no API key is configured.
type NoopTagger struct{}

// SuggestTags implements Tagger
func (NoopTagger) SuggestTags(ctx context.Context, req TagRequest) ([]string, error) {
	return []string{}, nil
}

const tagPrompt = `You are a CRM marketing assistant. Based on the campaign details,
generate up to 3 short tags (each at most 3 words) that summarize the campaign intent.

- Consider the campaign message, targeting rules, audience size, and avg spend.
- Tags should help marketers quickly understand the campaign's purpose.
- Return only a comma-separated list (no explanations, no extra text).

Examples of good tags:
"High Value Customers", "Discount Campaign", "Seasonal Promo", "VIP Outreach".

Campaign message: %s
Targeting rules: %s
Audience size: %d
Average spend: %.2f
`

// GeminiTagger generates tags with the Gemini generateContent API behind a
// circuit breaker
type GeminiTagger struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewTagger returns a GeminiTagger, or a NoopTagger if no API key is set
func NewTagger(cfg config.TaggingConfig) Tagger {
	if cfg.APIKey == "" {
		return NoopTagger{}
	}
	return NewGeminiTagger(cfg)
}

// NewGeminiTagger creates a Gemini backed tagger
func NewGeminiTagger(cfg config.TaggingConfig) *GeminiTagger {
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	return &GeminiTagger{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "tagging",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// SuggestTags implements Tagger
func (g *GeminiTagger) SuggestTags(ctx context.Context, req TagRequest) ([]string, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.generate(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("tag generation failed: %w", err)
	}
	return ParseTags(out.(string)), nil
}

func (g *GeminiTagger) generate(ctx context.Context, req TagRequest) (string, error) {
	rules, err := json.Marshal(req.Rules)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{Contents: []generateContent{{
		Role:  "user",
		Parts: []generatePart{{Text: fmt.Sprintf(tagPrompt, req.Message, rules, req.AudienceSize, req.AvgSpend)}},
	}}})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generateContent returned %d after %s", resp.StatusCode, time.Since(start))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode generateContent response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// ParseTags splits a comma-separated model answer into at most MaxTags
// trimmed, unquoted, non-empty tags
func ParseTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		tag := strings.Trim(strings.TrimSpace(part), `"'`)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}
