package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

func taggingConfig(baseURL string) config.TaggingConfig {
	return config.TaggingConfig{
		BaseURL:          baseURL,
		APIKey:           "test-key",
		Model:            "gemini-2.0-flash",
		Timeout:          time.Second,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}
}

func geminiAnswer(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"High Value Customers, Discount Campaign", []string{"High Value Customers", "Discount Campaign"}},
		{`"VIP Outreach", "Seasonal Promo", "Winback", "Extra"`, []string{"VIP Outreach", "Seasonal Promo", "Winback"}},
		{" , ,\n", []string{}},
		{"", []string{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.raw))
	}
}

func TestGeminiTagger_SuggestTags(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var body generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if len(body.Contents) > 0 && len(body.Contents[0].Parts) > 0 {
			gotPrompt = body.Contents[0].Parts[0].Text
		}

		w.Write([]byte(geminiAnswer("High Value Customers, Discount Campaign")))
	}))
	defer srv.Close()

	tagger := NewGeminiTagger(taggingConfig(srv.URL))
	tags, err := tagger.SuggestTags(context.Background(), TagRequest{
		Message:      "20% off for loyal shoppers",
		Rules:        models.RuleSet{Logic: models.LogicAnd, Rules: []models.Rule{{Field: "lifetimeSpend", Operator: ">", Value: 5000.0}}},
		AudienceSize: 42,
		AvgSpend:     7123.456,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"High Value Customers", "Discount Campaign"}, tags)
	assert.Contains(t, gotPrompt, "Campaign message: 20% off for loyal shoppers")
	assert.Contains(t, gotPrompt, "Audience size: 42")
	assert.Contains(t, gotPrompt, "Average spend: 7123.46")
	assert.True(t, strings.Contains(gotPrompt, `"lifetimeSpend"`))
}

func TestGeminiTagger_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGeminiTagger(taggingConfig(srv.URL)).SuggestTags(context.Background(), TagRequest{})
	assert.ErrorContains(t, err, "429")
}

func TestGeminiTagger_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tagger := NewGeminiTagger(taggingConfig(srv.URL))
	for i := 0; i < 5; i++ {
		_, err := tagger.SuggestTags(context.Background(), TagRequest{})
		assert.Error(t, err)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGeminiTagger_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewGeminiTagger(taggingConfig(srv.URL)).SuggestTags(ctx, TagRequest{})
	assert.Error(t, err)
}

func TestNewTagger_NoKeyIsNoop(t *testing.T) {
	tagger := NewTagger(config.TaggingConfig{})
	_, ok := tagger.(NoopTagger)
	assert.True(t, ok)

	tags, err := tagger.SuggestTags(context.Background(), TagRequest{})
	assert.NoError(t, err)
	assert.Empty(t, tags)
}
