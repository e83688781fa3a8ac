package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/research"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{LLMProvider: "anthropic", SearchBackend: "google", FetchTopN: 5, LLMTimeout: time.Minute}
	v := viper.New()
	v.Set("llm_provider", "openai")
	v.Set("search_backend", "arxiv")
	v.Set("fetch_top_n", 3)
	v.Set("llm_timeout", "30s")

	applyOverrides(cfg, v)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "arxiv", cfg.SearchBackend)
	assert.Equal(t, 3, cfg.FetchTopN)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
}

func TestApplyOverridesKeepsUnsetValues(t *testing.T) {
	cfg := &config.Config{LLMProvider: "google", SearchNumResults: 10}
	applyOverrides(cfg, viper.New())
	assert.Equal(t, "google", cfg.LLMProvider)
	assert.Equal(t, 10, cfg.SearchNumResults)
}

func TestQuestionArg(t *testing.T) {
	q, err := questionArg([]string{"How", "long", "do", "batteries", "last?"})
	require.NoError(t, err)
	assert.Equal(t, "How long do batteries last?", q)

	_, err = questionArg([]string{" "})
	assert.Error(t, err)
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	printAnswer(&buf, research.ResearchAnswer{Answer: "About 15 years.", SourcesUsed: []string{"https://a.example"}, ConfidenceScore: 72})
	assert.Equal(t, "About 15 years.\n\nConfidence: 72/100\nSources:\n  - https://a.example\n", buf.String())
}
