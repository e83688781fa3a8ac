package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikeboe/research-agent/pkg/llm"
)

// DefaultRelevanceScore is given to every result the model did not score.
const DefaultRelevanceScore = 50.0

// ScoreResults rates results against query with one model call. The output
// has the same length and order as the input, each copy carrying a score
// in [0, 100].
func (e *Engine) ScoreResults(ctx context.Context, query string, results []SearchResult) ([]SearchResult, error) {
	scored := make([]SearchResult, len(results))
	copy(scored, results)
	if len(results) == 0 {
		return scored, nil
	}

	out, err := e.complete(ctx, "score", scoreSystemPrompt, scoreInput(query, results), llm.WithJSONMode())
	if err != nil {
		applyScores(scored, nil)
		return scored, fatal(err)
	}

	known := make(map[string]bool, len(results))
	for _, r := range results {
		known[r.Link] = true
	}
	scores, err := parseScores(out, known)
	if err != nil {
		e.Logger.Warn("Relevance scoring output rejected, using default scores", "query", query, "error", err)
	}
	applyScores(scored, scores)

	e.Logger.Debug("Scored results", "query", query, "results", len(results), "scored", len(scores))
	return scored, nil
}

func applyScores(results []SearchResult, scores map[string]float64) {
	for i := range results {
		if s, ok := scores[results[i].Link]; ok {
			results[i].RelevanceScore = s
		} else {
			results[i].RelevanceScore = DefaultRelevanceScore
		}
	}
}

// parseScores reads a JSON array of {url, score}. A non-array top level
// rejects the whole batch; bad or unknown entries are dropped one by one.
func parseScores(raw string, known map[string]bool) (map[string]float64, error) {
	body := stripFences(raw)

	var top any
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		if err := json.Unmarshal([]byte(dropTrailingCommas(extractArray(body))), &top); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
		}
	}
	entries, ok := top.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON array, got %T", ErrMalformedOutput, top)
	}

	scores := make(map[string]float64, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		link, ok := obj["url"].(string)
		if !ok || !known[link] {
			continue
		}
		value, ok := obj["score"].(float64)
		if !ok {
			continue
		}
		if _, dup := scores[link]; dup {
			continue
		}
		scores[link] = clampScore(value)
	}
	return scores, nil
}
