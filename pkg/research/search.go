package research

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
)

// Orchestrator states, logged per invocation.
const (
	statePending       = "pending"
	stateFannedOut     = "fanned_out"
	stateDeduplicating = "deduplicating"
	stateScoring       = "scoring"
	stateRanked        = "ranked"
	stateDone          = "done"
	stateStreaming     = "streaming"
)

type queryOutcome struct {
	query   string
	results []SearchResult
	err     error
}

// ExecuteQueries searches up to Config.MaxBatchQueries queries concurrently,
// scores each query's results against that query and merges them by link.
// A link found by several queries keeps its first-seen fields and the
// highest score. The result is sorted by score, ties in discovery order.
func (e *Engine) ExecuteQueries(ctx context.Context, queries []string) ([]SearchResult, error) {
	queries = cleanQueries(queries)
	if len(queries) > e.Config.MaxBatchQueries {
		e.Logger.Info("Truncating query batch", "requested", len(queries), "limit", e.Config.MaxBatchQueries)
		queries = queries[:e.Config.MaxBatchQueries]
	}
	e.logState(statePending, "queries", len(queries))
	if len(queries) == 0 {
		return []SearchResult{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan queryOutcome, len(queries))
	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			results := e.Searcher.Search(ctx, query, e.Config.Search)
			scored, err := e.ScoreResults(ctx, query, results)
			outcomes <- queryOutcome{query: query, results: scored, err: err}
		}(q)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()
	e.logState(stateFannedOut, "queries", len(queries))

	merged := []SearchResult{}
	index := make(map[string]int)
	var fatalErr error
	for out := range outcomes {
		if out.err != nil {
			if fatalErr == nil {
				fatalErr = out.err
				cancel()
			}
			continue
		}
		e.logState(stateDeduplicating, "query", out.query, "results", len(out.results))
		for _, r := range out.results {
			if i, ok := index[r.Link]; ok {
				if r.RelevanceScore > merged[i].RelevanceScore {
					merged[i].RelevanceScore = r.RelevanceScore
				}
				continue
			}
			index[r.Link] = len(merged)
			merged = append(merged, r)
		}
	}
	if fatalErr != nil {
		return []SearchResult{}, fatalErr
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})
	e.logState(stateRanked, "unique_results", len(merged))
	e.logState(stateDone)
	return merged, nil
}

// ExecuteQueriesStream yields one batch per completed query, in completion
// order, holding only links no earlier batch contained, scored against that
// query. Every query runs; stopping the iteration cancels the rest.
func (e *Engine) ExecuteQueriesStream(ctx context.Context, queries []string) iter.Seq2[QueryBatch, error] {
	return func(yield func(QueryBatch, error) bool) {
		queries := cleanQueries(queries)
		e.logState(statePending, "queries", len(queries))
		if len(queries) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		outcomes := make(chan queryOutcome)
		for _, q := range queries {
			go func(query string) {
				results := e.Searcher.Search(ctx, query, e.Config.Search)
				select {
				case outcomes <- queryOutcome{query: query, results: results}:
				case <-ctx.Done():
				}
			}(q)
		}
		e.logState(stateFannedOut, "queries", len(queries))

		seen := make(map[string]bool)
		for range queries {
			var out queryOutcome
			select {
			case out = <-outcomes:
			case <-ctx.Done():
				return
			}

			e.logState(stateDeduplicating, "query", out.query, "results", len(out.results))
			fresh := make([]SearchResult, 0, len(out.results))
			for _, r := range out.results {
				if seen[r.Link] {
					continue
				}
				seen[r.Link] = true
				fresh = append(fresh, r)
			}

			e.logState(stateScoring, "query", out.query, "new_results", len(fresh))
			scored, err := e.ScoreResults(ctx, out.query, fresh)
			if err != nil {
				yield(QueryBatch{Query: out.query, Results: []SearchResult{}}, err)
				return
			}
			sort.SliceStable(scored, func(i, j int) bool {
				return scored[i].RelevanceScore > scored[j].RelevanceScore
			})

			e.logState(stateStreaming, "query", out.query, "batch", len(scored))
			if !yield(QueryBatch{Query: out.query, Results: scored}, nil) {
				return
			}
		}
		e.logState(stateDone, "unique_results", len(seen))
	}
}

// cleanQueries trims queries and drops blanks and exact duplicates.
func cleanQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func (e *Engine) logState(state string, args ...any) {
	e.Logger.Debug("Search orchestrator", append([]any{"state", state}, args...)...)
}
