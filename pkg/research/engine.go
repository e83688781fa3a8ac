package research

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/mikeboe/research-agent/pkg/llm"
	"github.com/mikeboe/research-agent/pkg/research/tools"
)

// ContentFetcher is satisfied by *tools.Fetcher.
type ContentFetcher interface {
	FetchAll(ctx context.Context, urls []string) []URLContent
}

// Engine runs every stage of the research pipeline. Each stage is callable
// on its own; Run chains them.
//
// Stage methods return a usable value even when an upstream call fails.
// The returned error is non-nil only when the model provider rejected the
// credentials, which no retry or default can recover from.
type Engine struct {
	LLM           llm.Gateway
	Searcher      tools.Searcher
	Fetcher       ContentFetcher
	Config        Config
	Logger        *slog.Logger
	OnStateUpdate func(state ResearchState)
	Now           func() time.Time
}

func NewEngine(gateway llm.Gateway, searcher tools.Searcher, fetcher ContentFetcher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		LLM:      gateway,
		Searcher: searcher,
		Fetcher:  fetcher,
		Config:   cfg.withDefaults(),
		Logger:   logger,
		Now:      time.Now,
	}
}

// complete sends one system+user exchange and wraps failures as upstream faults.
func (e *Engine) complete(ctx context.Context, op, system, input string, opts ...llm.CallOption) (string, error) {
	opts = append([]llm.CallOption{llm.WithSystem(system)}, opts...)
	out, err := e.LLM.ChatCompletion(ctx, []llm.Message{{Role: llm.RoleUser, Content: input}}, opts...)
	if err != nil {
		err = fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
		e.Logger.Error("LLM call failed", "op", op, "error", err)
		return "", err
	}
	return out, nil
}

// stream relays raw fragments. A non-fatal upstream failure ends the stream
// quietly; rejected credentials are yielded as the final error.
func (e *Engine) stream(ctx context.Context, op, system, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for chunk, err := range e.LLM.ChatCompletionStream(ctx, []llm.Message{{Role: llm.RoleUser, Content: input}}, llm.WithSystem(system)) {
			if err != nil {
				e.Logger.Error("LLM stream failed", "op", op, "error", err)
				if ferr := fatal(err); ferr != nil {
					yield("", ferr)
				}
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) setStage(state *ResearchState, stage Stage) {
	state.Stage = stage
	state.UpdatedAt = e.now()
	e.Logger.Info("Research stage", "stage", stage, "question", state.Question)
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(*state)
	}
}

// Run executes the full pipeline for one question: current-events check,
// context gathering, expansion, analysis, search, fetch, answer and
// evaluation. On a fatal error the partial report is returned with it.
func (e *Engine) Run(ctx context.Context, question string) (ResearchReport, error) {
	report := ResearchReport{
		Question:   question,
		Queries:    []string{},
		Analysis:   EmptyAnalysis(),
		Results:    []SearchResult{},
		Sources:    []URLContent{},
		Answer:     SentinelAnswer(),
		Evaluation: failedEvaluation("research run did not reach evaluation"),
		StartedAt:  e.now(),
	}
	state := ResearchState{Question: question}
	e.Logger.Info("Starting research run", "question", question)
	e.setStage(&state, StageStarted)

	finish := func(err error) (ResearchReport, error) {
		report.FinishedAt = e.now()
		if err != nil {
			e.Logger.Error("Research run aborted", "stage", state.Stage, "error", err)
			return report, fmt.Errorf("research run aborted during %s: %w", state.Stage, err)
		}
		e.setStage(&state, StageDone)
		e.Logger.Info("Research run complete", "results", len(report.Results), "sources", len(report.Sources),
			"confidence", report.Answer.ConfidenceScore, "overall_score", report.Evaluation.OverallScore)
		return report, nil
	}

	// 1. Current events gate
	e.setStage(&state, StageCurrentEvents)
	check, err := e.CheckCurrentEvents(ctx, question)
	report.CurrentEvents = check
	if err != nil {
		return finish(err)
	}
	if check.RequiresCurrentContext {
		e.setStage(&state, StageContext)
		report.CurrentContext, err = e.GatherCurrentContext(ctx, check)
		if err != nil {
			return finish(err)
		}
	}

	// 2. Expand
	e.setStage(&state, StageExpand)
	expanded, err := e.Expand(ctx, question)
	if err != nil {
		return finish(err)
	}
	report.Queries = append([]string{question}, expanded...)
	state.Queries = report.Queries

	// 3. Analyze
	e.setStage(&state, StageAnalyze)
	report.Analysis, err = e.AnalyzeScopeWithContext(ctx, question, report.CurrentContext)
	if err != nil {
		return finish(err)
	}

	// 4. Search
	e.setStage(&state, StageSearch)
	report.Results, err = e.ExecuteQueries(ctx, report.Queries)
	if err != nil {
		return finish(err)
	}
	state.ResultCount = len(report.Results)

	// 5. Fetch
	e.setStage(&state, StageFetch)
	report.Sources = e.fetchTop(ctx, report.Results)
	state.SourceCount = len(report.Sources)

	// 6. Answer
	e.setStage(&state, StageAnswer)
	report.Answer, err = e.SynthesizeAnswer(ctx, question, report.Sources)
	if err != nil {
		return finish(err)
	}

	// 7. Evaluate
	e.setStage(&state, StageEvaluate)
	report.Evaluation, err = e.EvaluateAnswer(ctx, question, report.Analysis, report.Answer)
	if err != nil {
		return finish(err)
	}

	return finish(nil)
}

func (e *Engine) fetchTop(ctx context.Context, results []SearchResult) []URLContent {
	if e.Fetcher == nil || len(results) == 0 {
		return []URLContent{}
	}
	n := min(e.Config.FetchTopN, len(results))
	urls := make([]string, 0, n)
	for _, r := range results[:n] {
		urls = append(urls, r.Link)
	}
	sources := e.Fetcher.FetchAll(ctx, urls)

	failed := 0
	for _, s := range sources {
		if !s.OK() {
			failed++
		}
	}
	e.Logger.Info("Fetched sources", "requested", len(urls), "failed", failed)
	return sources
}
