package research

import (
	"time"

	"github.com/mikeboe/research-agent/pkg/research/tools"
)

// SearchResult and URLContent are produced by the tools package.
type (
	SearchResult = tools.SearchResult
	URLContent   = tools.URLContent
)

// Config holds runtime configuration
type Config struct {
	Search            tools.SearchOptions
	MaxBatchQueries   int
	MaxContextQueries int
	MaxSourceChars    int
	FetchTopN         int
}

// DefaultConfig returns the limits used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Search:            tools.SearchOptions{NumResults: 10},
		MaxBatchQueries:   3,
		MaxContextQueries: 3,
		MaxSourceChars:    8000,
		FetchTopN:         5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Search.NumResults <= 0 {
		c.Search.NumResults = d.Search.NumResults
	}
	if c.MaxBatchQueries <= 0 {
		c.MaxBatchQueries = d.MaxBatchQueries
	}
	if c.MaxContextQueries <= 0 {
		c.MaxContextQueries = d.MaxContextQueries
	}
	if c.MaxSourceChars <= 0 {
		c.MaxSourceChars = d.MaxSourceChars
	}
	if c.FetchTopN <= 0 {
		c.FetchTopN = d.FetchTopN
	}
	return c
}

// QuestionAnalysis breaks a question into what a complete answer must cover.
// The lists are never nil.
type QuestionAnalysis struct {
	KeyComponents         []string `json:"key_components"`
	ScopeBoundaries       []string `json:"scope_boundaries"`
	SuccessCriteria       []string `json:"success_criteria"`
	ConflictingViewpoints []string `json:"conflicting_viewpoints"`
}

func EmptyAnalysis() QuestionAnalysis {
	return QuestionAnalysis{
		KeyComponents:         []string{},
		ScopeBoundaries:       []string{},
		SuccessCriteria:       []string{},
		ConflictingViewpoints: []string{},
	}
}

func (a QuestionAnalysis) IsEmpty() bool {
	return len(a.KeyComponents)+len(a.ScopeBoundaries)+len(a.SuccessCriteria)+len(a.ConflictingViewpoints) == 0
}

// CurrentEventsCheck decides whether a question needs recent context.
type CurrentEventsCheck struct {
	RequiresCurrentContext bool     `json:"requires_current_context"`
	Reasoning              string   `json:"reasoning"`
	Timeframe              string   `json:"timeframe"`
	KeyEvents              []string `json:"key_events"`
	SearchQueries          []string `json:"search_queries"`
}

// ResearchAnswer is a cited answer. SourcesUsed only holds http(s) URLs.
type ResearchAnswer struct {
	Answer          string   `json:"answer"`
	SourcesUsed     []string `json:"sources_used"`
	ConfidenceScore float64  `json:"confidence_score"`
}

type ConflictingAspect struct {
	Aspect   string `json:"aspect"`
	Conflict string `json:"conflict"`
}

// ResearchEvaluation scores an answer against the question's analysis.
type ResearchEvaluation struct {
	CompletenessScore      float64             `json:"completeness_score"`
	AccuracyScore          float64             `json:"accuracy_score"`
	RelevanceScore         float64             `json:"relevance_score"`
	OverallScore           float64             `json:"overall_score"`
	MissingAspects         []string            `json:"missing_aspects"`
	ImprovementSuggestions []string            `json:"improvement_suggestions"`
	ConflictingAspects     []ConflictingAspect `json:"conflicting_aspects"`
}

// QueryBatch is one streamed unit: the new results a completed query found.
type QueryBatch struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type Stage string

const (
	StageStarted       Stage = "started"
	StageCurrentEvents Stage = "checking_current_events"
	StageContext       Stage = "gathering_context"
	StageExpand        Stage = "expanding"
	StageAnalyze       Stage = "analyzing"
	StageSearch        Stage = "searching"
	StageFetch         Stage = "fetching"
	StageAnswer        Stage = "answering"
	StageEvaluate      Stage = "evaluating"
	StageDone          Stage = "done"
)

// ResearchState tracks the progress of a full research run
type ResearchState struct {
	Question    string    `json:"question"`
	Stage       Stage     `json:"stage"`
	Queries     []string  `json:"queries,omitempty"`
	ResultCount int       `json:"result_count"`
	SourceCount int       `json:"source_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResearchReport is everything a full run produced.
type ResearchReport struct {
	Question       string             `json:"question"`
	CurrentEvents  CurrentEventsCheck `json:"current_events"`
	CurrentContext string             `json:"current_context,omitempty"`
	Queries        []string           `json:"queries"`
	Analysis       QuestionAnalysis   `json:"analysis"`
	Results        []SearchResult     `json:"results"`
	Sources        []URLContent       `json:"sources"`
	Answer         ResearchAnswer     `json:"answer"`
	Evaluation     ResearchEvaluation `json:"evaluation"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}
