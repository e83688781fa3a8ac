package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/llm"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/mikeboe/research-agent/pkg/sourceindex"
)

// Substrings of the system prompts, one per research stage.
const (
	promptExpand        = "turns a question into web search queries"
	promptAnalyze       = "analyzing well-formed questions"
	promptCurrentEvents = "recent or ongoing events"
	promptScore         = "rate how relevant search results are"
	promptAnswer        = "writing a well-sourced answer"
	promptEvaluate      = "strict reviewer"
)

// routedLLM replies by matching the system prompt against registered
// substrings. Unmatched calls fail with a non-fatal error.
type routedLLM struct {
	replies map[string]string
	err     error
}

func newRoutedLLM() *routedLLM {
	return &routedLLM{replies: map[string]string{
		promptCurrentEvents: `{"requires_current_context": false, "reasoning": "Stable topic."}`,
		promptExpand:        "solid state battery lifespan\nsolid state battery cost",
		promptAnalyze:       `{"key_components": ["lifespan", "cost"], "scope_boundaries": [], "success_criteria": ["cites studies"], "conflicting_viewpoints": []}`,
		promptScore:         `[]`,
		promptAnswer:        `{"answer": "They last longer [https://a.example].", "sources_used": ["https://a.example"], "confidence_score": 75}`,
		promptEvaluate:      `{"completeness_score": 70, "accuracy_score": 80, "relevance_score": 90, "overall_score": 80, "missing_aspects": [], "improvement_suggestions": [], "conflicting_aspects": []}`,
	}}
}

func (r *routedLLM) ChatCompletion(_ context.Context, _ []llm.Message, opts ...llm.CallOption) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	var o llm.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	for marker, reply := range r.replies {
		if strings.Contains(o.System, marker) {
			return reply, nil
		}
	}
	return "", errors.New("no reply for prompt")
}

func (r *routedLLM) ChatCompletionStream(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		out, err := r.ChatCompletion(ctx, messages, opts...)
		if err != nil {
			yield("", err)
			return
		}
		for _, part := range strings.SplitAfter(out, " ") {
			if !yield(part, nil) {
				return
			}
		}
	}
}

func (r *routedLLM) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (string, error) {
	return r.ChatCompletion(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (r *routedLLM) GenerateStream(ctx context.Context, prompt string, opts ...llm.CallOption) iter.Seq2[string, error] {
	return r.ChatCompletionStream(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (r *routedLLM) DefaultModel() string { return "routed" }
func (r *routedLLM) Close() error         { return nil }

func unauthorized() error {
	return &llm.ProviderError{Provider: "openai", Method: "chat", Model: "gpt-4o", Err: errors.New("401 Unauthorized: incorrect api key")}
}

type staticSearcher map[string][]tools.SearchResult

func (s staticSearcher) Search(_ context.Context, query string, _ tools.SearchOptions) []tools.SearchResult {
	return s[query]
}

type staticFetcher struct{}

func (staticFetcher) FetchAll(_ context.Context, urls []string) []tools.URLContent {
	out := make([]tools.URLContent, len(urls))
	for i, u := range urls {
		out[i] = tools.URLContent{URL: u, Title: "Page " + u, Text: "<h2>Findings</h2><p>Content of " + u + "</p>", ContentType: tools.ContentHTML}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSearcher() staticSearcher {
	return staticSearcher{
		"solid state battery lifespan": {
			{Title: "A", Link: "https://a.example", Snippet: "Lifespan study"},
			{Title: "B", Link: "https://b.example", Snippet: "Cycle counts"},
		},
		"solid state battery cost": {
			{Title: "C", Link: "https://c.example", Snippet: "Cost outlook"},
		},
	}
}

func newTestEngine(gw llm.Gateway, logger *slog.Logger) *research.Engine {
	e := research.NewEngine(gw, testSearcher(), staticFetcher{}, research.DefaultConfig(), logger)
	e.Now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	return e
}

// memoryStore is an in-memory RunStore.
type memoryStore struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]*database.Run
	logs   map[uuid.UUID][]database.LogEntry
	states [][]byte
	nextID int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: map[uuid.UUID]*database.Run{}, logs: map[uuid.UUID][]database.LogEntry{}}
}

func (m *memoryStore) CreateRun(_ context.Context, userID, question string) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	run := &database.Run{ID: uuid.New(), UserID: userID, Question: question, Status: database.RunPending, CreatedAt: now, UpdatedAt: now}
	m.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (m *memoryStore) GetRun(_ context.Context, id uuid.UUID) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (m *memoryStore) ListRuns(_ context.Context, userID string, limit int) ([]database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := []database.Run{}
	for _, r := range m.runs {
		if userID == "" || r.UserID == userID {
			runs = append(runs, *r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memoryStore) update(id uuid.UUID, fn func(*database.Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return database.ErrNotFound
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) SetRunStatus(_ context.Context, id uuid.UUID, status database.RunStatus) error {
	return m.update(id, func(r *database.Run) { r.Status = status })
}

func (m *memoryStore) SaveRunState(_ context.Context, id uuid.UUID, state []byte) error {
	m.mu.Lock()
	m.states = append(m.states, state)
	m.mu.Unlock()
	return m.update(id, func(r *database.Run) { r.State = state })
}

func (m *memoryStore) FinishRun(_ context.Context, id uuid.UUID, status database.RunStatus, report []byte, reason string) error {
	return m.update(id, func(r *database.Run) {
		r.Status, r.Report, r.Error = status, report, reason
	})
}

func (m *memoryStore) InsertLog(_ context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.logs[runID] = append(m.logs[runID], database.LogEntry{ID: m.nextID, Timestamp: ts, Level: level, Message: message, Metadata: metadata})
	return nil
}

func (m *memoryStore) RunLogs(_ context.Context, runID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.LogEntry{}, m.logs[runID]...), nil
}

// recordingIndex keeps the sources it was given.
type recordingIndex struct {
	mu      sync.Mutex
	added   map[string][]tools.URLContent
	matches []sourceindex.Match
}

func (r *recordingIndex) AddSources(_ context.Context, runID string, sources []tools.URLContent) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.added == nil {
		r.added = map[string][]tools.URLContent{}
	}
	r.added[runID] = sources
	return len(sources), nil
}

func (r *recordingIndex) Search(_ context.Context, _, _, _ string, _ int) ([]sourceindex.Match, error) {
	return r.matches, nil
}
