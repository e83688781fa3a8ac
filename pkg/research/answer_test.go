package research

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/llm"
	"github.com/mikeboe/research-agent/pkg/research/tools"
)

func synthesize(t *testing.T, reply string) ResearchAnswer {
	t.Helper()
	gw := newScriptedLLM().reply(answerSystemPrompt, reply)
	engine := newTestEngine(gw, &fakeSearcher{})
	answer, err := engine.SynthesizeAnswer(context.Background(), "q", nil)
	require.NoError(t, err)
	return answer
}

func TestSynthesizeAnswerRecovery(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  ResearchAnswer
	}{
		{
			name:  "well formed",
			reply: `{"answer": "Go was released in 2009.", "sources_used": ["https://go.dev/doc"], "confidence_score": 92}`,
			want:  ResearchAnswer{Answer: "Go was released in 2009.", SourcesUsed: []string{"https://go.dev/doc"}, ConfidenceScore: 92},
		},
		{
			name:  "unterminated sources array",
			reply: `{"answer": "A", "sources_used": ["https://a.example", "https://b.example", "confidence_score": 70}`,
			want:  ResearchAnswer{Answer: "A", SourcesUsed: []string{}, ConfidenceScore: 70},
		},
		{
			name:  "truncated object",
			reply: "```json\n{\"answer\": \"Partial answer\", \"sources_used\": [oops",
			want:  ResearchAnswer{Answer: "Partial answer", SourcesUsed: []string{}, ConfidenceScore: 0},
		},
		{
			name:  "non http sources and string confidence",
			reply: `{"answer": "B", "sources_used": ["ftp://x.example", "https://ok.example", "Source 2"], "confidence_score": "85%"}`,
			want:  ResearchAnswer{Answer: "B", SourcesUsed: []string{"https://ok.example"}, ConfidenceScore: 85},
		},
		{
			name:  "missing confidence",
			reply: `{"answer": "C", "sources_used": []}`,
			want:  ResearchAnswer{Answer: "C", SourcesUsed: []string{}, ConfidenceScore: 0},
		},
		{
			name:  "empty answer",
			reply: `{"answer": "  ", "sources_used": ["https://a.example"], "confidence_score": 90}`,
			want:  SentinelAnswer(),
		},
		{
			name:  "prose",
			reply: "I'm sorry, I cannot help with that.",
			want:  SentinelAnswer(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, synthesize(t, tt.reply))
		})
	}
}

func TestSynthesizeAnswerInput(t *testing.T) {
	gw := newScriptedLLM().reply(answerSystemPrompt, `{"answer": "ok", "sources_used": [], "confidence_score": 50}`)
	engine := newTestEngine(gw, &fakeSearcher{})
	engine.Config.MaxSourceChars = 40

	sources := []URLContent{
		{URL: "https://a.example", Title: "A", Text: "<h2>Intro</h2><p>Hello <strong>world</strong></p>", ContentType: tools.ContentHTML},
		{URL: "https://broken.example", ContentType: tools.ContentHTML, Error: "unexpected status 500 Internal Server Error"},
		{URL: "file:///notes.txt", Title: "notes", Text: strings.Repeat("abcdefghij", 10), ContentType: tools.ContentText},
	}
	_, err := engine.SynthesizeAnswer(context.Background(), "Say hello", sources)
	require.NoError(t, err)

	calls := gw.callsFor(answerSystemPrompt)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].opts.JSONMode)
	input := calls[0].input
	assert.Contains(t, input, "Question: Say hello")
	assert.Contains(t, input, "[Source 1] https://a.example")
	assert.Contains(t, input, "**world**")
	assert.NotContains(t, input, "<strong>")
	assert.NotContains(t, input, "broken.example")
	assert.Contains(t, input, "[Source 2] file:///notes.txt")
	assert.Contains(t, input, strings.Repeat("abcdefghij", 4)+"\n[truncated]")
}

func TestSynthesizeAnswerWithoutSources(t *testing.T) {
	gw := newScriptedLLM().reply(answerSystemPrompt, `{"answer": "No sources were available.", "sources_used": [], "confidence_score": 5}`)
	engine := newTestEngine(gw, &fakeSearcher{})

	answer, err := engine.SynthesizeAnswer(context.Background(), "q", []URLContent{})
	require.NoError(t, err)
	assert.Equal(t, "No sources were available.", answer.Answer)
	assert.Contains(t, gw.callsFor(answerSystemPrompt)[0].input, "no sources could be retrieved")
}

func TestSynthesizeAnswerFailures(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		engine := newTestEngine(newScriptedLLM(), &fakeSearcher{})
		answer, err := engine.SynthesizeAnswer(context.Background(), "q", nil)
		require.NoError(t, err)
		assert.Equal(t, SentinelAnswer(), answer)
	})

	t.Run("unauthorized", func(t *testing.T) {
		gw := newScriptedLLM().fail(answerSystemPrompt, unauthorized())
		engine := newTestEngine(gw, &fakeSearcher{})
		answer, err := engine.SynthesizeAnswer(context.Background(), "q", nil)
		assert.ErrorIs(t, err, llm.ErrUnauthorized)
		assert.Equal(t, SentinelAnswer(), answer)
	})
}

func TestSynthesizeAnswerStream(t *testing.T) {
	reply := `{"answer": "streamed", "sources_used": [], "confidence_score": 10}`
	gw := newScriptedLLM().reply(answerSystemPrompt, reply)
	engine := newTestEngine(gw, &fakeSearcher{})

	out, err := collect(engine.SynthesizeAnswerStream(context.Background(), "q", nil))
	require.NoError(t, err)
	assert.Equal(t, reply, out)
}

func TestEvaluateAnswer(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  ResearchEvaluation
	}{
		{
			name:  "full evaluation",
			reply: `{"completeness_score": 80, "accuracy_score": 90, "relevance_score": 70, "overall_score": 82, "missing_aspects": ["cost"], "improvement_suggestions": ["add data"], "conflicting_aspects": [{"aspect": "range", "conflict": "lab vs road"}]}`,
			want: ResearchEvaluation{
				CompletenessScore: 80, AccuracyScore: 90, RelevanceScore: 70, OverallScore: 82,
				MissingAspects:         []string{"cost"},
				ImprovementSuggestions: []string{"add data"},
				ConflictingAspects:     []ConflictingAspect{{Aspect: "range", Conflict: "lab vs road"}},
			},
		},
		{
			name:  "overall derived and values coerced",
			reply: "```json\n{\"completeness_score\": \"60\", \"accuracy_score\": 130, \"relevance_score\": 40, \"conflicting_aspects\": [\"sources disagree on cost\"]}\n```",
			want: ResearchEvaluation{
				CompletenessScore: 60, AccuracyScore: 100, RelevanceScore: 40, OverallScore: 200.0 / 3,
				MissingAspects:         []string{},
				ImprovementSuggestions: []string{},
				ConflictingAspects:     []ConflictingAspect{{Aspect: "sources disagree on cost"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newScriptedLLM().reply(evaluateSystemPrompt, tt.reply)
			engine := newTestEngine(gw, &fakeSearcher{})

			analysis := EmptyAnalysis()
			analysis.KeyComponents = []string{"range", "cost"}
			ev, err := engine.EvaluateAnswer(context.Background(), "q", analysis, ResearchAnswer{Answer: "answer", SourcesUsed: []string{}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)

			input := gw.callsFor(evaluateSystemPrompt)[0].input
			assert.Contains(t, input, "Key components:\n- range\n- cost")
			assert.Contains(t, input, "Scope boundaries:\n- (none)")
		})
	}
}

func TestEvaluateAnswerFailures(t *testing.T) {
	for name, gw := range map[string]*scriptedLLM{
		"unparseable": newScriptedLLM().reply(evaluateSystemPrompt, "Looks good to me!"),
		"no scores":   newScriptedLLM().reply(evaluateSystemPrompt, `{"missing_aspects": ["x"]}`),
		"upstream":    newScriptedLLM(),
	} {
		t.Run(name, func(t *testing.T) {
			engine := newTestEngine(gw, &fakeSearcher{})
			ev, err := engine.EvaluateAnswer(context.Background(), "q", EmptyAnalysis(), SentinelAnswer())
			require.NoError(t, err)
			assert.Zero(t, ev.OverallScore)
			assert.Zero(t, ev.CompletenessScore)
			assert.Len(t, ev.MissingAspects, 1)
			assert.Len(t, ev.ImprovementSuggestions, 1)
			assert.Len(t, ev.ConflictingAspects, 1)
		})
	}

	gw := newScriptedLLM().fail(evaluateSystemPrompt, unauthorized())
	engine := newTestEngine(gw, &fakeSearcher{})
	_, err := engine.EvaluateAnswer(context.Background(), "q", EmptyAnalysis(), SentinelAnswer())
	assert.ErrorIs(t, err, llm.ErrUnauthorized)
}
