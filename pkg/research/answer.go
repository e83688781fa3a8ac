package research

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/mikeboe/research-agent/pkg/llm"
)

const sentinelAnswerText = "I apologize, but I was unable to generate an answer from the available sources. Please try again or rephrase your question."

// SentinelAnswer is returned whenever no usable answer could be produced.
func SentinelAnswer() ResearchAnswer {
	return ResearchAnswer{Answer: sentinelAnswerText, SourcesUsed: []string{}, ConfidenceScore: 0}
}

// SynthesizeAnswer writes a cited answer from every source without an
// error. Unrecoverable model output yields SentinelAnswer.
func (e *Engine) SynthesizeAnswer(ctx context.Context, question string, sources []URLContent) (ResearchAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return SentinelAnswer(), nil
	}
	input, used := e.answerInput(question, sources)
	e.Logger.Info("Synthesizing answer", "question", question, "sources", used, "skipped", len(sources)-used)

	out, err := e.complete(ctx, "synthesize_answer", answerSystemPrompt, input, llm.WithJSONMode())
	if err != nil {
		return SentinelAnswer(), fatal(err)
	}

	answer, err := parseAnswer(out)
	if err != nil {
		e.Logger.Warn("Could not recover answer from model output", "error", err)
		return SentinelAnswer(), nil
	}
	e.Logger.Info("Answer synthesized", "length", len(answer.Answer), "sources_used", len(answer.SourcesUsed),
		"confidence", answer.ConfidenceScore)
	return answer, nil
}

// SynthesizeAnswerStream yields the raw response to the same prompt as
// SynthesizeAnswer, for direct display.
func (e *Engine) SynthesizeAnswerStream(ctx context.Context, question string, sources []URLContent) iter.Seq2[string, error] {
	input, _ := e.answerInput(strings.TrimSpace(question), sources)
	return e.stream(ctx, "synthesize_answer_stream", answerSystemPrompt, input)
}

// answerInput embeds the successful sources as markdown, each truncated to
// Config.MaxSourceChars. It also returns how many sources were used.
func (e *Engine) answerInput(question string, sources []URLContent) (string, int) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", question)
	used := 0
	for _, s := range sources {
		if !s.OK() || strings.TrimSpace(s.Text) == "" {
			continue
		}
		used++
		fmt.Fprintf(&b, "\n[Source %d] %s\nTitle: %s\n%s\n", used, s.URL, s.Title, truncateRunes(s.Markdown(), e.Config.MaxSourceChars))
	}
	if used == 0 {
		b.WriteString("(no sources could be retrieved; say so and answer only what you can state with confidence)\n")
	}
	return b.String(), used
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n[truncated]"
}

// parseAnswer applies the repair ladder and validates the fields. When the
// JSON cannot be recovered, the answer text alone is salvaged if possible.
func parseAnswer(raw string) (ResearchAnswer, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		text, ok := salvageAnswer(raw)
		if !ok {
			return ResearchAnswer{}, err
		}
		return ResearchAnswer{Answer: text, SourcesUsed: []string{}, ConfidenceScore: 0}, nil
	}

	text, _ := obj["answer"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return ResearchAnswer{}, fmt.Errorf("%w: answer is missing or empty", ErrValidation)
	}
	confidence, _ := coerceScore(obj["confidence_score"])
	return ResearchAnswer{
		Answer:          text,
		SourcesUsed:     httpURLs(obj["sources_used"]),
		ConfidenceScore: confidence,
	}, nil
}

// EvaluateAnswer scores answer against the question's analysis. Failures
// yield an all-zero evaluation that explains what went wrong.
func (e *Engine) EvaluateAnswer(ctx context.Context, question string, analysis QuestionAnalysis, answer ResearchAnswer) (ResearchEvaluation, error) {
	e.Logger.Info("Evaluating answer", "question", question)

	out, err := e.complete(ctx, "evaluate_answer", evaluateSystemPrompt, evaluateInput(question, analysis, answer), llm.WithJSONMode())
	if err != nil {
		return failedEvaluation("the evaluation model could not be reached"), fatal(err)
	}

	evaluation, err := parseEvaluation(out)
	if err != nil {
		e.Logger.Warn("Could not parse evaluation", "error", err)
		return failedEvaluation("the evaluation response could not be parsed"), nil
	}
	e.Logger.Info("Evaluation complete", "overall_score", evaluation.OverallScore,
		"missing_aspects", len(evaluation.MissingAspects))
	return evaluation, nil
}

func failedEvaluation(reason string) ResearchEvaluation {
	return ResearchEvaluation{
		MissingAspects:         []string{"Evaluation unavailable: " + reason + "."},
		ImprovementSuggestions: []string{"Retry the evaluation once the answer and model are available."},
		ConflictingAspects:     []ConflictingAspect{{Aspect: "evaluation", Conflict: reason}},
	}
}

func parseEvaluation(raw string) (ResearchEvaluation, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return ResearchEvaluation{}, err
	}

	ev := ResearchEvaluation{
		MissingAspects:         stringList(obj["missing_aspects"]),
		ImprovementSuggestions: stringList(obj["improvement_suggestions"]),
		ConflictingAspects:     conflictList(obj["conflicting_aspects"]),
	}
	var found int
	for key, dst := range map[string]*float64{
		"completeness_score": &ev.CompletenessScore,
		"accuracy_score":     &ev.AccuracyScore,
		"relevance_score":    &ev.RelevanceScore,
	} {
		if v, ok := coerceScore(obj[key]); ok {
			*dst = v
			found++
		}
	}
	overall, ok := coerceScore(obj["overall_score"])
	if !ok {
		overall = (ev.CompletenessScore + ev.AccuracyScore + ev.RelevanceScore) / 3
	} else {
		found++
	}
	ev.OverallScore = overall

	if found == 0 {
		return ResearchEvaluation{}, fmt.Errorf("%w: evaluation carries no scores", ErrValidation)
	}
	return ev, nil
}

// conflictList accepts {aspect, conflict} objects or bare strings.
func conflictList(v any) []ConflictingAspect {
	out := []ConflictingAspect{}
	items, _ := v.([]any)
	for _, item := range items {
		switch c := item.(type) {
		case map[string]any:
			aspect, _ := c["aspect"].(string)
			conflict, _ := c["conflict"].(string)
			if strings.TrimSpace(aspect) == "" && strings.TrimSpace(conflict) == "" {
				continue
			}
			out = append(out, ConflictingAspect{Aspect: strings.TrimSpace(aspect), Conflict: strings.TrimSpace(conflict)})
		case string:
			if strings.TrimSpace(c) != "" {
				out = append(out, ConflictingAspect{Aspect: strings.TrimSpace(c)})
			}
		}
	}
	return out
}
