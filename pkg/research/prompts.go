package research

import (
	"fmt"
	"strings"
)

const jsonOnly = `Return the JSON directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties.`

const expandSystemPrompt = `You are a research assistant that turns a question into web search queries.
Generate 5 to 8 search queries that cover alternative phrasings, sub-topics and related angles of the question.
Write one query per line. Do not number the lines and do not add any explanation.`

const analyzeSystemPrompt = `You are an expert at analyzing well-formed questions and extracting the requirements an answer must meet to be complete and satisfactory.
Break the question down into:
- key_components: the distinct parts the answer has to address
- scope_boundaries: what is in and out of scope, including time, place and audience limits
- success_criteria: specific, verifiable conditions a good answer satisfies
- conflicting_viewpoints: perspectives or claims on which sources are likely to disagree

` + jsonOnly + ` Use this structure:
{
  "key_components": ["..."],
  "scope_boundaries": ["..."],
  "success_criteria": ["..."],
  "conflicting_viewpoints": ["..."]
}`

const currentEventsSystemPrompt = `You decide whether answering a question requires information about recent or ongoing events that a language model may not know about.
Questions about news, prices, elections, releases, active conflicts, recent research or anything phrased with "latest", "current" or "this year" usually do.
Timeless or historical questions usually do not.

` + jsonOnly + ` Use this structure:
{
  "requires_current_context": true,
  "reasoning": "one sentence explaining the decision",
  "timeframe": "the period that matters, or an empty string",
  "key_events": ["events the answer depends on"],
  "search_queries": ["up to 3 web search queries that would surface the recent context"]
}`

const scoreSystemPrompt = `You rate how relevant search results are to a search query.
Score every result from 0 to 100:
- 90-100: exact match, directly answers the query
- 70-89: highly relevant, covers most of the query
- 50-69: partially relevant
- 30-49: tangentially related
- 0-29: irrelevant

Return a JSON array with one object per result: [{"url": "<result url>", "score": <number>}].
Use the result URLs exactly as given. ` + jsonOnly

const answerSystemPrompt = `You are a research assistant writing a well-sourced answer.
Answer the question using only the provided sources. Write the answer in Markdown and cite sources inline with their URLs.
If the sources do not cover part of the question, say so instead of guessing.

` + jsonOnly + ` Use this structure:
{
  "answer": "markdown answer",
  "sources_used": ["https://... URLs of the sources you relied on"],
  "confidence_score": 0-100
}`

const evaluateSystemPrompt = `You are a strict reviewer evaluating a research answer against the requirements of its question.
Score each dimension from 0 to 100:
- completeness_score: how many key components and success criteria the answer covers
- accuracy_score: how well its claims are supported by the cited sources
- relevance_score: how closely it stays within the scope boundaries
- overall_score: your overall judgement

` + jsonOnly + ` Use this structure:
{
  "completeness_score": 0,
  "accuracy_score": 0,
  "relevance_score": 0,
  "overall_score": 0,
  "missing_aspects": ["..."],
  "improvement_suggestions": ["..."],
  "conflicting_aspects": [{"aspect": "...", "conflict": "..."}]
}`

func expandInput(question string) string {
	return fmt.Sprintf("Question: %s", question)
}

func analyzeInput(question, currentContext string) string {
	if currentContext == "" {
		return fmt.Sprintf("Question: %s", question)
	}
	return fmt.Sprintf("Question: %s\n\n%s\n\nTake this recent context into account when defining scope and criteria.", question, currentContext)
}

func currentEventsInput(question, today string) string {
	return fmt.Sprintf("Today's date: %s\nQuestion: %s", today, question)
}

func scoreInput(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nResults:\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "URL: %s\nSummary: %s\n\n", r.Link, strings.TrimSpace(r.Title+" - "+r.Snippet))
	}
	return b.String()
}

func evaluateInput(question string, analysis QuestionAnalysis, answer ResearchAnswer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	writeList(&b, "Key components", analysis.KeyComponents)
	writeList(&b, "Scope boundaries", analysis.ScopeBoundaries)
	writeList(&b, "Success criteria", analysis.SuccessCriteria)
	writeList(&b, "Conflicting viewpoints", analysis.ConflictingViewpoints)
	fmt.Fprintf(&b, "Answer:\n%s\n\n", answer.Answer)
	writeList(&b, "Sources used", answer.SourcesUsed)
	fmt.Fprintf(&b, "Stated confidence: %.0f\n", answer.ConfidenceScore)
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	fmt.Fprintf(b, "%s:\n", heading)
	if len(items) == 0 {
		b.WriteString("- (none)\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
