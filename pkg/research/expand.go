package research

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/mikeboe/research-agent/pkg/llm"
)

const currentEventsFallbackReasoning = "Unable to determine current events context; proceeding without it."

var (
	bulletPattern   = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)])\s+`)
	numberedPattern = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	itemPattern     = regexp.MustCompile(`(?s)<item>(.*?)</item>`)
)

// Expand turns a question into related search queries, one per line of
// the model's reply. Provider failures yield an empty list.
func (e *Engine) Expand(ctx context.Context, question string) ([]string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return []string{}, nil
	}
	e.Logger.Info("Expanding question", "question", question)

	out, err := e.complete(ctx, "expand", expandSystemPrompt, expandInput(question))
	if err != nil {
		return []string{}, fatal(err)
	}

	queries := parseQueryList(out)
	e.Logger.Info("Generated queries", "count", len(queries), "queries", queries)
	return queries, nil
}

// ExpandStream yields the raw expansion text as it arrives.
func (e *Engine) ExpandStream(ctx context.Context, question string) iter.Seq2[string, error] {
	return e.stream(ctx, "expand_stream", expandSystemPrompt, expandInput(strings.TrimSpace(question)))
}

func parseQueryList(text string) []string {
	queries := []string{}
	seen := make(map[string]bool)
	for _, line := range strings.Split(stripFences(text), "\n") {
		q := cleanItem(line)
		if q == "" || strings.HasSuffix(q, ":") {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
	}
	return queries
}

// cleanItem strips list markers, emphasis and wrapping quotes from a line.
func cleanItem(line string) string {
	s := bulletPattern.ReplaceAllString(strings.TrimSpace(line), "")
	s = strings.TrimSpace(strings.Trim(s, "*_"))
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
		if len(s) >= 2 && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}

// AnalyzeScope breaks the question into components, boundaries, criteria
// and likely conflicts. Unusable output yields four empty lists.
func (e *Engine) AnalyzeScope(ctx context.Context, question string) (QuestionAnalysis, error) {
	return e.AnalyzeScopeWithContext(ctx, question, "")
}

// AnalyzeScopeWithContext is AnalyzeScope with a block of recent context
// added to the prompt.
func (e *Engine) AnalyzeScopeWithContext(ctx context.Context, question, currentContext string) (QuestionAnalysis, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return EmptyAnalysis(), nil
	}
	e.Logger.Info("Analyzing question", "question", question, "with_context", currentContext != "")

	out, err := e.complete(ctx, "analyze_scope", analyzeSystemPrompt, analyzeInput(question, currentContext))
	if err != nil {
		return EmptyAnalysis(), fatal(err)
	}

	analysis, ok := parseAnalysis(out)
	if !ok {
		e.Logger.Warn("Unrecognized analysis output, returning empty analysis",
			"error", fmt.Errorf("%w: no known analysis shape", ErrMalformedOutput))
		return EmptyAnalysis(), nil
	}
	e.Logger.Info("Analysis complete",
		"key_components", len(analysis.KeyComponents),
		"scope_boundaries", len(analysis.ScopeBoundaries),
		"success_criteria", len(analysis.SuccessCriteria),
		"conflicting_viewpoints", len(analysis.ConflictingViewpoints))
	return analysis, nil
}

// AnalyzeScopeStream yields the raw analysis text as it arrives.
func (e *Engine) AnalyzeScopeStream(ctx context.Context, question string) iter.Seq2[string, error] {
	return e.stream(ctx, "analyze_scope_stream", analyzeSystemPrompt, analyzeInput(strings.TrimSpace(question), ""))
}

type analysisField int

const (
	fieldNone analysisField = iota
	fieldKeyComponents
	fieldScopeBoundaries
	fieldSuccessCriteria
	fieldConflictingViewpoints
)

var analysisKeys = map[string]analysisField{
	"key_components":           fieldKeyComponents,
	"components":               fieldKeyComponents,
	"scope_boundaries":         fieldScopeBoundaries,
	"scope":                    fieldScopeBoundaries,
	"boundaries":               fieldScopeBoundaries,
	"success_criteria":         fieldSuccessCriteria,
	"criteria":                 fieldSuccessCriteria,
	"conflicting_viewpoints":   fieldConflictingViewpoints,
	"conflicting_perspectives": fieldConflictingViewpoints,
	"viewpoints":               fieldConflictingViewpoints,
}

// analysisKeyOrder is the lookup priority for JSON keys: canonical names
// first, then aliases. The first present key fills its field.
var analysisKeyOrder = []string{
	"key_components", "scope_boundaries", "success_criteria", "conflicting_viewpoints",
	"components", "scope", "boundaries", "criteria", "conflicting_perspectives", "viewpoints",
}

var analysisTags = []string{"key_components", "scope_boundaries", "success_criteria", "conflicting_viewpoints"}

var tagPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(analysisTags))
	for _, tag := range analysisTags {
		patterns[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
	return patterns
}()

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

func (a *QuestionAnalysis) list(f analysisField) *[]string {
	switch f {
	case fieldKeyComponents:
		return &a.KeyComponents
	case fieldScopeBoundaries:
		return &a.ScopeBoundaries
	case fieldSuccessCriteria:
		return &a.SuccessCriteria
	case fieldConflictingViewpoints:
		return &a.ConflictingViewpoints
	}
	return nil
}

// parseAnalysis accepts a JSON object, tagged sections or headed bullet
// lists. ok is false when none of those shapes is present.
func parseAnalysis(raw string) (QuestionAnalysis, bool) {
	if a, ok := parseAnalysisJSON(raw); ok {
		return a, true
	}
	if a, ok := parseAnalysisTags(raw); ok {
		return a, true
	}
	return parseAnalysisProse(raw)
}

func parseAnalysisJSON(raw string) (QuestionAnalysis, bool) {
	body := stripFences(raw)
	if !strings.Contains(body, "{") {
		return QuestionAnalysis{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(dropTrailingCommas(extractObject(body))), &obj); err != nil {
		return QuestionAnalysis{}, false
	}

	// Keys that normalize alike resolve by sorted raw key.
	normalized := make(map[string]any, len(obj))
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		nk := normalizeKey(key)
		if _, dup := normalized[nk]; !dup {
			normalized[nk] = obj[key]
		}
	}

	a := EmptyAnalysis()
	filled := make(map[analysisField]bool)
	for _, key := range analysisKeyOrder {
		value, ok := normalized[key]
		field := analysisKeys[key]
		if !ok || filled[field] {
			continue
		}
		*a.list(field) = stringList(value)
		filled[field] = true
	}
	return a, len(filled) > 0
}

func parseAnalysisTags(raw string) (QuestionAnalysis, bool) {
	a := EmptyAnalysis()
	found := false
	for _, tag := range analysisTags {
		section := tagPatterns[tag].FindStringSubmatch(raw)
		if section == nil {
			continue
		}
		found = true
		items := []string{}
		if matches := itemPattern.FindAllStringSubmatch(section[1], -1); len(matches) > 0 {
			for _, m := range matches {
				if item := strings.TrimSpace(m[1]); item != "" {
					items = append(items, item)
				}
			}
		} else {
			for _, line := range strings.Split(section[1], "\n") {
				if item := cleanItem(line); item != "" {
					items = append(items, item)
				}
			}
		}
		*a.list(analysisKeys[tag]) = items
	}
	return a, found
}

func parseAnalysisProse(raw string) (QuestionAnalysis, bool) {
	a := EmptyAnalysis()
	current := fieldNone
	found := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if field, isHeading := proseHeading(trimmed); isHeading {
			current = field
			continue
		}
		if current == fieldNone || !bulletPattern.MatchString(trimmed) {
			continue
		}
		if item := cleanItem(trimmed); item != "" {
			list := a.list(current)
			*list = append(*list, item)
			found = true
		}
	}
	return a, found
}

// proseHeading recognizes "## Key Components", "**Scope Boundaries**" and
// "Success Criteria:" style headings. Other markdown headings end the
// current section.
func proseHeading(line string) (analysisField, bool) {
	isBullet := bulletPattern.MatchString(line) && !numberedPattern.MatchString(line)
	marked := strings.HasPrefix(line, "#") || strings.HasPrefix(line, "**") ||
		strings.HasSuffix(line, ":") || strings.HasSuffix(line, ":**")
	if isBullet || !marked {
		return fieldNone, false
	}

	text := strings.Trim(bulletPattern.ReplaceAllString(line, ""), "#*_: ")
	if field, ok := analysisKeys[normalizeKey(text)]; ok {
		return field, true
	}
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "**") {
		return fieldNone, true
	}
	return fieldNone, false
}

// CheckCurrentEvents asks whether the question needs recent context.
// Failures yield a negative decision with an explanatory reasoning string.
func (e *Engine) CheckCurrentEvents(ctx context.Context, question string) (CurrentEventsCheck, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return defaultCurrentEvents(), nil
	}

	today := e.now().Format("2006-01-02")
	out, err := e.complete(ctx, "check_current_events", currentEventsSystemPrompt, currentEventsInput(question, today), llm.WithJSONMode())
	if err != nil {
		return defaultCurrentEvents(), fatal(err)
	}

	check, err := parseCurrentEvents(out)
	if err != nil {
		e.Logger.Warn("Could not parse current events check", "error", err)
		return defaultCurrentEvents(), nil
	}
	e.Logger.Info("Current events check", "requires_current_context", check.RequiresCurrentContext,
		"timeframe", check.Timeframe, "queries", len(check.SearchQueries))
	return check, nil
}

func defaultCurrentEvents() CurrentEventsCheck {
	return CurrentEventsCheck{
		Reasoning:     currentEventsFallbackReasoning,
		KeyEvents:     []string{},
		SearchQueries: []string{},
	}
}

func parseCurrentEvents(raw string) (CurrentEventsCheck, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return CurrentEventsCheck{}, err
	}
	required, ok := coerceBool(obj["requires_current_context"])
	if !ok {
		return CurrentEventsCheck{}, fmt.Errorf("%w: requires_current_context is missing or not a boolean", ErrValidation)
	}

	check := CurrentEventsCheck{
		RequiresCurrentContext: required,
		KeyEvents:              stringList(obj["key_events"]),
		SearchQueries:          stringList(obj["search_queries"]),
	}
	check.Reasoning, _ = obj["reasoning"].(string)
	check.Timeframe, _ = obj["timeframe"].(string)
	if strings.TrimSpace(check.Reasoning) == "" {
		check.Reasoning = "No reasoning provided."
	}
	return check, nil
}

func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// GatherCurrentContext searches the check's queries and renders the top
// hits as a dated context block. It returns "" when no context is needed.
func (e *Engine) GatherCurrentContext(ctx context.Context, check CurrentEventsCheck) (string, error) {
	if !check.RequiresCurrentContext || len(check.SearchQueries) == 0 {
		return "", nil
	}
	queries := check.SearchQueries
	if len(queries) > e.Config.MaxContextQueries {
		queries = queries[:e.Config.MaxContextQueries]
	}

	results, err := e.ExecuteQueries(ctx, queries)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		e.Logger.Warn("No current context found", "queries", queries)
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent context (retrieved %s", e.now().Format("2006-01-02"))
	if check.Timeframe != "" {
		fmt.Fprintf(&b, ", timeframe: %s", check.Timeframe)
	}
	b.WriteString("):\n")
	for _, r := range results[:min(5, len(results))] {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.Link, strings.TrimSpace(r.Snippet))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// AnalyzeQuestion is the gated analysis flow: check current events, gather
// context only when required, then analyze with that context.
func (e *Engine) AnalyzeQuestion(ctx context.Context, question string) (QuestionAnalysis, CurrentEventsCheck, error) {
	check, err := e.CheckCurrentEvents(ctx, question)
	if err != nil {
		return EmptyAnalysis(), check, err
	}
	currentContext, err := e.GatherCurrentContext(ctx, check)
	if err != nil {
		return EmptyAnalysis(), check, err
	}
	analysis, err := e.AnalyzeScopeWithContext(ctx, question, currentContext)
	return analysis, check, err
}
