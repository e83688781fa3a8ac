package research

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Best-effort repairs for model output that should have been JSON. Each
// helper handles one failure mode seen in practice.

var (
	fencePattern         = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \\t]*\\n?(.*?)```")
	openFencePattern     = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \\t]*\\n?")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// An array that runs into the next key or the end of the text.
	unterminatedSourcesPattern = regexp.MustCompile(`(?s)("sources_used"\s*:\s*)\[[^\]]*?(,\s*"[A-Za-z_]+"\s*:|\s*\}\s*$|\s*$)`)
	answerFieldPattern         = regexp.MustCompile(`(?s)"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// stripFences returns the body of the first fenced block, or the text with
// an unclosed opening fence removed. Bare JSON is returned untouched since
// answers may carry fences of their own inside strings.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		return strings.TrimSpace(openFencePattern.ReplaceAllString(s, ""))
	}
	return s
}

func dropTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// repairSourcesArray replaces an unterminated sources_used array with [].
func repairSourcesArray(s string) string {
	return unterminatedSourcesPattern.ReplaceAllString(s, "${1}[]${2}")
}

// extractObject trims anything around the outermost JSON object. A missing
// final brace is tolerated; closeObject adds it back.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// extractArray is extractObject for a top-level JSON array.
func extractArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// closeObject appends the braces a truncated object is missing.
func closeObject(s string) string {
	depth := 0
	inString, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			depth++
		case r == '}':
			depth--
		}
	}
	if inString || depth <= 0 {
		return s
	}
	return s + strings.Repeat("}", depth)
}

// decodeObject runs the repair ladder until the text decodes as an object.
func decodeObject(raw string) (map[string]any, error) {
	candidate := extractObject(stripFences(raw))
	attempts := []func(string) string{
		func(s string) string { return s },
		dropTrailingCommas,
		func(s string) string { return closeObject(repairSourcesArray(dropTrailingCommas(s))) },
	}

	var lastErr error
	for _, fix := range attempts {
		var obj map[string]any
		if err := json.Unmarshal([]byte(fix(candidate)), &obj); err != nil {
			lastErr = err
			continue
		}
		if obj == nil {
			lastErr = fmt.Errorf("top-level value is not an object")
			continue
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, lastErr)
}

// salvageAnswer pulls just the answer string out of otherwise broken JSON.
func salvageAnswer(raw string) (string, bool) {
	m := answerFieldPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	var answer string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &answer); err != nil {
		return "", false
	}
	answer = strings.TrimSpace(answer)
	return answer, answer != ""
}

// coerceScore accepts numbers and numeric strings ("85", "85%") and clamps
// them into [0, 100].
func coerceScore(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return clampScore(f), true
}

func clampScore(f float64) float64 {
	return math.Max(0, math.Min(100, f))
}

// stringList keeps the non-blank strings of a decoded JSON array.
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		if s, isString := v.(string); isString && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
		return out
	}
	for _, item := range items {
		if s, isString := item.(string); isString && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// httpURLs keeps unique absolute http(s) URLs.
func httpURLs(v any) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range stringList(v) {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
