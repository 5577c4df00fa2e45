package builtin

import (
	"strings"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// Lexical helpers shared by the built-in judges. All checks are plain
// string scans; the same text always yields the same counts.

// countMarkers counts case-insensitive occurrences of any marker in s.
func countMarkers(s string, markers ...string) int {
	lower := strings.ToLower(s)
	total := 0
	for _, m := range markers {
		total += strings.Count(lower, strings.ToLower(m))
	}
	return total
}

// fenceBalanced reports whether every code fence opened in s is closed.
func fenceBalanced(s string) bool {
	return strings.Count(s, "```")%2 == 0
}

// unresolvedTemplateCount counts template expressions left unexpanded.
func unresolvedTemplateCount(s string) int {
	return strings.Count(s, "{{")
}

func longLineCount(s string, width int) int {
	count := 0
	for _, line := range strings.Split(s, "\n") {
		if len(line) > width {
			count++
		}
	}
	return count
}

// headingJumps counts markdown heading transitions that skip a level,
// such as an h2 followed directly by an h4.
func headingJumps(s string) int {
	prev := 0
	jumps := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level >= len(trimmed) || trimmed[level] != ' ' {
			continue
		}
		if prev > 0 && level > prev+1 {
			jumps++
		}
		prev = level
	}
	return jumps
}

// bareImageCount counts markdown images with empty alt text.
func bareImageCount(s string) int {
	return strings.Count(s, "![](")
}

// denseParagraphCount counts paragraphs longer than limit bytes.
func denseParagraphCount(s string, limit int) int {
	count := 0
	for _, para := range strings.Split(s, "\n\n") {
		if len(strings.TrimSpace(para)) > limit {
			count++
		}
	}
	return count
}

// meanSentenceWords returns the mean word count per sentence, 0 for
// empty text.
func meanSentenceWords(s string) float64 {
	sentences := 0
	words := 0
	for _, sentence := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		n := len(strings.Fields(sentence))
		if n == 0 {
			continue
		}
		sentences++
		words += n
	}
	if sentences == 0 {
		return 0
	}
	return float64(words) / float64(sentences)
}

// tokens returns the lowercase word set of s, skipping glue words
// shorter than four characters.
func tokens(s string) map[string]bool {
	set := map[string]bool{}
	for _, word := range strings.Fields(strings.ToLower(s)) {
		clean := strings.Trim(word, ".,;:!?()[]{}\"'`*#_-")
		if len(clean) >= 4 {
			set[clean] = true
		}
	}
	return set
}

// coverage reports the share of an objective's tokens present in the
// body token set.
func coverage(objective string, body map[string]bool) float64 {
	objTokens := tokens(objective)
	if len(objTokens) == 0 {
		return 1
	}
	hit := 0
	for tok := range objTokens {
		if body[tok] {
			hit++
		}
	}
	return float64(hit) / float64(len(objTokens))
}

// artifactText joins every facet's text in facet-name order.
func artifactText(a *contracts.ContentArtifact) string {
	var sb strings.Builder
	for _, name := range a.FacetNames() {
		sb.WriteString(evaluator.FacetText(a.Facets[name]))
		sb.WriteString("\n")
	}
	return sb.String()
}

// scoreFromIssues converts collected issues to a dimension score: each
// issue costs a quarter of its severity.
func scoreFromIssues(issues []contracts.Issue) float64 {
	penalty := 0.0
	for _, issue := range issues {
		penalty += issue.Severity * 0.25
	}
	return clamp01(1 - penalty)
}

// confidenceFor scales a deterministic judge's confidence by how much
// evidence it saw. Lexical checks over near-empty text prove little.
func confidenceFor(textLen int) float64 {
	switch {
	case textLen == 0:
		return 0.1
	case textLen < 80:
		return 0.5
	case textLen < 400:
		return 0.75
	default:
		return 0.9
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
