package agent

import (
	"github.com/54b3r/routerag-go/internal/tokens"
)

// Unsupported returns the distinct content words of answer that appear in
// none of sources, in order of first use.
func Unsupported(answer string, sources ...string) []string {
	known := make(map[string]struct{})
	for _, s := range sources {
		for w := range tokens.Set(s) {
			known[w] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, w := range tokens.Content(answer) {
		if _, ok := known[w]; ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// exceedsTolerance reports whether answer strays too far from its sources.
// Any unsupported number or name rejects it outright. Otherwise the
// unsupported words must make up no more than tolerance of answer's
// distinct content words; two or fewer are accepted as rephrasing.
func exceedsTolerance(unsupported []string, answer string, tolerance float64) bool {
	salient := tokens.Salient(answer)
	for _, w := range unsupported {
		if _, ok := salient[w]; ok {
			return true
		}
	}
	if len(unsupported) <= 2 {
		return false
	}
	total := len(tokens.Set(answer))
	if total == 0 {
		return false
	}
	return float64(len(unsupported))/float64(total) > tolerance
}
