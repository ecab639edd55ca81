package memory

import (
	"regexp"
	"strings"

	"github.com/scrypster/twinrag/pkg/types"
)

// heuristicConfidence is assigned to every pattern match. It clears the
// finalize threshold.
const heuristicConfidence = 0.65

var sentenceRe = regexp.MustCompile(`[^.!?\n]+`)

// heuristicPatterns are tried in order; the first match classifies a sentence.
// Boundaries come before preferences so "I don't like to discuss salary"
// is not read as a preference.
var heuristicPatterns = []struct {
	typ types.MemoryType
	re  *regexp.Regexp
}{
	{types.MemoryTypeBoundary, regexp.MustCompile(`(?i)\bI (?:never|won't|will not|refuse to|don't want to|do not want to|don't like to) \w`)},
	{types.MemoryTypeConstraint, regexp.MustCompile(`(?i)\bI (?:can't|cannot|can only|only have|have to|must|am limited to)\b`)},
	{types.MemoryTypeIntent, regexp.MustCompile(`(?i)\bI(?:'m| am) (?:going|planning|about) to \w|\bI (?:will|plan to|intend to) \w`)},
	{types.MemoryTypeGoal, regexp.MustCompile(`(?i)\b(?:I(?: want| hope| aim| would like|'d like) to|my goal is|I dream of) \w`)},
	{types.MemoryTypePreference, regexp.MustCompile(`(?i)\bI (?:really )?(?:prefer|like|love|enjoy)\b`)},
}

// Heuristic extracts candidates from the owner's first-person statements.
// It is the single fallback for a failed or empty LLM extraction.
func Heuristic(turns []types.Turn) []types.MemoryCandidate {
	var out []types.MemoryCandidate
	seen := map[string]bool{}
	for _, t := range turns {
		if !isOwner(t) {
			continue
		}
		for _, sentence := range sentenceRe.FindAllString(t.Text, -1) {
			sentence = strings.TrimSpace(sentence)
			if len(strings.Fields(sentence)) < 3 {
				continue
			}
			for _, p := range heuristicPatterns {
				if !p.re.MatchString(sentence) {
					continue
				}
				key := strings.ToLower(sentence)
				if !seen[key] {
					seen[key] = true
					out = append(out, types.MemoryCandidate{
						Type:       p.typ,
						Content:    sentence,
						Confidence: heuristicConfidence,
					})
				}
				break
			}
		}
	}
	return out
}
