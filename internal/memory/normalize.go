package memory

import (
	"strings"
	"unicode"

	"github.com/scrypster/twinrag/pkg/types"
)

// maxAckWords is the longest turn that can still count as an acknowledgement.
const maxAckWords = 3

var fillerWords = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true, "er": true, "erm": true,
	"hmm": true, "hm": true, "mm": true, "mhm": true, "ah": true, "oh": true,
	"like": true, "so": true, "well": true, "anyway": true,
}

var ackWords = map[string]bool{
	"ok": true, "okay": true, "yes": true, "yeah": true, "yep": true, "yup": true,
	"sure": true, "right": true, "cool": true, "great": true, "thanks": true,
	"thank": true, "you": true, "got": true, "it": true, "alright": true,
	"nice": true, "exactly": true, "no": true, "nope": true, "correct": true,
}

// Normalize prepares a transcript for extraction. Turns made only of filler
// words, and short turns made only of acknowledgements, are dropped. Adjacent
// turns of the same role are merged, since real-time transcription splits one
// utterance into several fragments.
func Normalize(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	for _, t := range turns {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		text := strings.Join(strings.Fields(t.Text), " ")
		if text == "" || isFiller(text) || isAcknowledgement(text) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Text += " " + text
			continue
		}
		out = append(out, types.Turn{Role: role, Text: text})
	}
	return out
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func isFiller(text string) bool {
	for _, w := range words(text) {
		if !fillerWords[w] {
			return false
		}
	}
	return true
}

func isAcknowledgement(text string) bool {
	ws := words(text)
	if len(ws) > maxAckWords {
		return false
	}
	for _, w := range ws {
		if !ackWords[w] && !fillerWords[w] {
			return false
		}
	}
	return true
}

// isOwner reports whether a turn was spoken by the twin owner.
func isOwner(t types.Turn) bool {
	return t.Role == "user" || t.Role == "owner"
}

// renderTranscript writes turns as "role: text" lines.
func renderTranscript(turns []types.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
