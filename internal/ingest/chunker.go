package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/pkg/types"
)

// ChunkerConfig sizes chunks in characters (runes).
type ChunkerConfig struct {
	MaxSize int // default 1200
	Overlap int // default 200, negative disables, clamped below MaxSize
	MinSize int // default 80
}

// Chunker splits text on sentence boundaries into overlapping windows.
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker creates a chunker, filling zero fields with defaults.
func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1200
	}
	switch {
	case cfg.Overlap == 0:
		cfg.Overlap = 200
	case cfg.Overlap < 0:
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.MaxSize {
		cfg.Overlap = cfg.MaxSize / 6
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 80
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkerConfig { return c.cfg }

// Split returns the chunk texts of text in order, none longer than MaxSize.
// A trailing segment shorter than MinSize is merged into its predecessor, or
// rebalanced against it when the merge would not fit; a lone segment shorter
// than MinSize is dropped. Exact duplicate segments are removed.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		segments []string
		cur      strings.Builder
		curLen   int
		pending  bool // cur holds text beyond the carried overlap
	)
	emit := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		curLen = 0
		pending = false
		if s == "" {
			return
		}
		segments = append(segments, s)
		if tail := overlapTail(s, c.cfg.Overlap); tail != "" {
			cur.WriteString(tail)
			curLen = utf8.RuneCountInString(tail)
		}
	}

	for _, sentence := range c.sentences(text) {
		n := utf8.RuneCountInString(sentence)
		if curLen > 0 && curLen+1+n > c.cfg.MaxSize {
			emit()
			// The overlap alone plus this sentence may still not fit.
			if curLen > 0 && curLen+1+n > c.cfg.MaxSize {
				cur.Reset()
				curLen = 0
			}
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sentence)
		curLen += n
		pending = true
	}
	if pending {
		emit()
	}

	return c.finalize(segments)
}

// finalize applies the minimum size rules and removes duplicates.
func (c *Chunker) finalize(segments []string) []string {
	if len(segments) == 1 && utf8.RuneCountInString(segments[0]) < c.cfg.MinSize {
		return nil
	}
	if n := len(segments); n > 1 && utf8.RuneCountInString(segments[n-1]) < c.cfg.MinSize {
		segments = append(segments[:n-2], c.mergeTail(segments[n-2], segments[n-1])...)
	}

	seen := make(map[string]bool, len(segments))
	out := segments[:0]
	for _, s := range segments {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// mergeTail folds a short final segment into prev. The overlap carried into
// last is dropped first. When the merged text exceeds MaxSize the cut moves
// left until the tail holds at least MinSize runes, so no chunk grows past
// MaxSize.
func (c *Chunker) mergeTail(prev, last string) []string {
	if tail := overlapTail(prev, c.cfg.Overlap); tail != "" && strings.HasPrefix(last, tail) {
		last = strings.TrimSpace(last[len(tail):])
	}
	if last == "" {
		return []string{prev}
	}
	merged := prev + " " + last
	if utf8.RuneCountInString(merged) <= c.cfg.MaxSize {
		return []string{merged}
	}

	end := len(prev)
	for end > 0 {
		i := strings.LastIndexFunc(merged[:end], unicode.IsSpace)
		if i <= 0 {
			break
		}
		head := strings.TrimSpace(merged[:i])
		rest := strings.TrimSpace(merged[i:])
		if utf8.RuneCountInString(rest) >= c.cfg.MinSize {
			if utf8.RuneCountInString(rest) > c.cfg.MaxSize || head == "" {
				break
			}
			if ov := overlapTail(head, c.cfg.Overlap); ov != "" &&
				utf8.RuneCountInString(ov)+1+utf8.RuneCountInString(rest) <= c.cfg.MaxSize {
				rest = ov + " " + rest
			}
			return []string{head, rest}
		}
		end = i
	}
	return hardSplit(merged, c.cfg.MaxSize)
}

// sentences splits text into sentences no longer than MaxSize. Paragraph
// breaks always end a sentence; oversized sentences are cut at word boundaries.
func (c *Chunker) sentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		for _, s := range splitSentences(para) {
			out = append(out, hardSplit(s, c.cfg.MaxSize)...)
		}
	}
	return out
}

// splitSentences breaks text after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, collapseSpace(s))
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, collapseSpace(s))
		}
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// hardSplit cuts s into pieces of at most max runes, preferring the last
// space before the limit.
func hardSplit(s string, max int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var out []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// overlapTail returns roughly the last n runes of s, starting on a word boundary.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return ""
	}
	tail := runes[len(runes)-n:]
	for i, r := range tail {
		if unicode.IsSpace(r) {
			return strings.TrimSpace(string(tail[i:]))
		}
	}
	return strings.TrimSpace(string(tail))
}

// chunkNamespace scopes chunk UUIDs.
var chunkNamespace = uuid.MustParse("6f1c2a8e-3b4d-5e6f-8a9b-0c1d2e3f4a5b")

// ChunkID derives a deterministic chunk id from the source id, sequence and
// text, so replaying the same content yields the same ids.
func ChunkID(sourceID string, seq int, text string) string {
	sum := sha256.Sum256([]byte(text))
	name := sourceID + ":" + strconv.Itoa(seq) + ":" + hex.EncodeToString(sum[:])
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// BuildChunks turns chunk texts into Chunk rows numbered 0..n-1.
func BuildChunks(src *types.Source, texts []string) []*types.Chunk {
	chunks := make([]*types.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &types.Chunk{
			ID:       ChunkID(src.ID, i, t),
			SourceID: src.ID,
			TwinID:   src.TwinID,
			Seq:      i,
			Text:     t,
		}
	}
	return chunks
}
