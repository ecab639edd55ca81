// Package ingest turns owner-supplied content into live, retrievable
// sources: extraction of plain text from files, URLs and transcripts,
// sentence-aware chunking, vector indexing and the source lifecycle.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/pkg/types"
)

var (
	// ErrUnsupportedFormat is returned for content types the extractor cannot read.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyContent is returned when extraction yields no text.
	ErrEmptyContent = errors.New("no extractable text")
)

// Input is raw content to extract. Which fields are used depends on Kind.
type Input struct {
	Kind        types.SourceKind `json:"kind"`
	Filename    string           `json:"filename,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Data        []byte           `json:"data,omitempty"`
	URL         string           `json:"url,omitempty"`
	Turns       []types.Turn     `json:"turns,omitempty"`
}

// Extraction is the sanitized text of an input plus metadata discovered on the way.
type Extraction struct {
	Text     string
	Title    string
	Metadata map[string]string
}

// ExtractorConfig configures URL fetching.
type ExtractorConfig struct {
	FetchTimeout time.Duration // default 15s
	MaxBytes     int64         // default 20 MiB
	UserAgent    string
}

// Extractor converts Inputs into plain text.
type Extractor struct {
	cfg    ExtractorConfig
	client *http.Client
}

// NewExtractor creates an extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "twinrag/1.0"
	}
	return &Extractor{cfg: cfg, client: &http.Client{Timeout: cfg.FetchTimeout}}
}

// Extract returns the sanitized text of in. Unsupported formats and empty
// results are terminal failures; fetch timeouts, 429 and 5xx are transient.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Extraction, error) {
	var (
		ex  *Extraction
		err error
	)
	switch in.Kind {
	case types.SourceKindFile:
		ex, err = e.extractFile(in.Filename, in.ContentType, in.Data)
	case types.SourceKindURL:
		ex, err = e.extractURL(ctx, in.URL)
	case types.SourceKindTranscript:
		ex = extractTranscript(in.Turns)
	default:
		return nil, failure.New(failure.Terminal, "extract", fmt.Errorf("%w: source kind %q", ErrUnsupportedFormat, in.Kind))
	}
	if err != nil {
		return nil, err
	}

	ex.Text = Sanitize(ex.Text)
	ex.Title = strings.TrimSpace(Sanitize(ex.Title))
	if ex.Text == "" {
		return nil, failure.New(failure.Terminal, "extract", ErrEmptyContent)
	}
	return ex, nil
}

type format string

const (
	formatText     format = "text"
	formatMarkdown format = "markdown"
	formatHTML     format = "html"
	formatPDF      format = "pdf"
)

// detectFormat resolves the format from the content type, then the file
// extension, then by sniffing the data.
func detectFormat(filename, contentType string, data []byte) (format, error) {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "text/plain":
				// Browsers upload .md files as text/plain; let the extension decide.
				if f, ok := formatByExtension(filename); ok {
					return f, nil
				}
				return formatText, nil
			case "text/markdown", "text/x-markdown":
				return formatMarkdown, nil
			case "text/html", "application/xhtml+xml":
				return formatHTML, nil
			case "application/pdf":
				return formatPDF, nil
			case "application/octet-stream", "":
			default:
				if f, ok := formatByExtension(filename); ok {
					return f, nil
				}
				return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt)
			}
		}
	}

	if f, ok := formatByExtension(filename); ok {
		return f, nil
	}
	if filepath.Ext(filename) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return formatPDF, nil
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	switch sniffed {
	case "text/html":
		return formatHTML, nil
	case "text/plain":
		return formatText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, sniffed)
}

func formatByExtension(filename string) (format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text", ".log", ".csv":
		return formatText, true
	case ".md", ".markdown":
		return formatMarkdown, true
	case ".html", ".htm":
		return formatHTML, true
	case ".pdf":
		return formatPDF, true
	}
	return "", false
}

func (e *Extractor) extractFile(filename, contentType string, data []byte) (*Extraction, error) {
	if len(data) == 0 {
		return nil, failure.New(failure.Terminal, "extract", ErrEmptyContent)
	}
	f, err := detectFormat(filename, contentType, data)
	if err != nil {
		return nil, failure.New(failure.Terminal, "extract", err)
	}

	ex := &Extraction{Metadata: map[string]string{"format": string(f)}}
	if filename != "" {
		ex.Metadata["filename"] = filename
	}

	switch f {
	case formatText:
		ex.Text = string(data)
	case formatMarkdown:
		doc, err := parseMarkdown(string(data))
		if err != nil {
			return nil, failure.New(failure.Terminal, "extract", err)
		}
		ex.Text, ex.Title = doc.Body, doc.Title
		for k, v := range doc.Metadata {
			ex.Metadata[k] = v
		}
	case formatHTML:
		text, title, err := htmlToText(bytes.NewReader(data))
		if err != nil {
			return nil, failure.New(failure.Terminal, "extract", fmt.Errorf("invalid html: %w", err))
		}
		ex.Text, ex.Title = text, title
	case formatPDF:
		text, pages, err := pdfToText(data)
		if err != nil {
			return nil, failure.New(failure.Terminal, "extract", err)
		}
		ex.Text = text
		ex.Metadata["pages"] = strconv.Itoa(pages)
	}

	if ex.Title == "" && filename != "" {
		ex.Title = titleFromFilename(filename)
	}
	return ex, nil
}

// pdfToText reads the plain text layer of a PDF. The parser panics on some
// malformed files, so panics are converted to errors.
func pdfToText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("invalid pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", 0, fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), r.NumPage(), nil
}

func (e *Extractor) extractURL(ctx context.Context, rawURL string) (*Extraction, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, failure.Terminalf("fetch", "invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.New(failure.Terminal, "fetch", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are classified by failure.ClassOf.
		return nil, failure.New(failure.ClassOf(err), "fetch", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, failure.Transientf("fetch", "%s returned status %d", u.Host, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, failure.Terminalf("fetch", "%s returned status %d", u.Host, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBytes+1))
	if err != nil {
		return nil, failure.New(failure.ClassOf(err), "fetch", err)
	}
	if int64(len(data)) > e.cfg.MaxBytes {
		return nil, failure.Terminalf("fetch", "document exceeds %d bytes", e.cfg.MaxBytes)
	}

	filename := path.Base(u.Path)
	if filename == "/" || filename == "." {
		filename = ""
	}
	ex, err := e.extractFile(filename, resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, err
	}
	ex.Metadata["url"] = u.String()
	if ex.Title == "" {
		ex.Title = u.Host + u.Path
	}
	return ex, nil
}

// extractTranscript renders turns as "role: text" lines.
func extractTranscript(turns []types.Turn) *Extraction {
	var b strings.Builder
	n := 0
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := strings.TrimSpace(t.Role)
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, text)
		n++
	}
	return &Extraction{
		Text:     b.String(),
		Metadata: map[string]string{"format": "transcript", "turns": strconv.Itoa(n)},
	}
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	t := strings.TrimSuffix(base, filepath.Ext(base))
	t = strings.NewReplacer("-", " ", "_", " ").Replace(t)
	return strings.TrimSpace(t)
}

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRe      = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalizes text to NFC, removes NUL and other control characters
// (newlines and tabs excepted), collapses runs of spaces, trims lines and
// limits blank lines to one.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r == unicode.ReplacementChar, unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	s = horizontalSpaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
