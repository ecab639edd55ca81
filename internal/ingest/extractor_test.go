package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/pkg/types"
)

func TestExtract_PlainText(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	ex, err := e.Extract(context.Background(), Input{
		Kind:     types.SourceKindFile,
		Filename: "notes.txt",
		Data:     []byte("Line one.\x00\r\n\r\n\r\n\r\nLine   two.\t\t"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Line one.\n\nLine two.", ex.Text)
	assert.Equal(t, "notes", ex.Title)
	assert.Equal(t, "text", ex.Metadata["format"])
}

func TestExtract_MarkdownFrontmatter(t *testing.T) {
	doc := `---
title: Sourdough Guide
tags: [baking, bread]
date: 2024-03-01
author: Sam
---
# Ignored heading

Feed the starter daily. See [[Starter Care|starter notes]] and [[Flour]]. #fermentation
`
	ex, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), Input{
		Kind:     types.SourceKindFile,
		Filename: "guide.md",
		Data:     []byte(doc),
	})
	require.NoError(t, err)

	assert.Equal(t, "Sourdough Guide", ex.Title)
	assert.Equal(t, "baking,bread,fermentation", ex.Metadata["tags"])
	assert.Equal(t, "Starter Care,Flour", ex.Metadata["links"])
	assert.Equal(t, "Sam", ex.Metadata["author"])
	assert.Equal(t, "2024-03-01T00:00:00Z", ex.Metadata["date"])
	assert.Contains(t, ex.Text, "See starter notes and Flour.")
	assert.NotContains(t, ex.Text, "---")
	assert.NotContains(t, ex.Text, "[[")
}

func TestExtract_MarkdownUploadedAsTextPlain(t *testing.T) {
	ex, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), Input{
		Kind:        types.SourceKindFile,
		Filename:    "a.md",
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte("---\ntitle: T\n---\nbody text"),
	})
	require.NoError(t, err)
	assert.Equal(t, "T", ex.Title)
	assert.Equal(t, "body text", ex.Text)
}

func TestExtract_HTMLDropsScriptsAndKeepsTitle(t *testing.T) {
	page := `<html><head><title>My Page</title><style>p{color:red}</style></head>
<body><script>alert("x")</script><h1>Hello &amp; welcome</h1><p>First para.</p><svg/><p>Second para.</p></body></html>`
	ex, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), Input{
		Kind:        types.SourceKindFile,
		ContentType: "text/html",
		Data:        []byte(page),
	})
	require.NoError(t, err)
	assert.Equal(t, "My Page", ex.Title)
	assert.Contains(t, ex.Text, "Hello & welcome")
	assert.Contains(t, ex.Text, "First para.")
	assert.Contains(t, ex.Text, "Second para.")
	assert.NotContains(t, ex.Text, "alert")
	assert.NotContains(t, ex.Text, "color:red")
}

func TestExtract_TerminalFailures(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	cases := map[string]Input{
		"unsupported extension": {Kind: types.SourceKindFile, Filename: "photo.png", Data: []byte{0x89, 'P', 'N', 'G'}},
		"unsupported mime":      {Kind: types.SourceKindFile, ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		"empty data":            {Kind: types.SourceKindFile, Filename: "a.txt"},
		"whitespace only":       {Kind: types.SourceKindFile, Filename: "a.txt", Data: []byte(" \n\t ")},
		"corrupt pdf":           {Kind: types.SourceKindFile, Filename: "a.pdf", Data: []byte("%PDF-1.4 garbage")},
		"bad url":               {Kind: types.SourceKindURL, URL: "ftp://example.com/x"},
		"empty transcript":      {Kind: types.SourceKindTranscript, Turns: []types.Turn{{Role: "user", Text: " "}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, failure.Terminal, failure.ClassOf(err))
		})
	}
}

func TestExtract_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/post.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<title>Post</title><p>Body of the post.</p>"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewExtractor(ExtractorConfig{FetchTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	ex, err := e.Extract(ctx, Input{Kind: types.SourceKindURL, URL: srv.URL + "/post.html"})
	require.NoError(t, err)
	assert.Equal(t, "Post", ex.Title)
	assert.Equal(t, "Body of the post.", ex.Text)
	assert.Equal(t, srv.URL+"/post.html", ex.Metadata["url"])

	_, err = e.Extract(ctx, Input{Kind: types.SourceKindURL, URL: srv.URL + "/busy"})
	assert.Equal(t, failure.Transient, failure.ClassOf(err), "5xx is transient")

	_, err = e.Extract(ctx, Input{Kind: types.SourceKindURL, URL: srv.URL + "/slow"})
	assert.Equal(t, failure.Transient, failure.ClassOf(err), "timeout is transient")

	_, err = e.Extract(ctx, Input{Kind: types.SourceKindURL, URL: srv.URL + "/missing"})
	assert.Equal(t, failure.Terminal, failure.ClassOf(err), "404 is terminal")
}

func TestExtract_Transcript(t *testing.T) {
	ex, err := NewExtractor(ExtractorConfig{}).Extract(context.Background(), Input{
		Kind: types.SourceKindTranscript,
		Turns: []types.Turn{
			{Role: "interviewer", Text: "What do you do?"},
			{Role: "", Text: "I build  bridges."},
			{Role: "interviewer", Text: ""},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "interviewer: What do you do?\nuser: I build bridges.", ex.Text)
	assert.Equal(t, "2", ex.Metadata["turns"])
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b\n\nc", Sanitize("  a \u200b  b \x07\n\n\n\n  c  "))
	assert.Equal(t, "caf\u00e9", Sanitize("cafe\u0301"), "NFC composes combining marks")
	assert.Empty(t, Sanitize(strings.Repeat("\x00", 5)))
}
