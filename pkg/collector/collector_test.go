package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwen/healthkb/internal/types"
)

type fakeGen struct {
	response string
	err      error

	lastPrompt     string
	lastStructured bool
}

func (g *fakeGen) Generate(ctx context.Context, model, prompt string, structured bool) (string, error) {
	g.lastPrompt = prompt
	g.lastStructured = structured
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func pageHTML(body string) string {
	return fmt.Sprintf(`<html>
<head><title>Resting Heart Rate Guide</title></head>
<body>
<nav>Home | About</nav>
<script>var tracking = true;</script>
<article>%s</article>
<footer>Cookie Policy Privacy Policy</footer>
</body>
</html>`, body)
}

func longBody() string {
	return strings.Repeat("A healthy resting heart rate for adults ranges from 60 to 100 beats per minute. ", 10)
}

func newTestServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPreview(t *testing.T) {
	srv := newTestServer(t, pageHTML(longBody()))

	gen := &fakeGen{response: `{
		"title": "静息心率指南",
		"category": "heart_rate",
		"summary": "成人静息心率正常范围。",
		"content": "## 静息心率\n\n成人静息心率为每分钟60-100次。",
		"tier": 2,
		"source_name": "AHA"
	}`}

	c := NewWithConfig(CollectorConfig{RateLimit: 100, Model: "llama3.1"}, gen, nil)

	preview, err := c.Preview(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "静息心率指南", preview.Title)
	assert.Equal(t, "heart_rate", preview.Category)
	assert.Equal(t, 2, preview.Tier)
	assert.Equal(t, "AHA", preview.SourceName)
	assert.Equal(t, srv.URL, preview.URL)

	assert.True(t, gen.lastStructured, "extraction must request JSON mode")
	assert.Contains(t, gen.lastPrompt, srv.URL)
	assert.Contains(t, gen.lastPrompt, "resting heart rate")
	assert.NotContains(t, gen.lastPrompt, "var tracking", "script content must be stripped")
	assert.NotContains(t, gen.lastPrompt, "Cookie Policy", "noise phrases must be stripped")
}

func TestPreviewFallbackOnExtractionFailure(t *testing.T) {
	srv := newTestServer(t, pageHTML(longBody()))

	gen := &fakeGen{err: fmt.Errorf("%w: model offline", types.ErrGeneration)}
	c := NewWithConfig(CollectorConfig{RateLimit: 100}, gen, nil)

	preview, err := c.Preview(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Resting Heart Rate Guide", preview.Title)
	assert.Equal(t, "general", preview.Category)
	assert.Equal(t, 4, preview.Tier)
	assert.Contains(t, preview.Content, "resting heart rate")
	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, host, preview.SourceName)
}

func TestPreviewFallbackOnMalformedJSON(t *testing.T) {
	srv := newTestServer(t, pageHTML(longBody()))

	gen := &fakeGen{response: "I could not produce JSON, sorry."}
	c := NewWithConfig(CollectorConfig{RateLimit: 100}, gen, nil)

	preview, err := c.Preview(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 4, preview.Tier)
	assert.Equal(t, "general", preview.Category)
}

func TestPreviewContentTooShort(t *testing.T) {
	srv := newTestServer(t, pageHTML("Short."))

	c := NewWithConfig(CollectorConfig{RateLimit: 100}, &fakeGen{}, nil)

	_, err := c.Preview(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "content too short")
}

func TestPreviewFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewWithConfig(CollectorConfig{RateLimit: 100}, &fakeGen{}, nil)

	_, err := c.Preview(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestPreviewTruncatesLongContent(t *testing.T) {
	srv := newTestServer(t, pageHTML(strings.Repeat("heart rate variability matters. ", 200)))

	gen := &fakeGen{response: `{"title": "t", "category": "hrv", "summary": "s", "content": "c", "tier": 3, "source_name": "n"}`}
	c := NewWithConfig(CollectorConfig{RateLimit: 100, MaxContentChars: 500}, gen, nil)

	_, err := c.Preview(context.Background(), srv.URL)
	require.NoError(t, err)

	// The prompt carries the page text plus the instruction template.
	assert.Less(t, len(gen.lastPrompt), 500+len(extractionPrompt(srv.URL, "")))
}

func TestPreviewClampsTier(t *testing.T) {
	srv := newTestServer(t, pageHTML(longBody()))

	gen := &fakeGen{response: `{"title": "t", "category": "sleep", "summary": "s", "content": "c", "tier": 9, "source_name": "n"}`}
	c := NewWithConfig(CollectorConfig{RateLimit: 100}, gen, nil)

	preview, err := c.Preview(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 4, preview.Tier)
}

func TestPreviewContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewWithConfig(CollectorConfig{RateLimit: 0.001}, &fakeGen{}, nil)

	_, err := c.Preview(ctx, "http://example.com")
	assert.Error(t, err)
}

func TestCleanContent(t *testing.T) {
	out := cleanContent("  spaced\n\nout   text Cookie Policy  ")
	assert.Equal(t, "spaced out text", out)
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "web.archive.org", extractDomain("https://web.archive.org/page"))
	assert.Equal(t, "Unknown", extractDomain("not a url"))
}
