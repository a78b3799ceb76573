package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jwen/healthkb/internal/types"
)

type CollectorConfig struct {
	RateLimit       float64 // requests per second
	Timeout         time.Duration
	MaxContentChars int    // raw page text fed to the extraction model
	Model           string // model for structured extraction
}

// Collector fetches candidate pages and turns them into structured knowledge
// entries via a JSON-mode generation call. Fetches are rate limited.
type Collector struct {
	config  CollectorConfig
	client  *http.Client
	limiter *rate.Limiter
	gen     types.TextGenerator
	logger  *zap.Logger
}

// Preview is a candidate knowledge entry extracted from a web page, shown to
// the operator before import.
type Preview struct {
	Title      string `json:"title"`
	Category   string `json:"category"`
	Summary    string `json:"summary"`
	Content    string `json:"content"`
	Tier       int    `json:"tier"`
	SourceName string `json:"source_name"`
	URL        string `json:"url"`
}

func NewWithConfig(config CollectorConfig, gen types.TextGenerator, logger *zap.Logger) *Collector {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MaxContentChars == 0 {
		config.MaxContentChars = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		gen:     gen,
		logger:  logger,
	}
}

// Preview fetches a URL, extracts its readable text and asks the model to
// structure it as a knowledge entry. When the model call or its JSON output
// fails, a raw-text fallback entry is returned instead of an error.
func (c *Collector) Preview(ctx context.Context, pageURL string) (Preview, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Preview{}, err
	}

	pageTitle, text, err := c.fetch(ctx, pageURL)
	if err != nil {
		return Preview{}, err
	}
	if len(text) < 200 {
		return Preview{}, fmt.Errorf("content too short to import: %s", pageURL)
	}

	if runes := []rune(text); len(runes) > c.config.MaxContentChars {
		text = string(runes[:c.config.MaxContentChars])
	}

	preview, err := c.extract(ctx, pageURL, text)
	if err != nil {
		c.logger.Warn("structured extraction failed, using raw fallback",
			zap.String("url", pageURL),
			zap.Error(err))
		return fallbackPreview(pageURL, pageTitle, text), nil
	}

	preview.URL = pageURL
	if preview.SourceName == "" {
		preview.SourceName = extractDomain(pageURL)
	}
	if preview.Tier < 1 || preview.Tier > 4 {
		preview.Tier = 4
	}
	return preview, nil
}

func (c *Collector) fetch(ctx context.Context, pageURL string) (title, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch %s: %v", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s: %v", pageURL, err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, nav, header, footer, aside").Remove()
	text = cleanContent(doc.Find("body").Text())

	return title, text, nil
}

func (c *Collector) extract(ctx context.Context, pageURL, text string) (Preview, error) {
	prompt := extractionPrompt(pageURL, text)

	out, err := c.gen.Generate(ctx, c.config.Model, prompt, true)
	if err != nil {
		return Preview{}, err
	}

	var preview Preview
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		return Preview{}, fmt.Errorf("malformed extraction output: %v", err)
	}
	return preview, nil
}

func extractionPrompt(pageURL, text string) string {
	return fmt.Sprintf(`You are a professional medical editor. Process the following raw web content into a structured knowledge base entry.

SOURCE URL: %s

RAW CONTENT:
%s

INSTRUCTIONS:
1. Analyze: identify the main health guidelines, facts or research findings. Ignore navigation, ads and footers.
2. Translate and format: convert the content into clear, professional Chinese (Simplified). Use Markdown with headers, bullet points and bold text.
3. Structure:
   - title: a concise, descriptive title (in Chinese)
   - category: ONE of "heart_rate", "hrv", "sleep", "exercise", "stress", "general"
   - summary: a 1-2 sentence summary
   - content: the full cleaned content in Markdown
   - tier: authority tier (1=official guideline/WHO/AHA, 2=medical institution, 3=research paper, 4=general health blog)
   - source_name: the organization name extracted from the text

OUTPUT FORMAT (JSON ONLY):
{"title": "...", "category": "...", "summary": "...", "content": "...", "tier": 1, "source_name": "..."}`,
		pageURL, text)
}

func fallbackPreview(pageURL, pageTitle, text string) Preview {
	if pageTitle == "" {
		pageTitle = "Error processing content"
	}
	if runes := []rune(text); len(runes) > 2000 {
		text = string(runes[:2000])
	}
	return Preview{
		Title:      pageTitle,
		Category:   "general",
		Summary:    "Failed to clean content.",
		Content:    text,
		Tier:       4,
		SourceName: extractDomain(pageURL),
		URL:        pageURL,
	}
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func extractDomain(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return "Unknown"
	}
	return parsed.Host
}
