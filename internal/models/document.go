package models

import "time"

// Lang is a supported display language for knowledge items.
type Lang string

const (
	LangZH Lang = "zh"
	LangEN Lang = "en"
)

// Supported reports whether l is a language the translation cache handles.
// Anything else passes through untranslated.
func (l Lang) Supported() bool {
	return l == LangZH || l == LangEN
}

// Name returns the language name used in translation prompts.
func (l Lang) Name() string {
	if l == LangZH {
		return "Chinese (Simplified)"
	}
	return "English"
}

// Translation is a cached language-specific rendering of a document.
type Translation struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Complete reports whether both fields are populated. A complete translation
// is never recomputed.
func (t Translation) Complete() bool {
	return t.Title != "" && t.Content != ""
}

// Metadata describes a stored knowledge document. Translations holds the
// lazily-populated per-language cache; entries are absent until first use.
type Metadata struct {
	Title        string               `json:"title"`
	Category     string               `json:"category"`
	Source       string               `json:"source"`
	SourceURL    string               `json:"source_url,omitempty"`
	Tier         int                  `json:"tier"`
	Translations map[Lang]Translation `json:"translations,omitempty"`
}

// Translation returns the cached entry for lang, if any.
func (m Metadata) Translation(lang Lang) (Translation, bool) {
	tr, ok := m.Translations[lang]
	return tr, ok
}

// WithTranslation returns a copy of m with the cache entry for lang set.
// The original map is not mutated.
func (m Metadata) WithTranslation(lang Lang, tr Translation) Metadata {
	out := m
	out.Translations = make(map[Lang]Translation, len(m.Translations)+1)
	for k, v := range m.Translations {
		out.Translations[k] = v
	}
	out.Translations[lang] = tr
	return out
}

// Document is an immutable content unit. Content never changes for a given
// ID; only metadata may be replaced.
type Document struct {
	ID       string
	Content  string
	Metadata Metadata
}

// Localized resolves the display title and content for lang, preferring the
// cached translation and falling back to the original text.
func (d Document) Localized(lang Lang) (title, content string) {
	if tr, ok := d.Metadata.Translation(lang); ok {
		title, content = tr.Title, tr.Content
	}
	if title == "" {
		title = d.Metadata.Title
	}
	if content == "" {
		content = d.Content
	}
	return title, content
}

// SearchResult is an ephemeral semantic-search hit. Relevance is 1 - distance,
// clamped to [0, 1].
type SearchResult struct {
	Document
	Relevance float64
}

// ChatMessage is one turn of a conversation. History is supplied by the
// caller on each request; nothing is persisted here.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
