package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLangSupported(t *testing.T) {
	assert.True(t, LangZH.Supported())
	assert.True(t, LangEN.Supported())
	assert.False(t, Lang("fr").Supported())
	assert.False(t, Lang("").Supported())
}

func TestTranslationComplete(t *testing.T) {
	assert.False(t, Translation{}.Complete())
	assert.False(t, Translation{Title: "t"}.Complete())
	assert.False(t, Translation{Content: "c"}.Complete())
	assert.True(t, Translation{Title: "t", Content: "c"}.Complete())
}

func TestWithTranslationDoesNotMutateOriginal(t *testing.T) {
	original := Metadata{
		Title: "标题",
		Translations: map[Lang]Translation{
			LangZH: {Title: "标题", Content: "内容"},
		},
	}

	updated := original.WithTranslation(LangEN, Translation{Title: "Title", Content: "Content"})

	_, ok := original.Translations[LangEN]
	assert.False(t, ok, "original map must stay untouched")

	en, ok := updated.Translation(LangEN)
	require.True(t, ok)
	assert.Equal(t, "Title", en.Title)

	zh, ok := updated.Translation(LangZH)
	require.True(t, ok)
	assert.Equal(t, "内容", zh.Content)
}

func TestLocalized(t *testing.T) {
	doc := Document{
		ID:      "d1",
		Content: "原始内容",
		Metadata: Metadata{
			Title: "原始标题",
		},
	}

	// No cache entry: original text.
	title, content := doc.Localized(LangEN)
	assert.Equal(t, "原始标题", title)
	assert.Equal(t, "原始内容", content)

	// Cached entry wins.
	doc.Metadata = doc.Metadata.WithTranslation(LangEN, Translation{Title: "Title", Content: "Content"})
	title, content = doc.Localized(LangEN)
	assert.Equal(t, "Title", title)
	assert.Equal(t, "Content", content)

	// Partial entry falls back per field.
	doc.Metadata.Translations[LangEN] = Translation{Title: "Only title"}
	title, content = doc.Localized(LangEN)
	assert.Equal(t, "Only title", title)
	assert.Equal(t, "原始内容", content)
}
