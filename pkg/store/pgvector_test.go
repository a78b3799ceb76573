package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwen/healthkb/internal/types"
)

func TestGenerateIDDeterministic(t *testing.T) {
	content := "Normal resting heart rate for adults ranges from 60 to 100 beats per minute."
	source := "AHA"

	first := GenerateID(content, source)
	second := GenerateID(content, source)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32) // md5 hex
}

func TestGenerateIDUsesContentPrefix(t *testing.T) {
	// Only the first 100 runes of content feed the hash, so documents that
	// agree on the prefix collide to the same id.
	prefix := strings.Repeat("a", 100)
	idA := GenerateID(prefix+" tail one", "WHO")
	idB := GenerateID(prefix+" completely different tail", "WHO")
	assert.Equal(t, idA, idB)

	// A different source must break the collision.
	idC := GenerateID(prefix+" tail one", "CDC")
	assert.NotEqual(t, idA, idC)
}

func TestGenerateIDShortContent(t *testing.T) {
	// Content shorter than the prefix length hashes in full.
	idA := GenerateID("short", "src")
	idB := GenerateID("short", "src")
	idC := GenerateID("short two", "src")

	assert.Equal(t, idA, idB)
	assert.NotEqual(t, idA, idC)
}

func TestGenerateIDMultibyte(t *testing.T) {
	content := strings.Repeat("心", 150)
	// Must not panic on rune boundaries and stays deterministic.
	assert.Equal(t, GenerateID(content, "指南"), GenerateID(content, "指南"))
}

func TestBuildWhere(t *testing.T) {
	tests := []struct {
		name       string
		filter     types.Filter
		startArg   int
		wantClause string
		wantArgs   []interface{}
	}{
		{
			name:       "empty filter",
			filter:     types.Filter{},
			startArg:   1,
			wantClause: "",
			wantArgs:   nil,
		},
		{
			name:       "category only",
			filter:     types.Filter{Category: "sleep"},
			startArg:   2,
			wantClause: "WHERE category = $2",
			wantArgs:   []interface{}{"sleep"},
		},
		{
			name:       "tier only",
			filter:     types.Filter{Tier: 1},
			startArg:   1,
			wantClause: "WHERE tier = $1",
			wantArgs:   []interface{}{1},
		},
		{
			name:       "category and tier combine with AND",
			filter:     types.Filter{Category: "heart_rate", Tier: 2},
			startArg:   2,
			wantClause: "WHERE category = $2 AND tier = $3",
			wantArgs:   []interface{}{"heart_rate", 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args := buildWhere(tt.filter, tt.startArg)
			assert.Equal(t, tt.wantClause, clause)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "clean", sanitizeUTF8("clean"))
	assert.Equal(t, "正常心率", sanitizeUTF8("正常心率"))

	broken := "ok" + string([]byte{0xff, 0xfe}) + "rest"
	out := sanitizeUTF8(broken)
	assert.True(t, strings.HasPrefix(out, "ok"))
	assert.True(t, strings.HasSuffix(out, "rest"))
}
