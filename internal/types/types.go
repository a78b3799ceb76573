package types

import (
	"context"

	"github.com/jwen/healthkb/internal/models"
)

// Filter restricts store queries with equality predicates, combined by AND.
// Zero values mean "no constraint" (tier is always 1-4 when set).
type Filter struct {
	Category string
	Tier     int
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return f.Category == "" && f.Tier == 0
}

// Hit is a raw nearest-neighbor result from the store. Distance is the
// underlying metric value, assumed normalized to [0, 1].
type Hit struct {
	Document models.Document
	Distance float64
}

// DocumentStore is the persistent collection the engine runs against. The
// store embeds text internally; callers pass raw text, never vectors.
type DocumentStore interface {
	Add(ctx context.Context, content string, meta models.Metadata) (string, error)
	AddMany(ctx context.Context, contents []string, metas []models.Metadata) ([]string, error)
	Get(ctx context.Context, id string) (models.Document, error)
	// Update replaces a document's metadata. Content is immutable.
	Update(ctx context.Context, id string, meta models.Metadata) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, text string, k int, filter Filter) ([]Hit, error)
	GetByFilter(ctx context.Context, filter Filter, limit int) ([]models.Document, error)
	Count(ctx context.Context) (int, error)
	CategoryCounts(ctx context.Context) (map[string]int, error)
}

// TextGenerator sends a prompt to a language model and returns the generated
// text. structured requests JSON-only output. Failures are classified as
// ErrRateLimited or ErrGeneration so callers can drive retry policy.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string, structured bool) (string, error)
}

// Embedder turns text into a vector. Used internally by the store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
