package retrieval

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
	"github.com/jwen/healthkb/pkg/translate"
)

type EngineConfig struct {
	SearchLimit int // default result count when the caller passes none
}

// Engine executes semantic search and browse operations against the document
// store and drives lazy translation of the results it returns.
type Engine struct {
	store      types.DocumentStore
	translator *translate.Manager
	config     EngineConfig
	logger     *zap.Logger
}

// Stats summarizes the knowledge base.
type Stats struct {
	TotalDocuments int `json:"total_documents"`
}

func NewEngine(store types.DocumentStore, translator *translate.Manager, config EngineConfig, logger *zap.Logger) *Engine {
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		translator: translator,
		config:     config,
		logger:     logger,
	}
}

// Search runs semantic search with optional category and tier constraints.
// The store's ranking order is preserved; relevance is 1 - distance, clamped
// to [0, 1] since the underlying metric is not guaranteed bounded.
func (e *Engine) Search(ctx context.Context, query string, limit int, category string, tier int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = e.config.SearchLimit
	}

	hits, err := e.store.Query(ctx, query, limit, types.Filter{Category: category, Tier: tier})
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		score := 1 - hit.Distance
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		results = append(results, models.SearchResult{
			Document:  hit.Document,
			Relevance: score,
		})
	}

	return results, nil
}

// Browse pages through the knowledge base. The category filter is pushed to
// the store; the tier filter is applied in memory afterwards. Total is the
// filtered set's size before pagination. Only the returned page goes through
// the batch translation pass.
func (e *Engine) Browse(ctx context.Context, category string, tier, page, pageSize int, lang models.Lang) ([]models.Document, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	// Fetch a superset sized to cover the requested page.
	docs, err := e.store.GetByFilter(ctx, types.Filter{Category: category}, page*pageSize)
	if err != nil {
		return nil, 0, err
	}

	if tier != 0 {
		filtered := docs[:0]
		for _, doc := range docs {
			if doc.Metadata.Tier == tier {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}

	total := len(docs)

	start := (page - 1) * pageSize
	if start >= len(docs) {
		return []models.Document{}, total, nil
	}
	end := start + pageSize
	if end > len(docs) {
		end = len(docs)
	}
	items := docs[start:end]

	items = e.translator.EnsureBatch(ctx, items, lang)

	return items, total, nil
}

// GetByID fetches a single document, translating it when lang is supported.
// Unknown ids fail with types.ErrNotFound.
func (e *Engine) GetByID(ctx context.Context, id string, lang models.Lang) (models.Document, error) {
	doc, err := e.store.Get(ctx, id)
	if err != nil {
		return models.Document{}, err
	}

	if lang.Supported() {
		tr := e.translator.Ensure(ctx, doc, lang)
		doc.Metadata = doc.Metadata.WithTranslation(lang, tr)
	}

	return doc, nil
}

// AddDocument stores a new document and returns its content-derived id.
func (e *Engine) AddDocument(ctx context.Context, content string, meta models.Metadata) (string, error) {
	return e.store.Add(ctx, content, meta)
}

// DeleteDocument removes a document. Unknown ids report false, not an error.
func (e *Engine) DeleteDocument(ctx context.Context, id string) (bool, error) {
	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CategoryCounts returns the number of documents per category.
func (e *Engine) CategoryCounts(ctx context.Context) (map[string]int, error) {
	return e.store.CategoryCounts(ctx)
}

// Stats returns knowledge base statistics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalDocuments: count}, nil
}
