package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
	"github.com/jwen/healthkb/pkg/translate"
)

type fakeStore struct {
	docs       map[string]models.Document
	hits       []types.Hit
	browseable []models.Document

	lastQueryText   string
	lastQueryK      int
	lastQueryFilter types.Filter
	lastBrowseLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]models.Document)}
}

func (f *fakeStore) Add(ctx context.Context, content string, meta models.Metadata) (string, error) {
	id := fmt.Sprintf("id-%d", len(f.docs)+1)
	f.docs[id] = models.Document{ID: id, Content: content, Metadata: meta}
	return id, nil
}

func (f *fakeStore) AddMany(ctx context.Context, contents []string, metas []models.Metadata) ([]string, error) {
	ids := make([]string, len(contents))
	for i := range contents {
		id, _ := f.Add(ctx, contents[i], metas[i])
		ids[i] = id
	}
	return ids, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return doc, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, meta models.Metadata) error {
	doc, ok := f.docs[id]
	if !ok {
		return types.ErrNotFound
	}
	doc.Metadata = meta
	f.docs[id] = doc
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return types.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, text string, k int, filter types.Filter) ([]types.Hit, error) {
	f.lastQueryText = text
	f.lastQueryK = k
	f.lastQueryFilter = filter
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeStore) GetByFilter(ctx context.Context, filter types.Filter, limit int) ([]models.Document, error) {
	f.lastBrowseLimit = limit
	var out []models.Document
	for _, doc := range f.browseable {
		if filter.Category != "" && doc.Metadata.Category != filter.Category {
			continue
		}
		if filter.Tier != 0 && doc.Metadata.Tier != filter.Tier {
			continue
		}
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return len(f.docs), nil }

func (f *fakeStore) CategoryCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, doc := range f.docs {
		counts[doc.Metadata.Category]++
	}
	return counts, nil
}

type stubGen struct{}

func (stubGen) Generate(ctx context.Context, model, prompt string, structured bool) (string, error) {
	return "translated", nil
}

func newTestEngine(fs *fakeStore) *Engine {
	translator := translate.NewManager(fs, stubGen{}, translate.ManagerConfig{
		Model:      "testmodel",
		RetryDelay: time.Millisecond,
	}, nil)
	return NewEngine(fs, translator, EngineConfig{SearchLimit: 5}, nil)
}

func hit(id, title, category string, tier int, distance float64) types.Hit {
	return types.Hit{
		Document: models.Document{
			ID:      id,
			Content: "content of " + id,
			Metadata: models.Metadata{
				Title:    title,
				Category: category,
				Source:   "WHO",
				Tier:     tier,
			},
		},
		Distance: distance,
	}
}

func browseDoc(i int, category string, tier int) models.Document {
	d := models.Document{
		ID:      fmt.Sprintf("doc-%02d", i),
		Content: fmt.Sprintf("content %d", i),
		Metadata: models.Metadata{
			Title:    fmt.Sprintf("Title %d", i),
			Category: category,
			Source:   "WHO",
			Tier:     tier,
		},
	}
	// Pre-warmed cache keeps browse tests off the translation path.
	d.Metadata = d.Metadata.WithTranslation(models.LangZH, models.Translation{
		Title:   fmt.Sprintf("标题 %d", i),
		Content: fmt.Sprintf("内容 %d", i),
	})
	return d
}

func TestSearchComputesRelevanceAndPreservesOrder(t *testing.T) {
	fs := newFakeStore()
	fs.hits = []types.Hit{
		hit("a", "Normal heart rate", "heart_rate", 1, 0.1),
		hit("b", "Unrelated 1", "sleep", 3, 0.7),
		hit("c", "Unrelated 2", "stress", 4, 0.7),
	}
	engine := newTestEngine(fs)

	results, err := engine.Search(context.Background(), "什么是正常心率", 5, "", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0.9, results[0].Relevance, 1e-9)
	assert.InDelta(t, 0.3, results[1].Relevance, 1e-9)
	assert.InDelta(t, 0.3, results[2].Relevance, 1e-9)
	assert.Equal(t, 5, fs.lastQueryK)
}

func TestSearchClampsRelevance(t *testing.T) {
	fs := newFakeStore()
	fs.hits = []types.Hit{
		hit("a", "Close", "sleep", 1, -0.2), // unbounded metric below zero
		hit("b", "Far", "sleep", 1, 1.6),
	}
	engine := newTestEngine(fs)

	results, err := engine.Search(context.Background(), "q", 5, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].Relevance)
	assert.Equal(t, 0.0, results[1].Relevance)
}

func TestSearchBuildsFilter(t *testing.T) {
	fs := newFakeStore()
	engine := newTestEngine(fs)

	_, err := engine.Search(context.Background(), "q", 0, "hrv", 2)
	require.NoError(t, err)

	assert.Equal(t, types.Filter{Category: "hrv", Tier: 2}, fs.lastQueryFilter)
	assert.Equal(t, 5, fs.lastQueryK, "default limit applies when caller passes none")
}

func TestBrowsePagination(t *testing.T) {
	fs := newFakeStore()
	for i := 1; i <= 25; i++ {
		fs.browseable = append(fs.browseable, browseDoc(i, "sleep", 1))
	}
	engine := newTestEngine(fs)

	items, total, err := engine.Browse(context.Background(), "", 0, 2, 20, models.LangZH)
	require.NoError(t, err)

	assert.Equal(t, 25, total)
	require.Len(t, items, 5)
	assert.Equal(t, "doc-21", items[0].ID)
	assert.Equal(t, "doc-25", items[4].ID)
	assert.Equal(t, 40, fs.lastBrowseLimit, "superset sized to cover the requested page")
}

func TestBrowsePageBeyondEnd(t *testing.T) {
	fs := newFakeStore()
	for i := 1; i <= 3; i++ {
		fs.browseable = append(fs.browseable, browseDoc(i, "sleep", 1))
	}
	engine := newTestEngine(fs)

	items, total, err := engine.Browse(context.Background(), "", 0, 5, 20, models.LangZH)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, items)
}

func TestBrowseTierFilterAppliedInMemory(t *testing.T) {
	fs := newFakeStore()
	for i := 1; i <= 10; i++ {
		tier := 1
		if i%2 == 0 {
			tier = 3
		}
		fs.browseable = append(fs.browseable, browseDoc(i, "exercise", tier))
	}
	engine := newTestEngine(fs)

	// No category: the store sees an unconstrained fetch and the tier filter
	// runs client-side.
	items, total, err := engine.Browse(context.Background(), "", 3, 1, 20, models.LangZH)
	require.NoError(t, err)

	assert.Equal(t, 5, total)
	for _, item := range items {
		assert.Equal(t, 3, item.Metadata.Tier)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	_, err := engine.GetByID(context.Background(), "missing", models.LangZH)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetByIDTranslates(t *testing.T) {
	fs := newFakeStore()
	d := browseDoc(1, "sleep", 1)
	fs.docs[d.ID] = d
	engine := newTestEngine(fs)

	doc, err := engine.GetByID(context.Background(), d.ID, models.LangZH)
	require.NoError(t, err)

	tr, ok := doc.Metadata.Translation(models.LangZH)
	require.True(t, ok)
	assert.Equal(t, "标题 1", tr.Title)
}

func TestDeleteDocumentAbsentIsNotFatal(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	deleted, err := engine.DeleteDocument(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteDocument(t *testing.T) {
	fs := newFakeStore()
	d := browseDoc(1, "sleep", 1)
	fs.docs[d.ID] = d
	engine := newTestEngine(fs)

	deleted, err := engine.DeleteDocument(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestStats(t *testing.T) {
	fs := newFakeStore()
	fs.docs["a"] = browseDoc(1, "sleep", 1)
	fs.docs["b"] = browseDoc(2, "hrv", 2)
	engine := newTestEngine(fs)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
}
