package translate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
)

// maxWorkers caps the batch translation pool. External translation calls
// must never exceed this, whatever the batch size.
const maxWorkers = 5

type ManagerConfig struct {
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	Workers    int
}

// Manager maintains the per-language translation cache embedded in document
// metadata. Entries are computed on first use and persisted back through the
// store; a complete entry is never recomputed.
type Manager struct {
	store  types.DocumentStore
	gen    types.TextGenerator
	config ManagerConfig
	logger *zap.Logger
	sleep  func(time.Duration)
}

func NewManager(store types.DocumentStore, gen types.TextGenerator, config ManagerConfig, logger *zap.Logger) *Manager {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.Workers <= 0 || config.Workers > maxWorkers {
		config.Workers = maxWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		store:  store,
		gen:    gen,
		config: config,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Ensure resolves the title/content pair for doc in lang, translating and
// caching any missing field. Unsupported languages pass through unchanged.
// The result is always fully materialized: when translation retries are
// exhausted the original text is returned and deliberately not cached, so a
// later call retries.
func (m *Manager) Ensure(ctx context.Context, doc models.Document, lang models.Lang) models.Translation {
	if !lang.Supported() {
		return models.Translation{Title: doc.Metadata.Title, Content: doc.Content}
	}

	cached, _ := doc.Metadata.Translation(lang)
	resolved := cached
	var newTitle, newContent bool

	if resolved.Content == "" {
		if out, ok := m.translate(ctx, doc.Content, lang, false); ok {
			resolved.Content = out
			newContent = true
		} else {
			resolved.Content = doc.Content
		}
	}

	if resolved.Title == "" {
		if out, ok := m.translate(ctx, doc.Metadata.Title, lang, true); ok {
			resolved.Title = out
			newTitle = true
		} else {
			resolved.Title = doc.Metadata.Title
		}
	}

	if newTitle || newContent {
		// Merge only the freshly computed fields into the cached entry so a
		// concurrently-written value is never discarded. Last writer wins on
		// the update itself; see the manager doc comment.
		entry := cached
		if newTitle {
			entry.Title = resolved.Title
		}
		if newContent {
			entry.Content = resolved.Content
		}

		meta := doc.Metadata.WithTranslation(lang, entry)
		if err := m.store.Update(ctx, doc.ID, meta); err != nil {
			m.logger.Warn("failed to persist translation cache",
				zap.String("id", doc.ID),
				zap.String("lang", string(lang)),
				zap.Error(err))
		}
	}

	return resolved
}

// EnsureBatch resolves translations for a list of documents, running the
// missing subset through a bounded worker pool. The returned slice has the
// same length and index-for-index positional correspondence as the input,
// regardless of worker completion order.
func (m *Manager) EnsureBatch(ctx context.Context, docs []models.Document, lang models.Lang) []models.Document {
	if !lang.Supported() || len(docs) == 0 {
		return docs
	}

	var missing []int
	for i, doc := range docs {
		if tr, ok := doc.Metadata.Translation(lang); !ok || !tr.Complete() {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return docs
	}

	out := make([]models.Document, len(docs))
	copy(out, docs)

	workers := m.config.Workers
	if workers > len(missing) {
		workers = len(missing)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// Each worker writes to a distinct index, so the slice
				// needs no locking.
				tr := m.Ensure(ctx, docs[idx], lang)
				doc := docs[idx]
				doc.Metadata = doc.Metadata.WithTranslation(lang, tr)
				out[idx] = doc
			}
		}()
	}

	for _, idx := range missing {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return out
}

// translate runs one field translation with the fixed-delay retry policy.
// Translation failures are low severity; any failure kind is retried the
// same way.
func (m *Manager) translate(ctx context.Context, text string, lang models.Lang, isTitle bool) (string, bool) {
	if text == "" {
		return "", false
	}

	prompt := translationPrompt(text, lang, isTitle)

	for attempt := 0; attempt < m.config.MaxRetries; attempt++ {
		out, err := m.gen.Generate(ctx, m.config.Model, prompt, false)
		if err == nil && out != "" {
			return out, true
		}
		if err != nil {
			m.logger.Debug("translation attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		if attempt < m.config.MaxRetries-1 {
			m.sleep(m.config.RetryDelay)
		}
	}

	return "", false
}

func translationPrompt(text string, lang models.Lang, isTitle bool) string {
	kind := "text"
	if isTitle {
		kind = "title"
	}

	return fmt.Sprintf(`Task: Translate the following %s to %s.
Rules:
1. Maintain professional medical tone.
2. Output ONLY the translated %s.
3. NO explanations, NO extra notes, NO markdown formatting (unless present in original).
4. If it's a title, keep it under 20 words.

Original %s:
%s`, kind, lang.Name(), kind, kind, text)
}
