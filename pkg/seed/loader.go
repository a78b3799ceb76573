package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
	"github.com/jwen/healthkb/pkg/store"
)

// File is the JSON seed format: one category with its knowledge items.
type File struct {
	Category string `json:"category"`
	Items    []Item `json:"items"`
}

type Item struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Source    string `json:"source"`
	SourceURL string `json:"source_url"`
	Tier      int    `json:"tier"`
}

type LoaderConfig struct {
	Dir        string
	OnProgress func(file string, loaded int)
}

// Loader seeds the knowledge base from JSON files. Ids are content-derived,
// so the store itself never rejects a re-ingest; the loader dedupes
// explicitly by checking for an existing id before inserting.
type Loader struct {
	store  types.DocumentStore
	config LoaderConfig
	logger *zap.Logger
}

func NewLoader(st types.DocumentStore, config LoaderConfig, logger *zap.Logger) *Loader {
	if config.Dir == "" {
		config.Dir = "knowledge_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: st, config: config, logger: logger}
}

// LoadFile loads one seed file and returns the number of items inserted.
// Items whose id already exists are skipped.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("error reading seed file: %v", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("error parsing seed file %s: %v", filepath.Base(path), err)
	}

	category := file.Category
	if category == "" {
		category = "general"
	}

	var contents []string
	var metas []models.Metadata
	for _, item := range file.Items {
		if item.Content == "" {
			continue
		}

		meta := models.Metadata{
			Title:     item.Title,
			Category:  category,
			Source:    item.Source,
			SourceURL: item.SourceURL,
			Tier:      item.Tier,
		}
		if meta.Title == "" {
			meta.Title = "Untitled"
		}
		if meta.Source == "" {
			meta.Source = "Unknown"
		}
		if meta.Tier == 0 {
			meta.Tier = 4
		}

		id := store.GenerateID(item.Content, meta.Source)
		_, err := l.store.Get(ctx, id)
		if err == nil {
			l.logger.Debug("skipping existing document", zap.String("id", id))
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			return 0, err
		}

		contents = append(contents, item.Content)
		metas = append(metas, meta)
	}

	if len(contents) == 0 {
		return 0, nil
	}

	if _, err := l.store.AddMany(ctx, contents, metas); err != nil {
		return 0, err
	}

	return len(contents), nil
}

// LoadAll loads every *.json file in the configured directory, returning a
// per-file count of inserted items. A missing directory loads nothing.
func (l *Loader) LoadAll(ctx context.Context) (map[string]int, error) {
	results := make(map[string]int)

	matches, err := filepath.Glob(filepath.Join(l.config.Dir, "*.json"))
	if err != nil {
		return nil, err
	}

	for _, path := range matches {
		count, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn("failed to load seed file",
				zap.String("file", filepath.Base(path)),
				zap.Error(err))
			continue
		}
		results[filepath.Base(path)] = count
		if l.config.OnProgress != nil {
			l.config.OnProgress(filepath.Base(path), count)
		}
	}

	return results, nil
}
