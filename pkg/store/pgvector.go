package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
)

// idPrefixLen is the number of leading content runes that feed the document
// id hash. Identical (prefix, source) pairs always collide to the same id, so
// re-ingesting the same material is idempotent.
const idPrefixLen = 100

type DocumentStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// DocumentStore is the pgvector-backed persistent collection. It embeds
// document text internally via the configured embedder; callers never pass
// vectors.
type DocumentStore struct {
	config   DocumentStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
	logger   *zap.Logger
}

var _ types.DocumentStore = (*DocumentStore)(nil)

func NewWithConfig(ctx context.Context, config DocumentStoreConfig, embedder types.Embedder, logger *zap.Logger) (*DocumentStore, error) {
	if config.TableName == "" {
		config.TableName = "health_knowledge"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ds := &DocumentStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}

	if err := ds.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return ds, nil
}

func (ds *DocumentStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := ds.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'general',
			source TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			tier INTEGER NOT NULL DEFAULT 4,
			translations JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d)
		)`, ds.config.TableName, ds.config.VectorDim)

	_, err = ds.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		ds.config.TableName, ds.config.TableName)

	_, err = ds.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createCategoryIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_category_idx ON %s (category)`,
		ds.config.TableName, ds.config.TableName)

	_, err = ds.pool.Exec(ctx, createCategoryIndex)
	if err != nil {
		return fmt.Errorf("failed to create category index: %w", err)
	}

	return nil
}

// GenerateID derives a content-addressed document id from a fixed-length
// content prefix and the source name.
func GenerateID(content, source string) string {
	prefix := content
	if utf8.RuneCountInString(prefix) > idPrefixLen {
		runes := []rune(prefix)
		prefix = string(runes[:idPrefixLen])
	}
	sum := md5.Sum([]byte(prefix + "_" + source))
	return hex.EncodeToString(sum[:])
}

// Add stores a document and returns its id. Existing rows with the same id
// are replaced; deduplication is the caller's responsibility.
func (ds *DocumentStore) Add(ctx context.Context, content string, meta models.Metadata) (string, error) {
	ids, err := ds.AddMany(ctx, []string{content}, []models.Metadata{meta})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddMany stores a batch of documents in one transaction.
func (ds *DocumentStore) AddMany(ctx context.Context, contents []string, metas []models.Metadata) ([]string, error) {
	if len(contents) != len(metas) {
		return nil, fmt.Errorf("contents and metadatas length mismatch: %d != %d", len(contents), len(metas))
	}

	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, title, category, source, source_url, tier, translations, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			source = EXCLUDED.source,
			source_url = EXCLUDED.source_url,
			tier = EXCLUDED.tier,
			translations = EXCLUDED.translations`,
		ds.config.TableName)

	ids := make([]string, len(contents))
	for i, content := range contents {
		content = sanitizeUTF8(content)
		meta := metas[i]
		id := GenerateID(content, meta.Source)
		ids[i] = id

		embedding, err := ds.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("failed to embed document: %w", err)
		}

		translations := meta.Translations
		if translations == nil {
			translations = map[models.Lang]models.Translation{}
		}

		_, err = tx.Exec(ctx, stmt,
			id,
			content,
			sanitizeUTF8(meta.Title),
			meta.Category,
			meta.Source,
			meta.SourceURL,
			meta.Tier,
			translations,
			pgvector.NewVector(embedding),
		)
		if err != nil {
			return nil, storageErr("insert document", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit transaction", err)
	}

	return ids, nil
}

// Get fetches a document by id. Unknown ids fail with types.ErrNotFound.
func (ds *DocumentStore) Get(ctx context.Context, id string) (models.Document, error) {
	query := fmt.Sprintf(`
		SELECT id, content, title, category, source, source_url, tier, translations
		FROM %s WHERE id = $1`, ds.config.TableName)

	doc, err := scanDocument(ds.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
		}
		return models.Document{}, storageErr("get document", err)
	}
	return doc, nil
}

// Update replaces a document's metadata. Content and embedding are immutable.
func (ds *DocumentStore) Update(ctx context.Context, id string, meta models.Metadata) error {
	stmt := fmt.Sprintf(`
		UPDATE %s SET title = $2, category = $3, source = $4, source_url = $5, tier = $6, translations = $7
		WHERE id = $1`, ds.config.TableName)

	translations := meta.Translations
	if translations == nil {
		translations = map[models.Lang]models.Translation{}
	}

	tag, err := ds.pool.Exec(ctx, stmt, id,
		sanitizeUTF8(meta.Title), meta.Category, meta.Source, meta.SourceURL, meta.Tier, translations)
	if err != nil {
		return storageErr("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return nil
}

// Delete removes a document. Unknown ids fail with types.ErrNotFound.
func (ds *DocumentStore) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, ds.config.TableName)

	tag, err := ds.pool.Exec(ctx, stmt, id)
	if err != nil {
		return storageErr("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return nil
}

// Query runs nearest-neighbor search over the collection, returning hits
// best-first with their raw cosine distances.
func (ds *DocumentStore) Query(ctx context.Context, text string, k int, filter types.Filter) ([]types.Hit, error) {
	if k <= 0 {
		k = 5
	}

	embedding, err := ds.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	where, args := buildWhere(filter, 2)
	args = append([]interface{}{pgvector.NewVector(embedding)}, args...)
	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT id, content, title, category, source, source_url, tier, translations,
		       embedding <=> $1 AS distance
		FROM %s
		%s
		ORDER BY distance
		LIMIT $%d`,
		ds.config.TableName, where, len(args))

	rows, err := ds.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query documents", err)
	}
	defer rows.Close()

	var hits []types.Hit
	for rows.Next() {
		var doc models.Document
		var distance float64
		err := rows.Scan(
			&doc.ID,
			&doc.Content,
			&doc.Metadata.Title,
			&doc.Metadata.Category,
			&doc.Metadata.Source,
			&doc.Metadata.SourceURL,
			&doc.Metadata.Tier,
			&doc.Metadata.Translations,
			&distance,
		)
		if err != nil {
			return nil, storageErr("scan row", err)
		}
		hits = append(hits, types.Hit{Document: doc, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query documents", err)
	}

	return hits, nil
}

// GetByFilter fetches documents matching the filter, up to limit.
func (ds *DocumentStore) GetByFilter(ctx context.Context, filter types.Filter, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	where, args := buildWhere(filter, 1)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, content, title, category, source, source_url, tier, translations
		FROM %s
		%s
		ORDER BY tier, id
		LIMIT $%d`,
		ds.config.TableName, where, len(args))

	rows, err := ds.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get by filter", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, storageErr("scan row", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get by filter", err)
	}

	return docs, nil
}

// Count returns the number of stored documents.
func (ds *DocumentStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ds.config.TableName)
	if err := ds.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, storageErr("count documents", err)
	}
	return count, nil
}

// CategoryCounts returns the number of documents per category.
func (ds *DocumentStore) CategoryCounts(ctx context.Context) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT category, COUNT(*) FROM %s GROUP BY category`, ds.config.TableName)

	rows, err := ds.pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("category counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, storageErr("scan row", err)
		}
		counts[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("category counts", err)
	}

	return counts, nil
}

// ClearTranslations force-clears the translation cache across the whole
// store. Maintenance operation; entries repopulate lazily afterwards.
func (ds *DocumentStore) ClearTranslations(ctx context.Context) (int, error) {
	stmt := fmt.Sprintf(`UPDATE %s SET translations = '{}'`, ds.config.TableName)
	tag, err := ds.pool.Exec(ctx, stmt)
	if err != nil {
		return 0, storageErr("clear translations", err)
	}
	return int(tag.RowsAffected()), nil
}

func (ds *DocumentStore) Close() {
	if ds.pool != nil {
		ds.pool.Close()
	}
}

// buildWhere renders the filter as a WHERE clause with placeholders starting
// at startArg. Predicates are combined by AND.
func buildWhere(filter types.Filter, startArg int) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Category != "" {
		clauses = append(clauses, fmt.Sprintf("category = $%d", startArg+len(args)))
		args = append(args, filter.Category)
	}
	if filter.Tier != 0 {
		clauses = append(clauses, fmt.Sprintf("tier = $%d", startArg+len(args)))
		args = append(args, filter.Tier)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var doc models.Document
	err := row.Scan(
		&doc.ID,
		&doc.Content,
		&doc.Metadata.Title,
		&doc.Metadata.Category,
		&doc.Metadata.Source,
		&doc.Metadata.SourceURL,
		&doc.Metadata.Tier,
		&doc.Metadata.Translations,
	)
	return doc, err
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, types.ErrStorageUnavailable, err)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
