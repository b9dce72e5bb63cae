package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cyx-sec/cyx/pkg/embedder"
	"github.com/cyx-sec/cyx/pkg/models"
)

// DBFile is the database file name inside the cache directory.
const DBFile = "queries.db"

const secondsPerDay = 86400

// Cache is the persistent query cache backed by a single SQLite file. Exact
// lookups go through the unique query hash; approximate lookups scan stored
// embeddings linearly.
type Cache struct {
	db       *sql.DB
	dir      string
	path     string
	embedder embedder.Vectorizer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithEmbedder sets the Vectorizer used for similarity search.
func WithEmbedder(v embedder.Vectorizer) Option {
	return func(c *Cache) { c.embedder = v }
}

// WithoutEmbeddings disables embeddings. Rows are stored without vectors and
// SearchSimilar always returns no matches.
func WithoutEmbeddings() Option {
	return func(c *Cache) { c.embedder = nil }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New opens (creating if needed) the cache database in cacheDir and ensures
// the schema exists.
func New(cacheDir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(cacheDir, DBFile)
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and it keeps
	// transactions and pragmas on the same handle.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{
		db:       db,
		dir:      cacheDir,
		path:     path,
		embedder: embedder.New(embedder.DefaultDimensions),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// Store inserts a cache entry, or overwrites the entry with the same hash and
// increments its access count. It returns the row id.
func (c *Cache) Store(ctx context.Context, original, normalized, hash, response, provider, model string) (int64, error) {
	now := c.now().Unix()

	var blob any
	if vec := c.embed(normalized); vec != nil {
		data, err := embedder.Marshal(vec)
		if err != nil {
			c.logger.Warn("storing entry without embedding", zap.String("hash", hash), zap.Error(err))
		} else {
			blob = data
		}
	}

	var id int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO queries (
			query_original, query_normalized, query_hash, embedding, response,
			provider, model, created_at, last_accessed, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(query_hash) DO UPDATE SET
			embedding = excluded.embedding,
			response = excluded.response,
			provider = excluded.provider,
			model = excluded.model,
			last_accessed = excluded.last_accessed,
			access_count = queries.access_count + 1
		RETURNING id`,
		original, normalized, hash, blob, response, provider, model, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cache store: %w", err)
	}

	c.logger.Debug("stored cache entry", zap.Int64("id", id), zap.String("hash", hash))
	return id, nil
}

// embed returns the vector for text, or nil when embeddings are disabled or
// fail. Failures are logged and never surface to callers.
func (c *Cache) embed(text string) []float32 {
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(text)
	if err != nil {
		c.logger.Warn("embedding failed", zap.Error(err))
		return nil
	}
	return vec
}

const selectColumns = `id, query_original, query_normalized, query_hash, embedding, response,
	provider, model, created_at, last_accessed, access_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (models.CachedQuery, []byte, error) {
	var q models.CachedQuery
	var blob []byte
	var createdAt, lastAccessed int64
	err := s.Scan(
		&q.ID, &q.QueryOriginal, &q.QueryNormalized, &q.QueryHash, &blob, &q.Response,
		&q.Provider, &q.Model, &createdAt, &lastAccessed, &q.AccessCount,
	)
	if err != nil {
		return q, nil, err
	}
	q.CreatedAt = time.Unix(createdAt, 0).UTC()
	q.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	return q, blob, nil
}

// GetByHash returns the entry with the given hash, or nil if there is none.
// A hit bumps the entry's access bookkeeping and the global hit counter; the
// returned entry reflects the row before that update. A miss bumps the global
// miss counter.
func (c *Cache) GetByHash(ctx context.Context, hash string) (*models.CachedQuery, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM queries WHERE query_hash = ?`, hash)
	q, blob, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		if err := c.bumpCounter(ctx, "miss_count"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if blob != nil {
		if vec, err := embedder.Unmarshal(blob); err == nil {
			q.Embedding = vec
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE queries SET last_accessed = ?, access_count = access_count + 1 WHERE query_hash = ?`,
		c.now().Unix(), hash,
	); err != nil {
		return nil, fmt.Errorf("update access: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_stats SET hit_count = hit_count + 1 WHERE id = 1`,
	); err != nil {
		return nil, fmt.Errorf("increment hit count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return &q, nil
}

func (c *Cache) bumpCounter(ctx context.Context, column string) error {
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE cache_stats SET %s = %s + 1 WHERE id = 1`, column, column))
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// Touch records an access to the entry with the given hash without changing
// the global hit/miss counters. It reports whether the entry exists.
func (c *Cache) Touch(ctx context.Context, hash string) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE queries SET last_accessed = ?, access_count = access_count + 1 WHERE query_hash = ?`,
		c.now().Unix(), hash,
	)
	if err != nil {
		return false, fmt.Errorf("cache touch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache touch: %w", err)
	}
	return n > 0, nil
}

// SearchSimilar embeds normalized and returns stored entries whose cosine
// similarity is at least threshold, best first, at most limit of them
// (limit <= 0 means no cap). Rows without an embedding, or with one that
// cannot be decoded, are skipped.
func (c *Cache) SearchSimilar(ctx context.Context, normalized string, threshold float32, limit int) ([]models.SimilarMatch, error) {
	query := c.embed(normalized)
	if query == nil {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM queries WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("cache search: %w", err)
	}
	defer rows.Close()

	var matches []models.SimilarMatch
	for rows.Next() {
		q, blob, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		vec, err := embedder.Unmarshal(blob)
		if err != nil {
			c.logger.Debug("skipping entry with unreadable embedding", zap.Int64("id", q.ID), zap.Error(err))
			continue
		}
		score := embedder.CosineSimilarity(query, vec)
		if score < threshold {
			continue
		}
		q.Embedding = vec
		matches = append(matches, models.SimilarMatch{Entry: q, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache search: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ListAll returns entries, most recently accessed first. limit <= 0 returns
// every entry.
func (c *Cache) ListAll(ctx context.Context, limit int) ([]models.CachedQuery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM queries ORDER BY last_accessed DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("cache list: %w", err)
	}
	defer rows.Close()

	var entries []models.CachedQuery
	for rows.Next() {
		q, blob, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if blob != nil {
			if vec, err := embedder.Unmarshal(blob); err == nil {
				q.Embedding = vec
			}
		}
		entries = append(entries, q)
	}
	return entries, rows.Err()
}

// Stats returns aggregate cache metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	var oldest, newest sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(LENGTH(CAST(response AS BLOB)) + LENGTH(CAST(query_original AS BLOB))), 0),
			MIN(created_at), MAX(created_at)
		FROM queries`,
	).Scan(&stats.TotalEntries, &stats.TotalSizeBytes, &oldest, &newest)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}

	err = c.db.QueryRowContext(ctx,
		`SELECT hit_count, miss_count FROM cache_stats WHERE id = 1`,
	).Scan(&stats.HitCount, &stats.MissCount)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}

	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0).UTC()
		stats.OldestEntry = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0).UTC()
		stats.NewestEntry = &t
	}
	return stats, nil
}

// RemoveByHash deletes the entry with the given hash and reports whether one
// existed.
func (c *Cache) RemoveByHash(ctx context.Context, hash string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM queries WHERE query_hash = ?`, hash)
	if err != nil {
		return false, fmt.Errorf("cache remove: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache remove: %w", err)
	}
	return n > 0, nil
}

// Clear deletes every entry and resets the hit and miss counters. It returns
// the number of entries deleted.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM queries`)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_stats SET hit_count = 0, miss_count = 0 WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("reset cache stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}

	c.logger.Info("cache cleared", zap.Int64("entries", n))
	return n, nil
}

// CleanupOldEntries deletes entries created more than maxAgeDays days ago and
// returns how many were removed. Hit and miss counters are left alone.
func (c *Cache) CleanupOldEntries(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("cache cleanup: negative max age %d", maxAgeDays)
	}
	cutoff := c.now().Unix() - int64(maxAgeDays)*secondsPerDay

	res, err := c.db.ExecContext(ctx, `DELETE FROM queries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}

	c.logger.Debug("removed old cache entries", zap.Int64("entries", n), zap.Int("max_age_days", maxAgeDays))
	return n, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
