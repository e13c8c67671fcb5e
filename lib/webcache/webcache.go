// Package webcache is a small sqlite-backed TTL cache for vendor
// responses. Search pages are the only thing worth caching: they are
// expensive to fetch past the anti-bot layer and go stale slowly, while
// carts and orders must always be re-fetched from the remote.
package webcache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("webcache: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS webcache (
	cache_key TEXT PRIMARY KEY,
	contents BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS webcache_expiry ON webcache (expires_at);
`

type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the cache database at path. ":memory:" works
// for tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, now: time.Now}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached body for key, or ErrNotFound when the entry is
// missing or expired. Expired rows are deleted on read.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var contents []byte
	var expiresAt int64
	err := c.db.QueryRowContext(
		ctx,
		`SELECT contents, expires_at FROM webcache WHERE cache_key = ?`,
		key,
	).Scan(&contents, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if c.now().Unix() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM webcache WHERE cache_key = ?`, key)
		return nil, ErrNotFound
	}
	return contents, nil
}

// Set stores the body under key with the given lifetime, replacing any
// previous entry.
func (c *Cache) Set(ctx context.Context, key string, contents []byte, lifetime time.Duration) error {
	expiresAt := c.now().Add(lifetime).Unix()
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO webcache (cache_key, contents, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET contents = excluded.contents, expires_at = excluded.expires_at`,
		key, contents, expiresAt,
	)
	return err
}
