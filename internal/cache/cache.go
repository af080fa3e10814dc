// Package cache provides SQLite-backed storage for prior query results.
// Entries are keyed by (source, normalized topic) and replaced wholesale on
// every write; readers never see a partially updated entry.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/guidepost/internal/solution"
)

// Cache stores query results with a freshness window.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Cache struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open creates a Cache at dbPath, creating tables if needed.
// Uses WAL mode for file-based databases; ":memory:" is supported for tests.
func Open(dbPath string) (*Cache, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	c := &Cache{db: db, now: time.Now}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return c, nil
}

func (c *Cache) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		source TEXT NOT NULL,
		topic_hash TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (source, topic_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_results_fetched ON results(fetched_at);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// SetClock overrides the time source. Test use only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Close closes the database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// TopicKey normalizes a topic string and hashes it into a cache key.
// Case and whitespace differences map to the same key.
func TopicKey(topic string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(topic)), " ")
	h := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(h[:8])
}

// Get returns the cached candidates for (source, topic) if an entry exists
// and is younger than ttl. The second return is false on miss or expiry.
func (c *Cache) Get(source solution.SourceID, topic string, ttl time.Duration) ([]solution.Candidate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var payload string
	var fetchedAt time.Time
	err := c.db.QueryRow(
		"SELECT payload, fetched_at FROM results WHERE source = ? AND topic_hash = ?",
		string(source), TopicKey(topic),
	).Scan(&payload, &fetchedAt)
	if err != nil {
		return nil, false
	}

	if c.now().After(fetchedAt.Add(ttl)) {
		return nil, false
	}

	var candidates []solution.Candidate
	if err := json.Unmarshal([]byte(payload), &candidates); err != nil {
		// Corrupt payload reads as a miss; the next fetch overwrites it
		return nil, false
	}
	return candidates, true
}

// Put replaces the entry for (source, topic) with the given candidates.
func (c *Cache) Put(source solution.SourceID, topic string, candidates []solution.Candidate) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(`
		INSERT INTO results (source, topic_hash, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, topic_hash) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, string(source), TopicKey(topic), string(payload), c.now())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries older than ttl. Returns rows removed.
func (c *Cache) PurgeExpired(ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM results WHERE fetched_at < ?", c.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return res.RowsAffected()
}
