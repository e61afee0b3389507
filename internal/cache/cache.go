// Package cache implements the two-tier translation memo (C5): an L1
// in-memory LRU backed by an L2 embedded SQLite database, keyed by a
// fingerprint over everything that semantically affects a translation
// (spec §4.5). A cache hit must be behaviorally indistinguishable from a
// successful model call for the same input.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

// Key identifies an Entry. Fingerprint is a sha256 digest over source text,
// source/target language, provider id, model id, system-prompt version, and
// pipeline schema version — changing any of those invalidates the entry
// (spec §4.5, "cache key stability").
type Key struct {
	Fingerprint string
	SourceLang  string
	TargetLang  string
	Provider    string
	Model       string
}

// Entry is the cached value plus its bookkeeping metadata.
type Entry struct {
	Translation string
	CreatedAt   time.Time
	Hits        int
}

// Fingerprint computes the stable digest for a translation request. promptVersion
// and schemaVersion are folded in so a prompt-template or pipeline-schema change
// invalidates every previously cached entry for the same text.
func Fingerprint(sourceText, sourceLang, targetLang, provider, model, promptVersion, schemaVersion string) string {
	h := sha256.New()
	for _, part := range []string{sourceText, sourceLang, targetLang, provider, model, promptVersion, schemaVersion} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type writeReq struct {
	key        Key
	sourceText string
	entry      Entry
}

// Cache is the two-tier memo. L1 reads/writes never block on disk I/O; L2
// writes are queued through a single writer goroutine per spec §4.4's
// "Cache L2 is shared; all writes are serialized through a single writer
// task consuming a bounded queue."
type Cache struct {
	l1       *lru.Cache[string, Entry]
	db       *sql.DB
	writes   chan writeReq
	done     chan struct{}
	dropped  func(err error)
}

// Options configures L1 size and the L2 write queue depth.
type Options struct {
	L1Size      int
	WriteQueue  int
	OnDropWrite func(error) // optional; called when an L2 write fails (non-fatal, spec §4.8 "cache error")
}

// Open constructs a Cache. dbPath may be ":memory:" for tests.
func Open(dbPath string, opts Options) (*Cache, error) {
	if opts.L1Size <= 0 {
		opts.L1Size = 4096
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 256
	}
	l1, err := lru.New[string, Entry](opts.L1Size)
	if err != nil {
		return nil, fmt.Errorf("cache: l1: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cache: open l2: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	c := &Cache{
		l1:      l1,
		db:      db,
		writes:  make(chan writeReq, opts.WriteQueue),
		done:    make(chan struct{}),
		dropped: opts.OnDropWrite,
	}
	go c.writeLoop()
	return c, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS translations (
	fingerprint TEXT PRIMARY KEY,
	source_text TEXT NOT NULL,
	source_lang TEXT NOT NULL,
	target_lang TEXT NOT NULL,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	translation TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	hits        INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sessions (
	input_fingerprint TEXT PRIMARY KEY,
	last_batch_index  INTEGER NOT NULL,
	tokens_in         INTEGER NOT NULL,
	tokens_out        INTEGER NOT NULL,
	last_error        TEXT,
	updated_at        DATETIME NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// DB exposes the underlying L2 handle so internal/session can share the same
// embedded database file and connection pool (spec §6: cache and checkpoint
// store are "a single embedded relational database").
func (c *Cache) DB() *sql.DB { return c.db }

// Close stops the write loop (draining the queue) and closes the L2 handle.
func (c *Cache) Close() error {
	close(c.writes)
	<-c.done
	return c.db.Close()
}

func (c *Cache) writeLoop() {
	defer close(c.done)
	for w := range c.writes {
		_, err := c.db.Exec(`
			INSERT INTO translations (fingerprint, source_text, source_lang, target_lang, provider, model, translation, created_at, hits)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(fingerprint) DO UPDATE SET translation = excluded.translation, hits = translations.hits + 1`,
			w.key.Fingerprint, w.sourceText, w.key.SourceLang, w.key.TargetLang, w.key.Provider, w.key.Model,
			w.entry.Translation, w.entry.CreatedAt)
		if err != nil && c.dropped != nil {
			c.dropped(err)
		}
	}
}

// Get checks L1 first, then L2. A miss on either path is a plain (Entry{},
// false) — never an error (spec §4.8: "a cache read miss on error path is
// treated as absent").
func (c *Cache) Get(ctx context.Context, key Key) (Entry, bool) {
	if e, ok := c.l1.Get(key.Fingerprint); ok {
		return e, true
	}
	row := c.db.QueryRowContext(ctx, `SELECT translation, created_at, hits FROM translations WHERE fingerprint = ?`, key.Fingerprint)
	var e Entry
	if err := row.Scan(&e.Translation, &e.CreatedAt, &e.Hits); err != nil {
		return Entry{}, false
	}
	c.l1.Add(key.Fingerprint, e)
	return e, true
}

// Put writes through to L1 immediately and enqueues the L2 write. If the
// queue is full the write is dropped and reported via OnDropWrite rather
// than blocking the translation pass (spec §4.8 cache-error non-fatality).
func (c *Cache) Put(key Key, sourceText, translation string) {
	e := Entry{Translation: translation, CreatedAt: time.Now(), Hits: 1}
	c.l1.Add(key.Fingerprint, e)
	select {
	case c.writes <- writeReq{key: key, sourceText: sourceText, entry: e}:
	default:
		if c.dropped != nil {
			c.dropped(fmt.Errorf("cache: l2 write queue full, dropped fingerprint %s", key.Fingerprint))
		}
	}
}

// Warm preloads up to limit L2 rows for the given language pair into L1
// (flag-gated by spec §4.5 "Warming").
func (c *Cache) Warm(ctx context.Context, sourceLang, targetLang string, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT fingerprint, translation, created_at, hits FROM translations WHERE source_lang = ? AND target_lang = ? ORDER BY hits DESC LIMIT ?`,
		sourceLang, targetLang, limit)
	if err != nil {
		return 0, fmt.Errorf("cache: warm: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var fp string
		var e Entry
		if err := rows.Scan(&fp, &e.Translation, &e.CreatedAt, &e.Hits); err != nil {
			return n, err
		}
		c.l1.Add(fp, e)
		n++
	}
	return n, rows.Err()
}
