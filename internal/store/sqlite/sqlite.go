// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/store"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", func(cfg store.Config) (store.StateStore, error) {
		return New(cfg.Path)
	})
}

// StateStore implements store.StateStore backed by a single SQLite database.
type StateStore struct {
	db *sql.DB
}

var _ store.StateStore = (*StateStore)(nil)

// New opens (or creates) a SQLite database at dbPath and initialises the
// provider_state, offline_queue, and cache_entries tables.
func New(dbPath string) (*StateStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreOpenFailure, "opening state db %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreOpenFailure, "pinging state db %s", dbPath)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreOpenFailure, "migrating state db %s", dbPath)
	}

	return &StateStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS provider_state (
	class      TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS offline_queue (
	position    INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     BLOB NOT NULL,
	enqueued_at TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key       TEXT PRIMARY KEY,
	value     BLOB NOT NULL,
	stored_at TEXT NOT NULL,
	ttl_ms    INTEGER NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *StateStore) SaveClassState(ctx context.Context, class registry.Class, snap registry.ClassSnapshot) error {
	record, err := json.Marshal(snap)
	if err != nil {
		return bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreWriteFailure, "encoding state for class %s", class)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_state (class, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(class) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		string(class), string(record), snap.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "saving class state",
			bulwarkerr.FieldClass(string(class)))
	}
	return nil
}

func (s *StateStore) LoadClassState(ctx context.Context, class registry.Class) (registry.ClassSnapshot, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM provider_state WHERE class = ?`, string(class)).Scan(&record)
	if err == sql.ErrNoRows {
		return registry.ClassSnapshot{}, false, nil
	}
	if err != nil {
		return registry.ClassSnapshot{}, false, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure,
			"loading class state", bulwarkerr.FieldClass(string(class)))
	}

	var snap registry.ClassSnapshot
	if err := json.Unmarshal([]byte(record), &snap); err != nil {
		return registry.ClassSnapshot{}, false, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure,
			"decoding class state", bulwarkerr.FieldClass(string(class)))
	}
	return snap, true, nil
}

// SaveQueue replaces the persisted queue with items, preserving order.
// The rewrite runs in one transaction so a crash mid-drain never leaves a
// partially written queue behind.
func (s *StateStore) SaveQueue(ctx context.Context, items []store.QueuedOperation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "beginning queue save")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue`); err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "clearing queue")
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offline_queue (id, kind, payload, enqueued_at, attempts)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.Kind, []byte(item.Payload),
			item.EnqueuedAt.UTC().Format(time.RFC3339Nano), item.Attempts)
		if err != nil {
			return bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreWriteFailure, "inserting queue item %s", item.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "committing queue save")
	}
	return nil
}

func (s *StateStore) LoadQueue(ctx context.Context) ([]store.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, enqueued_at, attempts
		FROM offline_queue ORDER BY position ASC`)
	if err != nil {
		return nil, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure, "loading queue")
	}
	defer rows.Close()

	var items []store.QueuedOperation
	for rows.Next() {
		var (
			item       store.QueuedOperation
			payload    []byte
			enqueuedAt string
		)
		if err := rows.Scan(&item.ID, &item.Kind, &payload, &enqueuedAt, &item.Attempts); err != nil {
			return nil, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure, "scanning queue item")
		}
		item.Payload = payload
		item.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreReadFailure, "parsing enqueue time %q", enqueuedAt)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure, "iterating queue rows")
	}
	return items, nil
}

func (s *StateStore) PutCache(ctx context.Context, key string, entry store.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at, ttl_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, stored_at = excluded.stored_at, ttl_ms = excluded.ttl_ms`,
		key, []byte(entry.Value), entry.StoredAt.UTC().Format(time.RFC3339Nano), entry.TTL.Milliseconds())
	if err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "writing cache entry",
			bulwarkerr.FieldCacheKey(key))
	}
	return nil
}

func (s *StateStore) GetCache(ctx context.Context, key string) (store.CacheEntry, bool, error) {
	var (
		value    []byte
		storedAt string
		ttlMS    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at, ttl_ms FROM cache_entries WHERE key = ?`, key).
		Scan(&value, &storedAt, &ttlMS)
	if err == sql.ErrNoRows {
		return store.CacheEntry{}, false, nil
	}
	if err != nil {
		return store.CacheEntry{}, false, bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure,
			"reading cache entry", bulwarkerr.FieldCacheKey(key))
	}

	entry := store.CacheEntry{
		Value: value,
		TTL:   time.Duration(ttlMS) * time.Millisecond,
	}
	entry.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return store.CacheEntry{}, false, bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreReadFailure,
			"parsing cache timestamp %q", storedAt)
	}
	return entry, true, nil
}

func (s *StateStore) DeleteCache(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "deleting cache entry",
			bulwarkerr.FieldCacheKey(key))
	}
	return nil
}

func (s *StateStore) DeleteCacheContaining(ctx context.Context, pattern string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE '%' || ? || '%' ESCAPE '\'`,
		escapeLike(pattern))
	if err != nil {
		return bulwarkerr.Wrapf(err, bulwarkerr.CodeStoreWriteFailure, "deleting cache entries matching %q", pattern)
	}
	return nil
}

func (s *StateStore) PurgeCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreWriteFailure, "purging cache")
	}
	return nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

// escapeLike neutralises LIKE wildcards so patterns match literally.
func escapeLike(pattern string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(pattern)
}
