// Package store is the persisted configuration store: provider
// records, issued-key hashes, settings, and append-only request/sync
// logs, all behind one SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hermesgw/hermes/internal/providers"
)

// Store wraps a single long-lived *sql.DB in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and
// runs schema migration.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // WAL + single-writer; avoids SQLITE_BUSY under our own lock discipline

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database connection is healthy (used by the
// /health endpoint).
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			baseUrl TEXT NOT NULL,
			apiKey TEXT NOT NULL,
			models TEXT NOT NULL DEFAULT '[]',
			modelBlacklist TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			createdAt INTEGER NOT NULL,
			lastSyncedAt INTEGER,
			lastUsedAt INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			providerId TEXT NOT NULL,
			providerName TEXT NOT NULL,
			model TEXT NOT NULL,
			result TEXT NOT NULL,
			message TEXT,
			createdAt INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			model TEXT,
			status INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			ip TEXT,
			createdAt INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hermes_keys (
			id TEXT PRIMARY KEY,
			keyHash TEXT NOT NULL,
			description TEXT,
			createdAt INTEGER NOT NULL,
			lastUsedAt INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_models (
			model TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_providers (
			providerId TEXT PRIMARY KEY,
			providerName TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Provider CRUD ---

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func unmarshalList(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// InsertProvider persists a new provider record with its given status.
func (s *Store) InsertProvider(ctx context.Context, r providers.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, baseUrl, apiKey, models, modelBlacklist, status, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.BaseURL, r.APIKey, marshalList(r.Models), marshalList(r.ModelBlacklist),
		string(r.Status), r.CreatedAt.UnixMilli(),
	)
	return err
}

// GetProvider reads one provider record by id.
func (s *Store) GetProvider(ctx context.Context, id string) (providers.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, baseUrl, apiKey, models, modelBlacklist, status, createdAt, lastSyncedAt, lastUsedAt
		FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// ListProviders returns every stored provider record.
func (s *Store) ListProviders(ctx context.Context) ([]providers.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, baseUrl, apiKey, models, modelBlacklist, status, createdAt, lastSyncedAt, lastUsedAt
		FROM providers ORDER BY createdAt ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []providers.Record
	for rows.Next() {
		r, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (providers.Record, error) {
	var (
		r                        providers.Record
		status                   string
		models, blacklist        string
		createdAt                int64
		lastSyncedAt, lastUsedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.BaseURL, &r.APIKey, &models, &blacklist, &status, &createdAt, &lastSyncedAt, &lastUsedAt); err != nil {
		return providers.Record{}, err
	}
	r.Status = providers.Status(status)
	r.Models = unmarshalList(models)
	r.ModelBlacklist = unmarshalList(blacklist)
	r.CreatedAt = time.UnixMilli(createdAt)
	if lastSyncedAt.Valid {
		r.LastSyncedAt = time.UnixMilli(lastSyncedAt.Int64)
	}
	if lastUsedAt.Valid {
		r.LastUsedAt = time.UnixMilli(lastUsedAt.Int64)
	}
	return r, nil
}

// UpdateProviderStatus updates status, model list, and lastSyncedAt for
// an in-progress or completed sync.
func (s *Store) UpdateProviderStatus(ctx context.Context, id string, status providers.Status, models []string, syncedNow bool) error {
	if syncedNow {
		_, err := s.db.ExecContext(ctx, `UPDATE providers SET status = ?, models = ?, lastSyncedAt = ? WHERE id = ?`,
			string(status), marshalList(models), time.Now().UnixMilli(), id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE providers SET status = ?, models = ? WHERE id = ?`,
		string(status), marshalList(models), id)
	return err
}

// ResetProviderForResync sets a provider to the given status with an
// empty model list and no lastSyncedAt ahead of a fresh sync.
func (s *Store) ResetProviderForResync(ctx context.Context, id string, status providers.Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE providers SET status = ?, models = '[]', lastSyncedAt = NULL WHERE id = ?`,
		string(status), id)
	return err
}

// TouchLastUsed stamps lastUsedAt for a provider that just served a
// request.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE providers SET lastUsedAt = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// UpdateProviderEndpoint updates base URL/key/blacklist for an existing
// provider (admin Update) and resets it for resync.
func (s *Store) UpdateProviderEndpoint(ctx context.Context, id, baseURL, apiKey string, blacklist []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE providers SET baseUrl = ?, apiKey = ?, modelBlacklist = ?, status = 'pending', models = '[]', lastSyncedAt = NULL
		WHERE id = ?`, baseURL, apiKey, marshalList(blacklist), id)
	return err
}

// DeleteProvider removes a provider record.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	return err
}

// --- Settings ---

// GetSetting reads a single setting value, returning ok=false if absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts a single setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// --- Issued keys ---

// KeyRecord is a stored bearer-key record. KeyHash never stores the
// plaintext key.
type KeyRecord struct {
	ID          string
	KeyHash     string
	Description string
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// InsertKey persists a new issued-key record.
func (s *Store) InsertKey(ctx context.Context, k KeyRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO hermes_keys (id, keyHash, description, createdAt) VALUES (?, ?, ?, ?)`,
		k.ID, k.KeyHash, k.Description, k.CreatedAt.UnixMilli())
	return err
}

// ListKeys returns every issued-key record (hashes only).
func (s *Store) ListKeys(ctx context.Context) ([]KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, keyHash, description, createdAt, lastUsedAt FROM hermes_keys ORDER BY createdAt ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyRecord
	for rows.Next() {
		var k KeyRecord
		var createdAt int64
		var lastUsedAt sql.NullInt64
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.Description, &createdAt, &lastUsedAt); err != nil {
			return nil, err
		}
		k.CreatedAt = time.UnixMilli(createdAt)
		if lastUsedAt.Valid {
			k.LastUsedAt = time.UnixMilli(lastUsedAt.Int64)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// KeyByHash looks up an issued-key record by its stored hash.
func (s *Store) KeyByHash(ctx context.Context, hash string) (KeyRecord, bool, error) {
	var k KeyRecord
	var createdAt int64
	var lastUsedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT id, keyHash, description, createdAt, lastUsedAt FROM hermes_keys WHERE keyHash = ?`, hash).
		Scan(&k.ID, &k.KeyHash, &k.Description, &createdAt, &lastUsedAt)
	if err == sql.ErrNoRows {
		return KeyRecord{}, false, nil
	}
	if err != nil {
		return KeyRecord{}, false, err
	}
	k.CreatedAt = time.UnixMilli(createdAt)
	if lastUsedAt.Valid {
		k.LastUsedAt = time.UnixMilli(lastUsedAt.Int64)
	}
	return k, true, nil
}

// TouchKeyLastUsed stamps a key's lastUsedAt.
func (s *Store) TouchKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE hermes_keys SET lastUsedAt = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// DeleteKey removes an issued-key record.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hermes_keys WHERE id = ?`, id)
	return err
}
