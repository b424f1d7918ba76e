package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Durable keys. The backend tokens and the PIN hash survive restarts; the
// pin-verified flag lives in the session scope and dies with the process.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyPinHash      = "pin_hash"

	KeyPinVerified = "pin_verified"
)

type Config struct {
	Path    string
	Timeout time.Duration
}

// ConfigFromEnv reads store config from environment variables.
func ConfigFromEnv() Config {
	path := os.Getenv("STORE_PATH")
	if path == "" {
		path = "nasiya-core.db"
	}
	return Config{Path: path, Timeout: 5 * time.Second}
}

// Store holds the two persisted key-value scopes the core writes through:
// a durable sqlite-backed scope and a process-lifetime session scope.
type Store struct {
	db      *sqlx.DB
	durable *DurableScope
	session *SessionScope
}

// Open opens the sqlite file, verifies connectivity with a ping and ensures
// the kv schema exists.
func Open(cfg Config) (*Store, error) {
	db, err := sqlx.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite is a single file; one writer connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{
		db:      db,
		durable: &DurableScope{db: db},
		session: NewSessionScope(),
	}
	if err := s.durable.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return s, nil
}

func (s *Store) Durable() *DurableScope { return s.durable }
func (s *Store) Session() *SessionScope { return s.session }

// DB exposes the underlying handle for repositories sharing the store file.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// ClearCredentials removes the durable tokens and user blob together with
// the session-scoped pin-verified flag. Logout and corrupt-state recovery
// must go through here so the two scopes never diverge.
func (s *Store) ClearCredentials(ctx context.Context) error {
	s.session.Delete(KeyPinVerified)
	return s.durable.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyUser)
}

// DurableScope stores keys in a single kv table.
type DurableScope struct {
	db *sqlx.DB
}

func (d *DurableScope) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS kv (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	_, err := d.db.ExecContext(ctx, ddl)
	return err
}

// Get returns the stored value for key, or "" when the key is absent.
func (d *DurableScope) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := d.db.QueryRowxContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (d *DurableScope) Set(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

func (d *DurableScope) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, k); err != nil {
			return err
		}
	}
	return nil
}

// SessionScope is an in-memory map that lives for the process lifetime,
// mirroring browser sessionStorage semantics.
type SessionScope struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewSessionScope() *SessionScope {
	return &SessionScope{m: make(map[string]string)}
}

func (s *SessionScope) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

func (s *SessionScope) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *SessionScope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}
