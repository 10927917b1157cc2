// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package sqlite provides SQLite-backed credential and identity storage.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	handle                BLOB PRIMARY KEY,
	username              TEXT NOT NULL UNIQUE,
	display_name          TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	created_at            INTEGER NOT NULL,
	primary_credential_id BLOB
);

CREATE TABLE IF NOT EXISTS credentials (
	id               BLOB PRIMARY KEY,
	user_handle      BLOB NOT NULL,
	public_key       BLOB NOT NULL,
	attestation_type TEXT NOT NULL DEFAULT '',
	transports       TEXT NOT NULL DEFAULT '',
	aaguid           BLOB,
	user_present     INTEGER NOT NULL DEFAULT 0,
	user_verified    INTEGER NOT NULL DEFAULT 0,
	backup_eligible  INTEGER NOT NULL DEFAULT 0,
	backup_state     INTEGER NOT NULL DEFAULT 0,
	sign_count       INTEGER NOT NULL DEFAULT 0,
	clone_suspect    INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	last_used_at     INTEGER NOT NULL DEFAULT 0,
	last_used_os     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_credentials_user_handle ON credentials(user_handle);
`

// Store holds the shared SQLite handle behind the credential and identity
// repositories.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the SQLite database at path and creates the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// CountCredentials returns the number of stored credentials, for the
// credential gauge.
func (s *Store) CountCredentials(ctx context.Context) (int64, error) {
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Credentials returns the credential repository view of the store.
func (s *Store) Credentials() *CredentialRepository {
	return &CredentialRepository{sqlDB: s.sqlDB}
}

// Identities returns the identity store view of the store.
func (s *Store) Identities() *IdentityStore {
	return &IdentityStore{sqlDB: s.sqlDB}
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
