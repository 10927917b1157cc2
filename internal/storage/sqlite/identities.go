// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

// IdentityStore persists user identities in SQLite.
type IdentityStore struct {
	sqlDB *sql.DB
}

const identityColumns = `handle, username, display_name, email, created_at, primary_credential_id`

// FindByUsername returns the identity or ceremony.ErrUserResolutionFailed.
func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*ceremony.UserIdentity, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM users WHERE username = ?`, username)
	return scanIdentity(row)
}

// FindByHandle returns the identity or ceremony.ErrUserResolutionFailed.
func (s *IdentityStore) FindByHandle(ctx context.Context, handle []byte) (*ceremony.UserIdentity, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM users WHERE handle = ?`, handle)
	return scanIdentity(row)
}

// Insert persists a new identity. The handle must already be assigned.
func (s *IdentityStore) Insert(ctx context.Context, identity *ceremony.UserIdentity) error {
	if len(identity.Handle) == 0 {
		return fmt.Errorf("identity handle is required")
	}
	if identity.Username == "" {
		return fmt.Errorf("identity username is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		identity.Handle,
		identity.Username,
		identity.DisplayName,
		identity.Email,
		toMillis(identity.CreatedAt),
		identity.PrimaryCredentialID,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// Delete removes an identity by handle.
func (s *IdentityStore) Delete(ctx context.Context, handle []byte) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM users WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return requireAffected(result, ceremony.ErrUserResolutionFailed)
}

// MaxPlaceholderIndex returns the highest numeric suffix among generated
// placeholder usernames, zero when none exist.
func (s *IdentityStore) MaxPlaceholderIndex(ctx context.Context) (uint64, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT username FROM users WHERE username LIKE 'user\_%' ESCAPE '\'`)
	if err != nil {
		return 0, fmt.Errorf("query placeholder usernames: %w", err)
	}
	defer rows.Close()

	var max uint64
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return 0, fmt.Errorf("scan username: %w", err)
		}
		if index, ok := ceremony.PlaceholderIndex(username); ok && index > max {
			max = index
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate usernames: %w", err)
	}
	return max, nil
}

// SetPrimaryCredential records the user's first credential.
func (s *IdentityStore) SetPrimaryCredential(ctx context.Context, handle []byte, credentialID []byte) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET primary_credential_id = ? WHERE handle = ?`, credentialID, handle)
	if err != nil {
		return fmt.Errorf("set primary credential: %w", err)
	}
	return requireAffected(result, ceremony.ErrUserResolutionFailed)
}

func scanIdentity(row rowScanner) (*ceremony.UserIdentity, error) {
	var (
		identity  ceremony.UserIdentity
		createdAt int64
	)
	err := row.Scan(
		&identity.Handle,
		&identity.Username,
		&identity.DisplayName,
		&identity.Email,
		&createdAt,
		&identity.PrimaryCredentialID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ceremony.ErrUserResolutionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	return &identity, nil
}
