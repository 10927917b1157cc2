// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

// CredentialRepository persists credential records in SQLite.
type CredentialRepository struct {
	sqlDB *sql.DB
}

const credentialColumns = `id, user_handle, public_key, attestation_type, transports, aaguid,
	user_present, user_verified, backup_eligible, backup_state,
	sign_count, clone_suspect, created_at, last_used_at, last_used_os`

// FindByCredentialID returns the record or ceremony.ErrCredentialUnknown.
func (r *CredentialRepository) FindByCredentialID(ctx context.Context, id []byte) (*ceremony.CredentialRecord, error) {
	row := r.sqlDB.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	record, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ceremony.ErrCredentialUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return record, nil
}

// FindAllForUser returns the user's credentials ordered by creation time.
func (r *CredentialRepository) FindAllForUser(ctx context.Context, userHandle []byte) ([]*ceremony.CredentialRecord, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_handle = ? ORDER BY created_at ASC, id ASC`,
		userHandle)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	records := make([]*ceremony.CredentialRecord, 0)
	for rows.Next() {
		record, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return records, nil
}

// Save persists a new record. Re-saving the same ID with the same public key
// succeeds idempotently; the same ID with a different key fails.
func (r *CredentialRepository) Save(ctx context.Context, record *ceremony.CredentialRecord) error {
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingKey []byte
	err = tx.QueryRowContext(ctx,
		`SELECT public_key FROM credentials WHERE id = ?`, record.ID).Scan(&existingKey)
	switch {
	case err == nil:
		if bytes.Equal(existingKey, record.PublicKey) {
			return nil
		}
		return ceremony.ErrDuplicateCredential
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check existing credential: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserHandle,
		record.PublicKey,
		record.AttestationType,
		joinTransports(record.Transports),
		record.AAGUID,
		record.Flags.UserPresent,
		record.Flags.UserVerified,
		record.Flags.BackupEligible,
		record.Flags.BackupState,
		record.SignCount,
		record.CloneSuspect,
		toMillis(record.CreatedAt),
		toMillis(record.LastUsedAt),
		record.LastUsedOS,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit()
}

// UpdateCounterAndUsage applies the post-authentication mutation atomically.
// The counter write is compare-and-set inside the UPDATE itself: the row only
// changes while the new counter advances past the stored value (zero over
// zero excepted), so concurrent logins cannot persist a regression. An empty
// lastUsedOS leaves the stored device label untouched.
func (r *CredentialRepository) UpdateCounterAndUsage(ctx context.Context, id []byte, newCounter uint32, lastUsedAt time.Time, lastUsedOS string) error {
	result, err := r.sqlDB.ExecContext(ctx,
		`UPDATE credentials
		 SET sign_count = ?,
		     last_used_at = ?,
		     last_used_os = CASE WHEN ? = '' THEN last_used_os ELSE ? END
		 WHERE id = ?
		   AND (sign_count < ? OR (sign_count = 0 AND ? = 0))`,
		newCounter, toMillis(lastUsedAt), lastUsedOS, lastUsedOS, id, newCounter, newCounter)
	if err != nil {
		return fmt.Errorf("update credential usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// The guard rejected the write: distinguish a missing row from a
	// counter that failed to advance.
	var one int
	err = r.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ceremony.ErrCredentialUnknown
	}
	if err != nil {
		return fmt.Errorf("check credential: %w", err)
	}
	return ceremony.ErrPossibleCloneDetected
}

// MarkCloneSuspect flags the credential for manual review.
func (r *CredentialRepository) MarkCloneSuspect(ctx context.Context, id []byte) error {
	result, err := r.sqlDB.ExecContext(ctx,
		`UPDATE credentials SET clone_suspect = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark clone suspect: %w", err)
	}
	return requireAffected(result, ceremony.ErrCredentialUnknown)
}

// Remove deletes the credential.
func (r *CredentialRepository) Remove(ctx context.Context, id []byte) error {
	result, err := r.sqlDB.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	return requireAffected(result, ceremony.ErrCredentialUnknown)
}

func requireAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*ceremony.CredentialRecord, error) {
	var (
		record     ceremony.CredentialRecord
		transports string
		createdAt  int64
		lastUsedAt int64
	)
	err := row.Scan(
		&record.ID,
		&record.UserHandle,
		&record.PublicKey,
		&record.AttestationType,
		&transports,
		&record.AAGUID,
		&record.Flags.UserPresent,
		&record.Flags.UserVerified,
		&record.Flags.BackupEligible,
		&record.Flags.BackupState,
		&record.SignCount,
		&record.CloneSuspect,
		&createdAt,
		&lastUsedAt,
		&record.LastUsedOS,
	)
	if err != nil {
		return nil, err
	}
	record.Transports = splitTransports(transports)
	record.CreatedAt = fromMillis(createdAt)
	record.LastUsedAt = fromMillis(lastUsedAt)
	return &record, nil
}

func joinTransports(transports []protocol.AuthenticatorTransport) string {
	if len(transports) == 0 {
		return ""
	}
	parts := make([]string, len(transports))
	for i, t := range transports {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitTransports(value string) []protocol.AuthenticatorTransport {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	transports := make([]protocol.AuthenticatorTransport, len(parts))
	for i, p := range parts {
		transports[i] = protocol.AuthenticatorTransport(p)
	}
	return transports
}
