// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "passkey.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id byte) *ceremony.CredentialRecord {
	return &ceremony.CredentialRecord{
		ID:              []byte{id, 0x02, 0x03},
		UserHandle:      []byte("handle-1"),
		PublicKey:       []byte("public-key"),
		AttestationType: "none",
		Transports:      []protocol.AuthenticatorTransport{protocol.Internal, protocol.USB},
		AAGUID:          []byte("aaguid-0123456789"),
		Flags:           ceremony.CredentialFlags{UserPresent: true, UserVerified: true},
		SignCount:       7,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestCredentials_SaveAndFind(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))

	found, err := repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, record.UserHandle, found.UserHandle)
	assert.Equal(t, record.PublicKey, found.PublicKey)
	assert.Equal(t, record.Transports, found.Transports)
	assert.Equal(t, record.Flags, found.Flags)
	assert.Equal(t, record.SignCount, found.SignCount)
	assert.Equal(t, record.CreatedAt, found.CreatedAt)
	assert.True(t, found.LastUsedAt.IsZero())
	assert.False(t, found.CloneSuspect)
}

func TestCredentials_FindUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Credentials().FindByCredentialID(context.Background(), []byte("missing"))
	assert.ErrorIs(t, err, ceremony.ErrCredentialUnknown)
}

func TestCredentials_SaveIdempotent(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))
	assert.NoError(t, repo.Save(ctx, record))

	conflicting := testRecord(0x01)
	conflicting.PublicKey = []byte("different-key")
	assert.ErrorIs(t, repo.Save(ctx, conflicting), ceremony.ErrDuplicateCredential)
}

func TestCredentials_FindAllOrdered(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	older := testRecord(0x01)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	newer := testRecord(0x02)

	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, older))

	records, err := repo.FindAllForUser(ctx, []byte("handle-1"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older.ID, records[0].ID)
	assert.Equal(t, newer.ID, records[1].ID)

	empty, err := repo.FindAllForUser(ctx, []byte("nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCredentials_UpdateCounterAndUsage(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))

	usedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateCounterAndUsage(ctx, record.ID, 42, usedAt, "Linux"))

	found, err := repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), found.SignCount)
	assert.Equal(t, usedAt, found.LastUsedAt)
	assert.Equal(t, "Linux", found.LastUsedOS)

	// An empty device label keeps the previous one.
	require.NoError(t, repo.UpdateCounterAndUsage(ctx, record.ID, 43, usedAt, ""))
	found, err = repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(43), found.SignCount)
	assert.Equal(t, "Linux", found.LastUsedOS)

	err = repo.UpdateCounterAndUsage(ctx, []byte("missing"), 1, usedAt, "")
	assert.ErrorIs(t, err, ceremony.ErrCredentialUnknown)
}

func TestCredentials_UpdateCounterRejectsRegression(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))

	// A counter at or below the stored value loses the compare-and-set
	// inside the UPDATE and mutates nothing.
	usedAt := time.Now().UTC().Truncate(time.Millisecond)
	err := repo.UpdateCounterAndUsage(ctx, record.ID, 3, usedAt, "Linux")
	assert.ErrorIs(t, err, ceremony.ErrPossibleCloneDetected)

	err = repo.UpdateCounterAndUsage(ctx, record.ID, record.SignCount, usedAt, "Linux")
	assert.ErrorIs(t, err, ceremony.ErrPossibleCloneDetected)

	found, err := repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.SignCount, found.SignCount)
	assert.True(t, found.LastUsedAt.IsZero())
	assert.Empty(t, found.LastUsedOS)
}

func TestCredentials_UpdateCounterBothZero(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x02)
	record.SignCount = 0
	require.NoError(t, repo.Save(ctx, record))

	// Authenticators that never increment stay at zero on both sides.
	usedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateCounterAndUsage(ctx, record.ID, 0, usedAt, "iOS"))

	found, err := repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), found.SignCount)
	assert.Equal(t, usedAt, found.LastUsedAt)
	assert.Equal(t, "iOS", found.LastUsedOS)
}

func TestStore_CountCredentials(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	count, err := store.CountCredentials(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.Save(ctx, testRecord(0x01)))
	require.NoError(t, repo.Save(ctx, testRecord(0x02)))

	count, err = store.CountCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCredentials_MarkCloneSuspect(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))
	require.NoError(t, repo.MarkCloneSuspect(ctx, record.ID))

	found, err := repo.FindByCredentialID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, found.CloneSuspect)

	assert.ErrorIs(t, repo.MarkCloneSuspect(ctx, []byte("missing")), ceremony.ErrCredentialUnknown)
}

func TestCredentials_Remove(t *testing.T) {
	store := newTestStore(t)
	repo := store.Credentials()
	ctx := context.Background()

	record := testRecord(0x01)
	require.NoError(t, repo.Save(ctx, record))
	require.NoError(t, repo.Remove(ctx, record.ID))

	_, err := repo.FindByCredentialID(ctx, record.ID)
	assert.ErrorIs(t, err, ceremony.ErrCredentialUnknown)

	assert.ErrorIs(t, repo.Remove(ctx, record.ID), ceremony.ErrCredentialUnknown)
}

func testIdentity(username string) *ceremony.UserIdentity {
	return &ceremony.UserIdentity{
		Handle:      []byte("handle-" + username),
		Username:    username,
		DisplayName: "Test " + username,
		Email:       username + "@example.com",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestIdentities_InsertAndFind(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	identity := testIdentity("alice")
	require.NoError(t, identities.Insert(ctx, identity))

	byName, err := identities.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, identity.Handle, byName.Handle)
	assert.Equal(t, identity.Email, byName.Email)
	assert.Equal(t, identity.CreatedAt, byName.CreatedAt)

	byHandle, err := identities.FindByHandle(ctx, identity.Handle)
	require.NoError(t, err)
	assert.Equal(t, "alice", byHandle.Username)
}

func TestIdentities_FindUnknown(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	_, err := identities.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ceremony.ErrUserResolutionFailed)

	_, err = identities.FindByHandle(ctx, []byte("missing"))
	assert.ErrorIs(t, err, ceremony.ErrUserResolutionFailed)
}

func TestIdentities_InsertValidation(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	assert.Error(t, identities.Insert(ctx, &ceremony.UserIdentity{Username: "no-handle"}))
	assert.Error(t, identities.Insert(ctx, &ceremony.UserIdentity{Handle: []byte("h")}))

	require.NoError(t, identities.Insert(ctx, testIdentity("bob")))
	duplicate := testIdentity("bob")
	duplicate.Handle = []byte("other-handle")
	assert.Error(t, identities.Insert(ctx, duplicate))
}

func TestIdentities_Delete(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	identity := testIdentity("carol")
	require.NoError(t, identities.Insert(ctx, identity))
	require.NoError(t, identities.Delete(ctx, identity.Handle))

	_, err := identities.FindByUsername(ctx, "carol")
	assert.ErrorIs(t, err, ceremony.ErrUserResolutionFailed)

	assert.ErrorIs(t, identities.Delete(ctx, identity.Handle), ceremony.ErrUserResolutionFailed)
}

func TestIdentities_MaxPlaceholderIndex(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	max, err := identities.MaxPlaceholderIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), max)

	for _, username := range []string{"user_3", "user_11", "alice", "user_x"} {
		identity := testIdentity(username)
		require.NoError(t, identities.Insert(ctx, identity))
	}

	max, err = identities.MaxPlaceholderIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), max)
}

func TestIdentities_SetPrimaryCredential(t *testing.T) {
	store := newTestStore(t)
	identities := store.Identities()
	ctx := context.Background()

	identity := testIdentity("dave")
	require.NoError(t, identities.Insert(ctx, identity))
	require.NoError(t, identities.SetPrimaryCredential(ctx, identity.Handle, []byte("cred-1")))

	found, err := identities.FindByHandle(ctx, identity.Handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("cred-1"), found.PrimaryCredentialID)

	err = identities.SetPrimaryCredential(ctx, []byte("missing"), []byte("cred-1"))
	assert.ErrorIs(t, err, ceremony.ErrUserResolutionFailed)
}
