// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(kind Kind) *SessionData {
	return &SessionData{
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemorySessionStore_PutAndConsume(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "flow-1", testSession(KindRegistration), time.Minute))

	data, err := store.TakeAndConsume(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, KindRegistration, data.Kind)

	// Consumed; second take must fail.
	_, err = store.TakeAndConsume(ctx, "flow-1")
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMissing)
}

func TestMemorySessionStore_MissingKey(t *testing.T) {
	store := NewMemorySessionStore()

	_, err := store.TakeAndConsume(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMissing)
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "flow-1", testSession(KindAuthentication), -time.Second))

	_, err := store.TakeAndConsume(ctx, "flow-1")
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMissing)
}

func TestMemorySessionStore_SingleWinner(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "contested", testSession(KindAuthentication), time.Minute))

	const racers = 100
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.TakeAndConsume(ctx, "contested"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemorySessionStore_Sweep(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fresh", testSession(KindRegistration), time.Minute))
	require.NoError(t, store.Put(ctx, "stale-1", testSession(KindRegistration), -time.Second))
	require.NoError(t, store.Put(ctx, "stale-2", testSession(KindAuthentication), -time.Second))

	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, err := store.TakeAndConsume(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemorySessionStore_PutValidation(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, "", testSession(KindRegistration), time.Minute))
	assert.Error(t, store.Put(ctx, "flow", nil, time.Minute))
}

func TestMemoryCredentialRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	record := &CredentialRecord{
		ID:         []byte("cred-1"),
		UserHandle: []byte("user-1"),
		PublicKey:  []byte("pubkey"),
		SignCount:  3,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, record))

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, record.PublicKey, found.PublicKey)
	assert.Equal(t, uint32(3), found.SignCount)

	_, err = repo.FindByCredentialID(ctx, []byte("missing"))
	assert.ErrorIs(t, err, ErrCredentialUnknown)
}

func TestMemoryCredentialRepository_SaveIdempotent(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	record := &CredentialRecord{
		ID:        []byte("cred-1"),
		PublicKey: []byte("pubkey"),
	}
	require.NoError(t, repo.Save(ctx, record))

	// Same ID, same key: idempotent success.
	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID:        []byte("cred-1"),
		PublicKey: []byte("pubkey"),
	}))

	// Same ID, different key: rejected.
	err := repo.Save(ctx, &CredentialRecord{
		ID:        []byte("cred-1"),
		PublicKey: []byte("other-key"),
	})
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestMemoryCredentialRepository_FindAllForUser_Ordered(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()
	handle := []byte("user-1")
	base := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("newer"), UserHandle: handle, PublicKey: []byte("k2"), CreatedAt: base.Add(time.Hour),
	}))
	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("older"), UserHandle: handle, PublicKey: []byte("k1"), CreatedAt: base,
	}))
	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("theirs"), UserHandle: []byte("user-2"), PublicKey: []byte("k3"), CreatedAt: base,
	}))

	records, err := repo.FindAllForUser(ctx, handle)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("older"), records[0].ID)
	assert.Equal(t, []byte("newer"), records[1].ID)

	empty, err := repo.FindAllForUser(ctx, []byte("nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryCredentialRepository_UpdateCounterAndUsage(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("cred-1"), PublicKey: []byte("k"), SignCount: 1,
	}))

	usedAt := time.Now().UTC()
	require.NoError(t, repo.UpdateCounterAndUsage(ctx, []byte("cred-1"), 5, usedAt, "macOS"))

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), found.SignCount)
	assert.Equal(t, usedAt, found.LastUsedAt)
	assert.Equal(t, "macOS", found.LastUsedOS)

	err = repo.UpdateCounterAndUsage(ctx, []byte("missing"), 1, usedAt, "")
	assert.ErrorIs(t, err, ErrCredentialUnknown)
}

func TestMemoryCredentialRepository_UpdateCounterRejectsRegression(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("cred-1"), PublicKey: []byte("k"), SignCount: 5,
	}))

	// A counter that fails to advance loses the compare-and-set and
	// mutates nothing.
	err := repo.UpdateCounterAndUsage(ctx, []byte("cred-1"), 1, time.Now().UTC(), "macOS")
	assert.ErrorIs(t, err, ErrPossibleCloneDetected)

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), found.SignCount)
	assert.True(t, found.LastUsedAt.IsZero())
	assert.Empty(t, found.LastUsedOS)

	// An equal counter is a regression too.
	err = repo.UpdateCounterAndUsage(ctx, []byte("cred-1"), 5, time.Now().UTC(), "")
	assert.ErrorIs(t, err, ErrPossibleCloneDetected)
}

func TestMemoryCredentialRepository_UpdateCounterBothZero(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{
		ID: []byte("cred-1"), PublicKey: []byte("k"),
	}))

	// Authenticators that never increment stay at zero on both sides.
	usedAt := time.Now().UTC()
	require.NoError(t, repo.UpdateCounterAndUsage(ctx, []byte("cred-1"), 0, usedAt, "iOS"))

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), found.SignCount)
	assert.Equal(t, usedAt, found.LastUsedAt)
	assert.Equal(t, "iOS", found.LastUsedOS)
}

func TestMemoryCredentialRepository_Len(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	assert.Zero(t, repo.Len())

	require.NoError(t, repo.Save(ctx, &CredentialRecord{ID: []byte("cred-1"), PublicKey: []byte("k")}))
	require.NoError(t, repo.Save(ctx, &CredentialRecord{ID: []byte("cred-2"), PublicKey: []byte("k")}))
	assert.Equal(t, 2, repo.Len())

	require.NoError(t, repo.Remove(ctx, []byte("cred-1")))
	assert.Equal(t, 1, repo.Len())
}

func TestMemoryCredentialRepository_MarkCloneSuspect(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{ID: []byte("cred-1"), PublicKey: []byte("k")}))
	require.NoError(t, repo.MarkCloneSuspect(ctx, []byte("cred-1")))

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.True(t, found.CloneSuspect)

	assert.ErrorIs(t, repo.MarkCloneSuspect(ctx, []byte("missing")), ErrCredentialUnknown)
}

func TestMemoryCredentialRepository_Remove(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{ID: []byte("cred-1"), PublicKey: []byte("k")}))
	require.NoError(t, repo.Remove(ctx, []byte("cred-1")))

	_, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	assert.ErrorIs(t, err, ErrCredentialUnknown)

	assert.ErrorIs(t, repo.Remove(ctx, []byte("cred-1")), ErrCredentialUnknown)
}

func TestMemoryCredentialRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &CredentialRecord{ID: []byte("cred-1"), PublicKey: []byte("k")}))

	found, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	found.SignCount = 999

	again, err := repo.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), again.SignCount)
}

func TestMemoryIdentityStore_InsertAndFind(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	identity := &UserIdentity{Handle: []byte("h1"), Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.Insert(ctx, identity))

	byName, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, identity.Handle, byName.Handle)

	byHandle, err := store.FindByHandle(ctx, []byte("h1"))
	require.NoError(t, err)
	assert.Equal(t, "alice", byHandle.Username)

	_, err = store.FindByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserResolutionFailed)
}

func TestMemoryIdentityStore_InsertDuplicates(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1"), Username: "alice"}))

	assert.Error(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h2"), Username: "alice"}))
	assert.Error(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1"), Username: "bob"}))
}

func TestMemoryIdentityStore_InsertValidation(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	assert.Error(t, store.Insert(ctx, nil))
	assert.Error(t, store.Insert(ctx, &UserIdentity{Username: "no-handle"}))
	assert.Error(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1")}))
}

func TestMemoryIdentityStore_Delete(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1"), Username: "alice"}))
	require.NoError(t, store.Delete(ctx, []byte("h1")))

	_, err := store.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserResolutionFailed)

	assert.ErrorIs(t, store.Delete(ctx, []byte("h1")), ErrUserResolutionFailed)
}

func TestMemoryIdentityStore_MaxPlaceholderIndex(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	max, err := store.MaxPlaceholderIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), max)

	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1"), Username: "user_12"}))
	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h2"), Username: "user_4"}))
	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h3"), Username: "alice"}))

	max, err = store.MaxPlaceholderIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), max)
}

func TestMemoryIdentityStore_SetPrimaryCredential(t *testing.T) {
	store := NewMemoryIdentityStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &UserIdentity{Handle: []byte("h1"), Username: "alice"}))
	require.NoError(t, store.SetPrimaryCredential(ctx, []byte("h1"), []byte("cred-1")))

	found, err := store.FindByHandle(ctx, []byte("h1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cred-1"), found.PrimaryCredentialID)

	assert.ErrorIs(t, store.SetPrimaryCredential(ctx, []byte("missing"), []byte("c")), ErrUserResolutionFailed)
}
