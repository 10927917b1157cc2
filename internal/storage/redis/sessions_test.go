// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

// newTestStore connects to the Redis instance named by PASSKEY_TEST_REDIS
// (or localhost:6379) and skips the test when none is reachable.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()

	addr := os.Getenv("PASSKEY_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewSessionStore(client).WithKeyPrefix(fmt.Sprintf("passkey:test:%d:", time.Now().UnixNano()))
}

func testSession(kind ceremony.Kind) *ceremony.SessionData {
	return &ceremony.SessionData{
		Kind:       kind,
		UserHandle: []byte("handle-1"),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSessionStore_PutAndConsume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession(ceremony.KindRegistration)
	require.NoError(t, store.Put(ctx, "flow-1", session, time.Minute))

	got, err := store.TakeAndConsume(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, ceremony.KindRegistration, got.Kind)
	assert.Equal(t, session.UserHandle, got.UserHandle)
	assert.Equal(t, session.CreatedAt, got.CreatedAt)

	// Consumed: the same flow key fails a second time.
	_, err = store.TakeAndConsume(ctx, "flow-1")
	assert.ErrorIs(t, err, ceremony.ErrChallengeExpiredOrMissing)
}

func TestSessionStore_MissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.TakeAndConsume(context.Background(), "never-stored")
	assert.ErrorIs(t, err, ceremony.ErrChallengeExpiredOrMissing)
}

func TestSessionStore_Expiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "flow-exp", testSession(ceremony.KindAuthentication), 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	_, err := store.TakeAndConsume(ctx, "flow-exp")
	assert.ErrorIs(t, err, ceremony.ErrChallengeExpiredOrMissing)
}

func TestSessionStore_PutValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, "", testSession(ceremony.KindRegistration), time.Minute))
	assert.Error(t, store.Put(ctx, "flow-2", nil, time.Minute))
}
