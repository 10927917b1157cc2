// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemorySessionStore is an in-memory SessionStore suitable for single-node
// deployments and tests. TakeAndConsume holds the write lock across lookup
// and delete, so exactly one of any number of concurrent consumers wins.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	data      *SessionData
	expiresAt time.Time
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
	}
}

// Put stores the session under the flow key, replacing any prior entry.
func (s *MemorySessionStore) Put(ctx context.Context, flowKey string, data *SessionData, ttl time.Duration) error {
	if flowKey == "" {
		return fmt.Errorf("flow key cannot be empty")
	}
	if data == nil {
		return fmt.Errorf("session data cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[flowKey] = memorySession{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// TakeAndConsume atomically removes and returns the session. A missing,
// expired, or already-consumed key yields ErrChallengeExpiredOrMissing.
func (s *MemorySessionStore) TakeAndConsume(ctx context.Context, flowKey string) (*SessionData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[flowKey]
	if !ok {
		return nil, ErrChallengeExpiredOrMissing
	}
	delete(s.sessions, flowKey)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrChallengeExpiredOrMissing
	}
	return entry.data, nil
}

// Sweep removes expired sessions and returns how many were purged. Callers
// run it periodically; expired entries are also rejected lazily on consume.
func (s *MemorySessionStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, key)
			purged++
		}
	}
	return purged
}

// Len returns the number of pending sessions, expired entries included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// MemoryCredentialRepository is an in-memory CredentialRepository.
type MemoryCredentialRepository struct {
	mu      sync.RWMutex
	records map[string]*CredentialRecord
}

// NewMemoryCredentialRepository creates a new in-memory credential repository.
func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		records: make(map[string]*CredentialRecord),
	}
}

// FindByCredentialID returns the record or ErrCredentialUnknown.
func (r *MemoryCredentialRepository) FindByCredentialID(ctx context.Context, id []byte) (*CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[string(id)]
	if !ok {
		return nil, ErrCredentialUnknown
	}
	return cloneRecord(record), nil
}

// FindAllForUser returns the user's credentials ordered by creation time.
func (r *MemoryCredentialRepository) FindAllForUser(ctx context.Context, userHandle []byte) ([]*CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*CredentialRecord
	for _, record := range r.records {
		if bytes.Equal(record.UserHandle, userHandle) {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return bytes.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Save persists a new record. Saving an identical ID with the same public
// key is an idempotent success; the same ID with a different key fails.
func (r *MemoryCredentialRepository) Save(ctx context.Context, record *CredentialRecord) error {
	if record == nil || len(record.ID) == 0 {
		return fmt.Errorf("credential record must carry an ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[string(record.ID)]; ok {
		if bytes.Equal(existing.PublicKey, record.PublicKey) {
			return nil
		}
		return ErrDuplicateCredential
	}
	r.records[string(record.ID)] = cloneRecord(record)
	return nil
}

// UpdateCounterAndUsage applies the post-authentication mutation atomically.
// The counter write is compare-and-set under the repository lock: a counter
// that does not advance past the stored value fails ErrPossibleCloneDetected
// without mutating anything, except when both counters are zero.
func (r *MemoryCredentialRepository) UpdateCounterAndUsage(ctx context.Context, id []byte, newCounter uint32, lastUsedAt time.Time, lastUsedOS string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[string(id)]
	if !ok {
		return ErrCredentialUnknown
	}
	bothZero := newCounter == 0 && record.SignCount == 0
	if newCounter <= record.SignCount && !bothZero {
		return ErrPossibleCloneDetected
	}
	record.SignCount = newCounter
	record.LastUsedAt = lastUsedAt
	if lastUsedOS != "" {
		record.LastUsedOS = lastUsedOS
	}
	return nil
}

// Len returns the number of stored credentials.
func (r *MemoryCredentialRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// MarkCloneSuspect flags the credential for manual review.
func (r *MemoryCredentialRepository) MarkCloneSuspect(ctx context.Context, id []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[string(id)]
	if !ok {
		return ErrCredentialUnknown
	}
	record.CloneSuspect = true
	return nil
}

// Remove deletes the credential.
func (r *MemoryCredentialRepository) Remove(ctx context.Context, id []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[string(id)]; !ok {
		return ErrCredentialUnknown
	}
	delete(r.records, string(id))
	return nil
}

// MemoryIdentityStore is an in-memory IdentityStore.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	byUsername map[string]*UserIdentity
	byHandle   map[string]*UserIdentity
}

// NewMemoryIdentityStore creates a new in-memory identity store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byUsername: make(map[string]*UserIdentity),
		byHandle:   make(map[string]*UserIdentity),
	}
}

// FindByUsername returns the identity or ErrUserResolutionFailed.
func (s *MemoryIdentityStore) FindByUsername(ctx context.Context, username string) (*UserIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserResolutionFailed
	}
	return cloneIdentity(identity), nil
}

// FindByHandle returns the identity or ErrUserResolutionFailed.
func (s *MemoryIdentityStore) FindByHandle(ctx context.Context, handle []byte) (*UserIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byHandle[string(handle)]
	if !ok {
		return nil, ErrUserResolutionFailed
	}
	return cloneIdentity(identity), nil
}

// Insert persists a new identity. Usernames and handles are unique.
func (s *MemoryIdentityStore) Insert(ctx context.Context, identity *UserIdentity) error {
	if identity == nil || !identity.Materialized() {
		return fmt.Errorf("identity must carry a handle")
	}
	if identity.Username == "" {
		return fmt.Errorf("identity must carry a username")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[identity.Username]; ok {
		return fmt.Errorf("username %q already exists", identity.Username)
	}
	if _, ok := s.byHandle[string(identity.Handle)]; ok {
		return fmt.Errorf("user handle already exists")
	}

	stored := cloneIdentity(identity)
	s.byUsername[stored.Username] = stored
	s.byHandle[string(stored.Handle)] = stored
	return nil
}

// Delete removes an identity by handle.
func (s *MemoryIdentityStore) Delete(ctx context.Context, handle []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byHandle[string(handle)]
	if !ok {
		return ErrUserResolutionFailed
	}
	delete(s.byHandle, string(handle))
	delete(s.byUsername, identity.Username)
	return nil
}

// MaxPlaceholderIndex returns the highest placeholder suffix, zero when none.
func (s *MemoryIdentityStore) MaxPlaceholderIndex(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var max uint64
	for username := range s.byUsername {
		if n, ok := PlaceholderIndex(username); ok && n > max {
			max = n
		}
	}
	return max, nil
}

// SetPrimaryCredential records the user's first credential.
func (s *MemoryIdentityStore) SetPrimaryCredential(ctx context.Context, handle []byte, credentialID []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byHandle[string(handle)]
	if !ok {
		return ErrUserResolutionFailed
	}
	identity.PrimaryCredentialID = append([]byte(nil), credentialID...)
	return nil
}

func cloneRecord(r *CredentialRecord) *CredentialRecord {
	out := *r
	out.ID = append([]byte(nil), r.ID...)
	out.UserHandle = append([]byte(nil), r.UserHandle...)
	out.PublicKey = append([]byte(nil), r.PublicKey...)
	out.AAGUID = append([]byte(nil), r.AAGUID...)
	out.Transports = append(out.Transports[:0:0], r.Transports...)
	return &out
}

func cloneIdentity(u *UserIdentity) *UserIdentity {
	out := *u
	out.Handle = append([]byte(nil), u.Handle...)
	out.PrimaryCredentialID = append([]byte(nil), u.PrimaryCredentialID...)
	return &out
}
