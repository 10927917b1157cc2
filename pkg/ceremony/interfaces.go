// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Kind discriminates pending ceremony sessions.
type Kind string

const (
	// KindRegistration marks a pending credential-creation ceremony.
	KindRegistration Kind = "registration"

	// KindAuthentication marks a pending assertion ceremony.
	KindAuthentication Kind = "authentication"
)

// SessionData is the short-lived state bound to one browser flow between the
// options and verify steps. It wraps the library session (challenge, user
// handle, allowed credentials) with the ceremony kind and, for registrations
// of not-yet-existing users, the pending identity snapshot.
type SessionData struct {
	// Kind is the ceremony this session belongs to.
	Kind Kind `json:"kind"`

	// Library is the go-webauthn session state the verifier needs back.
	Library webauthn.SessionData `json:"library"`

	// PendingIdentity is the resolved-but-unpersisted identity for deferred
	// account creation. Nil for authentication sessions and for registrations
	// of already-materialized users.
	PendingIdentity *UserIdentity `json:"pending_identity,omitempty"`

	// UserHandle is the materialized owner for registrations of existing
	// users and for hinted authentications. Empty for discoverable flows.
	UserHandle []byte `json:"user_handle,omitempty"`

	// CreatedAt is when the options were issued.
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore holds pending ceremony sessions between the options and
// verify steps. Implementations must make TakeAndConsume atomic per key:
// no two concurrent callers may both observe success. That at-most-once
// consumption is the engine's anti-replay guarantee.
type SessionStore interface {
	// Put stores the session under the flow key, overwriting any prior
	// pending session for that key. Entries become invisible after ttl.
	Put(ctx context.Context, flowKey string, data *SessionData, ttl time.Duration) error

	// TakeAndConsume atomically reads and deletes the session. Expired,
	// missing, or already-consumed sessions yield ErrChallengeExpiredOrMissing.
	TakeAndConsume(ctx context.Context, flowKey string) (*SessionData, error)
}

// CredentialRepository persists public-key credential records and resolves
// user-handle associations. It exclusively owns the durable credential state.
type CredentialRepository interface {
	// FindByCredentialID returns the record or ErrCredentialUnknown.
	FindByCredentialID(ctx context.Context, id []byte) (*CredentialRecord, error)

	// FindAllForUser returns the user's credentials ordered by creation
	// time ascending. An empty slice when the user has none.
	FindAllForUser(ctx context.Context, userHandle []byte) ([]*CredentialRecord, error)

	// Save persists a new record. Re-saving an identical ID with the same
	// public key is an idempotent success; the same ID with a different key
	// fails ErrDuplicateCredential.
	Save(ctx context.Context, record *CredentialRecord) error

	// UpdateCounterAndUsage applies the post-authentication mutation as a
	// single compare-and-set: the write succeeds only while newCounter
	// advances past the stored value, with zero over zero allowed for
	// authenticators that never increment. A counter that fails to advance
	// yields ErrPossibleCloneDetected with nothing mutated;
	// ErrCredentialUnknown if the record is gone.
	UpdateCounterAndUsage(ctx context.Context, id []byte, newCounter uint32, lastUsedAt time.Time, lastUsedOS string) error

	// MarkCloneSuspect flags the credential for manual review.
	MarkCloneSuspect(ctx context.Context, id []byte) error

	// Remove deletes the credential. The owning identity is left intact
	// even when this was its last credential.
	Remove(ctx context.Context, id []byte) error
}

// IdentityStore persists user identities. It backs the IdentityResolver and
// is the only writer of UserIdentity rows.
type IdentityStore interface {
	// FindByUsername returns the identity or ErrUserResolutionFailed.
	FindByUsername(ctx context.Context, username string) (*UserIdentity, error)

	// FindByHandle returns the identity or ErrUserResolutionFailed.
	FindByHandle(ctx context.Context, handle []byte) (*UserIdentity, error)

	// Insert persists a new identity. The handle must already be assigned.
	Insert(ctx context.Context, identity *UserIdentity) error

	// Delete removes an identity by handle. Used only to roll back a
	// just-materialized account when credential persistence fails.
	Delete(ctx context.Context, handle []byte) error

	// MaxPlaceholderIndex returns the highest numeric suffix among
	// placeholder usernames ("user_<n>"), zero when none exist.
	MaxPlaceholderIndex(ctx context.Context) (uint64, error)

	// SetPrimaryCredential records the user's first credential for quick
	// admin display.
	SetPrimaryCredential(ctx context.Context, handle []byte, credentialID []byte) error
}

// TokenIssuer is an optional post-ceremony token generator. When nil, the
// engine falls back to the base64url-encoded user handle as the token.
type TokenIssuer interface {
	// IssueToken creates a token for the authenticated identity.
	IssueToken(ctx context.Context, identity *UserIdentity) (string, error)
}
