// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// IdentityHint carries whatever the front-end knows about the person
// starting a ceremony. All fields are optional.
type IdentityHint struct {
	Login       string `json:"login,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// placeholderPrefix is the username prefix for identities derived with no
// usable hint at all.
const placeholderPrefix = "user_"

// IdentityResolver maps ceremony-level hints onto durable user identities.
// Resolve is read-only; Materialize is the only write and is called by the
// registration ceremony after successful verification, so abandoned or
// failed ceremonies never leave orphan accounts.
type IdentityResolver struct {
	store IdentityStore
}

// NewIdentityResolver creates a resolver backed by the given store.
func NewIdentityResolver(store IdentityStore) *IdentityResolver {
	return &IdentityResolver{store: store}
}

// Resolve returns the existing identity matching the hint, or derives a new,
// not-yet-persisted one. Derivation precedence when no login is given:
// email local-part, then normalized display name, then a generated
// placeholder one past the current maximum suffix. Deterministic for a given
// hint and store state.
func (r *IdentityResolver) Resolve(ctx context.Context, hint IdentityHint) (*UserIdentity, error) {
	username, err := r.deriveUsername(ctx, hint)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.FindByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !IsUserResolutionFailed(err) {
		return nil, WrapError("resolve identity", err)
	}

	return &UserIdentity{
		Username:    username,
		DisplayName: strings.TrimSpace(hint.DisplayName),
		Email:       strings.TrimSpace(hint.Email),
	}, nil
}

// ResolveByUsername returns the identity for an exact login name.
func (r *IdentityResolver) ResolveByUsername(ctx context.Context, username string) (*UserIdentity, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, NewError("resolve identity", ErrUserResolutionFailed)
	}
	return r.store.FindByUsername(ctx, username)
}

// ResolveByHandle returns the identity owning the given user handle.
func (r *IdentityResolver) ResolveByHandle(ctx context.Context, handle []byte) (*UserIdentity, error) {
	return r.store.FindByHandle(ctx, handle)
}

// Provision assigns a durable user handle without persisting anything. The
// registration ceremony provisions at begin time so the handle can ride
// inside the pending session, and persists via Materialize only after the
// attestation verifies.
func (r *IdentityResolver) Provision(identity *UserIdentity) *UserIdentity {
	if !identity.Materialized() {
		id := uuid.New()
		identity.Handle = id[:]
	}
	return identity
}

// Materialize persists a provisioned identity, assigning a handle if the
// caller skipped Provision.
func (r *IdentityResolver) Materialize(ctx context.Context, identity *UserIdentity) (*UserIdentity, error) {
	r.Provision(identity)
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	if err := r.store.Insert(ctx, identity); err != nil {
		identity.Handle = nil
		return nil, WrapError("materialize identity", err)
	}
	return identity, nil
}

// Unmaterialize rolls back a just-materialized identity. Best effort; used
// only when credential persistence fails right after account creation.
func (r *IdentityResolver) Unmaterialize(ctx context.Context, identity *UserIdentity) error {
	if !identity.Materialized() {
		return nil
	}
	err := r.store.Delete(ctx, identity.Handle)
	identity.Handle = nil
	return err
}

func (r *IdentityResolver) deriveUsername(ctx context.Context, hint IdentityHint) (string, error) {
	if login := normalizeUsername(hint.Login); login != "" {
		return login, nil
	}

	if email := strings.TrimSpace(hint.Email); email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			if local := normalizeUsername(email[:at]); local != "" {
				return local, nil
			}
		}
	}

	if name := normalizeUsername(hint.DisplayName); name != "" {
		return name, nil
	}

	max, err := r.store.MaxPlaceholderIndex(ctx)
	if err != nil {
		return "", WrapError("derive placeholder username", err)
	}
	return fmt.Sprintf("%s%d", placeholderPrefix, max+1), nil
}

// normalizeUsername lowercases, maps whitespace to dots, and drops anything
// outside [a-z0-9._-].
func normalizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('.')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

// PlaceholderIndex parses a placeholder username and reports its numeric
// suffix. Store implementations use it to compute MaxPlaceholderIndex.
func PlaceholderIndex(username string) (uint64, bool) {
	rest, ok := strings.CutPrefix(username, placeholderPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	var n uint64
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + uint64(r-'0')
	}
	return n, true
}

// IsUserResolutionFailed returns true if the error indicates an unknown identity.
func IsUserResolutionFailed(err error) bool {
	return errors.Is(err, ErrUserResolutionFailed)
}
