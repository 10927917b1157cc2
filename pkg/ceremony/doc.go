// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package ceremony implements passkey credential ceremonies for a relying
// party: registration (credential creation) and authentication (assertion).
//
// The Engine issues ceremony options bound to single-use pending sessions,
// verifies signed responses through a pluggable SignatureVerifier backed by
// go-webauthn, detects cloned authenticators via signature-counter
// regression, and persists credentials and user identities through the
// CredentialRepository and IdentityStore interfaces. User accounts are
// created lazily: a brand-new user's identity row is written only after
// their first attestation verifies.
//
// In-memory store implementations suitable for single-node deployments ship
// in this package; SQLite and Redis backed implementations live under
// internal/storage.
package ceremony
