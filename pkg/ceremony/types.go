// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// CredentialRecord is the durable public-key credential stored by the
// relying party. Created once at successful registration verification,
// mutated on every successful authentication, deleted on explicit removal.
type CredentialRecord struct {
	// ID is the credential identifier assigned by the authenticator.
	// Binary, globally unique.
	ID []byte `json:"id"`

	// UserHandle is the stable user identifier this credential belongs to.
	// One handle may own many credentials; a credential has exactly one owner.
	UserHandle []byte `json:"user_handle"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the attestation conveyance used at registration.
	AttestationType string `json:"attestation_type"`

	// Transports lists the transports reported by the authenticator.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// Flags holds the authenticator capability flags from registration.
	Flags CredentialFlags `json:"flags"`

	// SignCount is the signature counter; monotonic non-decreasing, used
	// to detect cloned authenticators.
	SignCount uint32 `json:"sign_count"`

	// CloneSuspect marks the credential for manual review after a counter
	// regression was observed.
	CloneSuspect bool `json:"clone_suspect,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`

	// LastUsedOS is a device/OS label captured from the last authentication.
	LastUsedOS string `json:"last_used_os,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`
}

// Descriptor returns the credential descriptor advertised in allow/exclude lists.
func (c *CredentialRecord) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transports,
	}
}

// ToWebAuthn converts the record to the go-webauthn library's credential type.
func (c *CredentialRecord) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// RecordFromWebAuthn builds a CredentialRecord from a freshly verified
// library credential.
func RecordFromWebAuthn(userHandle []byte, wc *webauthn.Credential) *CredentialRecord {
	return &CredentialRecord{
		ID:              wc.ID,
		UserHandle:      userHandle,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transports:      wc.Transport,
		AAGUID:          wc.Authenticator.AAGUID,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		SignCount: wc.Authenticator.SignCount,
		CreatedAt: time.Now().UTC(),
	}
}

// UserIdentity is the durable account a credential belongs to. The handle is
// binary, stable, and never reused.
type UserIdentity struct {
	// Handle is the opaque WebAuthn user handle. Empty until materialized.
	Handle []byte `json:"handle"`

	// Username is the unique login name presented during ceremonies.
	Username string `json:"username"`

	// DisplayName is the human-readable name shown by authenticators.
	DisplayName string `json:"display_name"`

	// Email is optional.
	Email string `json:"email,omitempty"`

	// CreatedAt is when the identity was materialized.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// PrimaryCredentialID points at the first registered credential for
	// quick admin display.
	PrimaryCredentialID []byte `json:"primary_credential_id,omitempty"`
}

// Materialized reports whether the identity has been assigned a durable handle.
func (u *UserIdentity) Materialized() bool {
	return len(u.Handle) > 0
}

// AuthenticatedUser is the outcome of a successful authentication ceremony.
type AuthenticatedUser struct {
	// Identity is the resolved account.
	Identity *UserIdentity `json:"identity"`

	// Credential is the record that proved possession, after the counter
	// and usage update.
	Credential *CredentialRecord `json:"credential"`

	// Token is set when the engine carries a TokenIssuer.
	Token string `json:"token,omitempty"`
}

// ceremonyUser adapts a UserIdentity plus its credentials to webauthn.User
// so the library can build options and validate responses against it.
type ceremonyUser struct {
	identity    *UserIdentity
	credentials []*CredentialRecord
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.identity.Handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.identity.Username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.identity.DisplayName == "" {
		return u.identity.Username
	}
	return u.identity.DisplayName
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}
