// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// SignatureVerifier is the trusted collaborator that builds ceremony options
// and validates signed attestation/assertion objects against them. The
// engine never inspects signature bytes itself; it enforces everything
// around the verifier: session consumption, counter monotonicity, and
// persistence.
type SignatureVerifier interface {
	// BeginRegistration builds creation options and the session state the
	// verifier needs back at finish time.
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)

	// CreateCredential validates a signed attestation response against the
	// stored options and returns the verified credential.
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)

	// BeginLogin builds request options scoped to the user's credentials.
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)

	// BeginDiscoverableLogin builds request options with an empty
	// allow-list for the usernameless flow.
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)

	// ValidateLogin validates a signed assertion for an identified user.
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)

	// ValidateDiscoverableLogin validates a signed assertion, resolving the
	// user through the handler from the response's user handle.
	ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// libraryVerifier delegates to go-webauthn.
type libraryVerifier struct {
	wa *webauthn.WebAuthn
}

// NewSignatureVerifier builds the default verifier from the engine config.
func NewSignatureVerifier(cfg *Config) (SignatureVerifier, error) {
	wa, err := webauthn.New(cfg.ToWebAuthnConfig())
	if err != nil {
		return nil, err
	}
	return &libraryVerifier{wa: wa}, nil
}

func (v *libraryVerifier) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return v.wa.BeginRegistration(user, opts...)
}

func (v *libraryVerifier) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return v.wa.CreateCredential(user, session, response)
}

func (v *libraryVerifier) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return v.wa.BeginLogin(user, opts...)
}

func (v *libraryVerifier) BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return v.wa.BeginDiscoverableLogin(opts...)
}

func (v *libraryVerifier) ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return v.wa.ValidateLogin(user, session, response)
}

func (v *libraryVerifier) ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return v.wa.ValidateDiscoverableLogin(handler, session, response)
}
