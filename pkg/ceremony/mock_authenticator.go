// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// MockAuthenticator simulates an ES256 authenticator. It produces parsed
// attestation and assertion responses that verify against real ceremony
// options, including a controllable signature counter for exercising clone
// detection.
type MockAuthenticator struct {
	// AAGUID is the simulated authenticator model identifier (16 bytes).
	AAGUID []byte

	// CredentialID is the credential identifier the device reports.
	CredentialID []byte

	// SignCount is the device-side signature counter.
	SignCount uint32

	// UserPresent controls the UP flag.
	UserPresent bool

	// UserVerified controls the UV flag.
	UserVerified bool

	privateKey *ecdsa.PrivateKey
	rpIDHash   []byte
}

// MockAuthenticatorOption configures a MockAuthenticator.
type MockAuthenticatorOption func(*MockAuthenticator)

// WithCredentialID sets a fixed credential ID.
func WithCredentialID(id []byte) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.CredentialID = id
	}
}

// WithSignCount sets the initial device counter.
func WithSignCount(count uint32) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.SignCount = count
	}
}

// WithUserVerified sets the UV flag.
func WithUserVerified(uv bool) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.UserVerified = uv
	}
}

// NewMockAuthenticator creates a simulated authenticator bound to the RP ID.
func NewMockAuthenticator(rpID string, opts ...MockAuthenticatorOption) (*MockAuthenticator, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, err
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}

	rpIDHash := sha256.Sum256([]byte(rpID))

	m := &MockAuthenticator{
		AAGUID:       aaguid,
		CredentialID: credID,
		UserPresent:  true,
		UserVerified: true,
		privateKey:   privateKey,
		rpIDHash:     rpIDHash[:],
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PublicKey returns the device public key.
func (m *MockAuthenticator) PublicKey() crypto.PublicKey {
	return m.privateKey.Public()
}

// PublicKeyBytes returns the public key as a COSE EC2 key.
func (m *MockAuthenticator) PublicKeyBytes() ([]byte, error) {
	pubKey := m.privateKey.Public().(*ecdsa.PublicKey)

	coseKey := map[int]interface{}{
		1:  2,                          // kty: EC2
		3:  int(webauthncose.AlgES256), // alg
		-1: 1,                          // crv: P-256
		-2: pubKey.X.Bytes(),
		-3: pubKey.Y.Bytes(),
	}
	return webauthncbor.Marshal(coseKey)
}

// Attest builds a parsed "none"-format attestation response for the given
// creation options challenge (wire encoding) and origin.
func (m *MockAuthenticator) Attest(challenge, origin string) (*protocol.ParsedCredentialCreationData, error) {
	authData, err := m.buildAuthenticatorData(true)
	if err != nil {
		return nil, err
	}
	clientDataJSON := m.buildClientDataJSON(challenge, origin, "webauthn.create")

	attestationObject, err := webauthncbor.Marshal(map[string]interface{}{
		"authData": authData,
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
	})
	if err != nil {
		return nil, err
	}

	pubKeyBytes, err := m.PublicKeyBytes()
	if err != nil {
		return nil, err
	}

	credIDEncoded := base64.RawURLEncoding.EncodeToString(m.CredentialID)

	return &protocol.ParsedCredentialCreationData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{
				ID:   credIDEncoded,
				Type: "public-key",
			},
			RawID:                  m.CredentialID,
			ClientExtensionResults: protocol.AuthenticationExtensionsClientOutputs{},
		},
		Response: protocol.ParsedAttestationResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      "webauthn.create",
				Challenge: challenge,
				Origin:    origin,
			},
			AttestationObject: protocol.AttestationObject{
				Format:       "none",
				AttStatement: map[string]interface{}{},
				AuthData: protocol.AuthenticatorData{
					RPIDHash: m.rpIDHash,
					Flags:    m.buildFlags(true),
					Counter:  m.SignCount,
					AttData: protocol.AttestedCredentialData{
						AAGUID:              m.AAGUID,
						CredentialID:        m.CredentialID,
						CredentialPublicKey: pubKeyBytes,
					},
				},
			},
			Transports: []protocol.AuthenticatorTransport{protocol.USB},
		},
		Raw: protocol.CredentialCreationResponse{
			PublicKeyCredential: protocol.PublicKeyCredential{
				Credential: protocol.Credential{
					ID:   credIDEncoded,
					Type: "public-key",
				},
				RawID:                  m.CredentialID,
				ClientExtensionResults: protocol.AuthenticationExtensionsClientOutputs{},
			},
			AttestationResponse: protocol.AuthenticatorAttestationResponse{
				AuthenticatorResponse: protocol.AuthenticatorResponse{
					ClientDataJSON: clientDataJSON,
				},
				AttestationObject: attestationObject,
				Transports:        []string{"usb"},
			},
		},
	}, nil
}

// Assert builds a parsed assertion response for the given request options
// challenge (wire encoding), incrementing the device counter first. The
// userHandle rides in the response for discoverable flows; pass nil for
// allow-list flows.
func (m *MockAuthenticator) Assert(challenge, origin string, userHandle []byte) (*protocol.ParsedCredentialAssertionData, error) {
	m.SignCount++

	authData, err := m.buildAuthenticatorData(false)
	if err != nil {
		return nil, err
	}
	clientDataJSON := m.buildClientDataJSON(challenge, origin, "webauthn.get")
	clientDataHash := sha256.Sum256(clientDataJSON)

	signedData := append(append([]byte(nil), authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signedData)
	signature, err := ecdsa.SignASN1(rand.Reader, m.privateKey, digest[:])
	if err != nil {
		return nil, err
	}

	credIDEncoded := base64.RawURLEncoding.EncodeToString(m.CredentialID)

	return &protocol.ParsedCredentialAssertionData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{
				ID:   credIDEncoded,
				Type: "public-key",
			},
			RawID:                  m.CredentialID,
			ClientExtensionResults: protocol.AuthenticationExtensionsClientOutputs{},
		},
		Response: protocol.ParsedAssertionResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      "webauthn.get",
				Challenge: challenge,
				Origin:    origin,
			},
			AuthenticatorData: protocol.AuthenticatorData{
				RPIDHash: m.rpIDHash,
				Flags:    m.buildFlags(false),
				Counter:  m.SignCount,
			},
			Signature:  signature,
			UserHandle: userHandle,
		},
		Raw: protocol.CredentialAssertionResponse{
			PublicKeyCredential: protocol.PublicKeyCredential{
				Credential: protocol.Credential{
					ID:   credIDEncoded,
					Type: "public-key",
				},
				RawID:                  m.CredentialID,
				ClientExtensionResults: protocol.AuthenticationExtensionsClientOutputs{},
			},
			AssertionResponse: protocol.AuthenticatorAssertionResponse{
				AuthenticatorResponse: protocol.AuthenticatorResponse{
					ClientDataJSON: clientDataJSON,
				},
				AuthenticatorData: authData,
				Signature:         signature,
				UserHandle:        userHandle,
			},
		},
	}, nil
}

func (m *MockAuthenticator) buildFlags(includeCredential bool) protocol.AuthenticatorFlags {
	var flags byte
	if m.UserPresent {
		flags |= 0x01 // UP
	}
	if m.UserVerified {
		flags |= 0x04 // UV
	}
	if includeCredential {
		flags |= 0x40 // AT
	}
	return protocol.AuthenticatorFlags(flags)
}

func (m *MockAuthenticator) buildAuthenticatorData(includeCredential bool) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(m.rpIDHash)
	buf.WriteByte(byte(m.buildFlags(includeCredential)))

	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, m.SignCount)
	buf.Write(counter)

	if includeCredential {
		buf.Write(m.AAGUID)

		credIDLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credIDLen, uint16(len(m.CredentialID)))
		buf.Write(credIDLen)
		buf.Write(m.CredentialID)

		pubKeyBytes, err := m.PublicKeyBytes()
		if err != nil {
			return nil, err
		}
		buf.Write(pubKeyBytes)
	}

	return buf.Bytes(), nil
}

func (m *MockAuthenticator) buildClientDataJSON(challenge, origin, ceremonyType string) []byte {
	clientData := struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{
		Type:      ceremonyType,
		Challenge: challenge,
		Origin:    origin,
	}
	jsonBytes, _ := json.Marshal(clientData)
	return jsonBytes
}
