// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing RPID",
			config:  Config{RPDisplayName: "Example", RPOrigins: []string{"https://example.com"}},
			wantErr: "RPID is required",
		},
		{
			name:    "missing display name",
			config:  Config{RPID: "example.com", RPOrigins: []string{"https://example.com"}},
			wantErr: "RPDisplayName is required",
		},
		{
			name:    "missing origins",
			config:  Config{RPID: "example.com", RPDisplayName: "Example"},
			wantErr: "at least one RPOrigin is required",
		},
		{
			name: "session TTL shorter than timeout",
			config: Config{
				RPID:          "example.com",
				RPDisplayName: "Example",
				RPOrigins:     []string{"https://example.com"},
				Timeout:       60 * time.Second,
				SessionTTL:    10 * time.Second,
			},
			wantErr: "shorter than ceremony timeout",
		},
		{
			name: "invalid user verification",
			config: Config{
				RPID:             "example.com",
				RPDisplayName:    "Example",
				RPOrigins:        []string{"https://example.com"},
				UserVerification: "always",
			},
			wantErr: "invalid user verification",
		},
		{
			name: "invalid attestation",
			config: Config{
				RPID:                  "example.com",
				RPDisplayName:         "Example",
				RPOrigins:             []string{"https://example.com"},
				AttestationPreference: "full",
			},
			wantErr: "invalid attestation preference",
		},
		{
			name: "invalid resident key",
			config: Config{
				RPID:                   "example.com",
				RPDisplayName:          "Example",
				RPOrigins:              []string{"https://example.com"},
				ResidentKeyRequirement: "maybe",
			},
			wantErr: "invalid resident key requirement",
		},
		{
			name: "invalid attachment",
			config: Config{
				RPID:                    "example.com",
				RPDisplayName:           "Example",
				RPOrigins:               []string{"https://example.com"},
				AuthenticatorAttachment: "usb",
			},
			wantErr: "invalid authenticator attachment",
		},
		{
			name: "valid full config",
			config: Config{
				RPID:                    "example.com",
				RPDisplayName:           "Example",
				RPOrigins:               []string{"https://example.com"},
				Timeout:                 60 * time.Second,
				SessionTTL:              90 * time.Second,
				UserVerification:        "required",
				AttestationPreference:   "direct",
				ResidentKeyRequirement:  "required",
				AuthenticatorAttachment: "platform",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	config := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
	config.SetDefaults()

	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, 90*time.Second, config.SessionTTL)
	assert.Equal(t, 5*time.Second, config.StoreTimeout)
	assert.Equal(t, "preferred", config.UserVerification)
	assert.Equal(t, "none", config.AttestationPreference)
	assert.Equal(t, "preferred", config.ResidentKeyRequirement)
}

func TestConfig_SetDefaults_PreservesValues(t *testing.T) {
	config := &Config{
		Timeout:                30 * time.Second,
		SessionTTL:             5 * time.Minute,
		UserVerification:       "required",
		AttestationPreference:  "direct",
		ResidentKeyRequirement: "discouraged",
	}
	config.SetDefaults()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 5*time.Minute, config.SessionTTL)
	assert.Equal(t, "required", config.UserVerification)
	assert.Equal(t, "direct", config.AttestationPreference)
	assert.Equal(t, "discouraged", config.ResidentKeyRequirement)
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	config := &Config{
		RPID:                    "example.com",
		RPDisplayName:           "Example",
		RPOrigins:               []string{"https://example.com", "https://www.example.com"},
		Timeout:                 45 * time.Second,
		UserVerification:        "required",
		AttestationPreference:   "indirect",
		ResidentKeyRequirement:  "required",
		AuthenticatorAttachment: "cross-platform",
	}

	wc := config.ToWebAuthnConfig()
	assert.Equal(t, "example.com", wc.RPID)
	assert.Equal(t, "Example", wc.RPDisplayName)
	assert.Equal(t, config.RPOrigins, wc.RPOrigins)
	assert.True(t, wc.Timeouts.Login.Enforce)
	assert.Equal(t, 45*time.Second, wc.Timeouts.Registration.Timeout)
	assert.Equal(t, protocol.PreferIndirectAttestation, wc.AttestationPreference)
	assert.Equal(t, protocol.VerificationRequired, wc.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementRequired, wc.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.CrossPlatform, wc.AuthenticatorSelection.AuthenticatorAttachment)
}
