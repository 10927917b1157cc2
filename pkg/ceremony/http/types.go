// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package http

// HeaderFlowID carries the opaque key binding a browser flow to its pending
// ceremony session between the options and verify steps.
const HeaderFlowID = "X-Flow-Id"

// RegistrationOptionsRequest is the request body for starting registration.
// All fields are optional; an empty body registers an anonymous user with a
// generated username.
type RegistrationOptionsRequest struct {
	// Login is the desired username.
	Login string `json:"login,omitempty"`

	// Email is the user's email address.
	Email string `json:"email,omitempty"`

	// DisplayName is the user's display name.
	DisplayName string `json:"display_name,omitempty"`
}

// AuthenticationOptionsRequest is the request body for starting
// authentication. An empty username requests the discoverable flow.
type AuthenticationOptionsRequest struct {
	// Username identifies the account to authenticate. Optional.
	Username string `json:"username,omitempty"`
}

// VerifyResponse is returned after a successful verify step.
type VerifyResponse struct {
	// Status is always "verified" on success.
	Status string `json:"status"`

	// Token is the post-ceremony token (JWT when an issuer is configured,
	// otherwise the base64-encoded user handle).
	Token string `json:"token"`

	// UserHandle is the base64-encoded user handle.
	UserHandle string `json:"user_handle"`

	// Username is the account's login name.
	Username string `json:"username"`

	// RedirectURL tells the front-end where to navigate next. Optional.
	RedirectURL string `json:"redirect_url,omitempty"`
}

// CredentialSummary is the credential listing entry.
type CredentialSummary struct {
	// ID is the base64-encoded credential ID.
	ID string `json:"id"`

	// AttestationType indicates the attestation conveyance at registration.
	AttestationType string `json:"attestation_type,omitempty"`

	// Transports lists the authenticator's reported transports.
	Transports []string `json:"transports,omitempty"`

	// SignCount is the stored signature counter.
	SignCount uint32 `json:"sign_count"`

	// CloneSuspect marks the credential for review.
	CloneSuspect bool `json:"clone_suspect,omitempty"`

	// CreatedAt is when the credential was registered, RFC 3339.
	CreatedAt string `json:"created_at"`

	// LastUsedAt is when the credential last authenticated, RFC 3339.
	LastUsedAt string `json:"last_used_at,omitempty"`

	// LastUsedOS is the device label from the last authentication.
	LastUsedOS string `json:"last_used_os,omitempty"`
}

// CredentialListResponse is the response for listing credentials.
type CredentialListResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeFlowExpired        = "flow_expired"
	ErrorCodeUserNotFound       = "user_not_found"
	ErrorCodeCredentialNotFound = "credential_not_found"
	ErrorCodeNoCredentials      = "no_credentials"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeCloneSuspected     = "clone_suspected"
	ErrorCodeTimeout            = "timeout"
	ErrorCodeInternalError      = "internal_error"
)
