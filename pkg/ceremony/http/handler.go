// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

// Handler provides HTTP handlers for ceremony operations. The handlers can
// be mounted on any HTTP router.
type Handler struct {
	engine *ceremony.Engine
	logger *slog.Logger
}

// NewHandler creates a new ceremony HTTP handler.
func NewHandler(engine *ceremony.Engine) *Handler {
	return &Handler{
		engine: engine,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// RegistrationOptions handles POST /registration/options
//
// Request body: RegistrationOptionsRequest (all fields optional)
// Response: WebAuthn PublicKeyCredentialCreationOptions
// Header: X-Flow-Id (flow key for RegistrationVerify)
func (h *Handler) RegistrationOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req RegistrationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body registers an anonymous user.
		req = RegistrationOptionsRequest{}
	}

	options, flowKey, err := h.engine.BeginRegistration(r.Context(), ceremony.IdentityHint{
		Login:       req.Login,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	w.Header().Set(HeaderFlowID, flowKey)
	h.writeJSON(w, http.StatusOK, options)
}

// RegistrationVerify handles POST /registration/verify
//
// Header: X-Flow-Id (from RegistrationOptions)
// Request body: attestation response from the authenticator
// Response: VerifyResponse
func (h *Handler) RegistrationVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	flowKey := r.Header.Get(HeaderFlowID)
	if flowKey == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "flow ID header is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	result, err := h.engine.FinishRegistration(r.Context(), flowKey, response)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.writeVerified(w, result)
}

// AuthenticationOptions handles POST /authentication/options
//
// Request body: AuthenticationOptionsRequest; an empty body or empty
// username requests the discoverable (usernameless) flow.
// Response: WebAuthn PublicKeyCredentialRequestOptions
// Header: X-Flow-Id (flow key for AuthenticationVerify)
func (h *Handler) AuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req AuthenticationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = AuthenticationOptionsRequest{}
	}

	options, flowKey, err := h.engine.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	w.Header().Set(HeaderFlowID, flowKey)
	h.writeJSON(w, http.StatusOK, options)
}

// AuthenticationVerify handles POST /authentication/verify
//
// Header: X-Flow-Id (from AuthenticationOptions)
// Request body: assertion response from the authenticator
// Response: VerifyResponse
func (h *Handler) AuthenticationVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	flowKey := r.Header.Get(HeaderFlowID)
	if flowKey == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "flow ID header is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	result, err := h.engine.FinishAuthentication(r.Context(), flowKey, response, r.UserAgent())
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.writeVerified(w, result)
}

// ListCredentials handles GET /credentials?username=<name>
//
// Response: CredentialListResponse ordered by creation time.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username query parameter is required")
		return
	}

	identity, err := h.engine.ResolveUser(r.Context(), username)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	records, err := h.engine.Credentials(r.Context(), identity.Handle)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	out := CredentialListResponse{Credentials: make([]CredentialSummary, len(records))}
	for i, record := range records {
		summary := CredentialSummary{
			ID:              base64.RawURLEncoding.EncodeToString(record.ID),
			AttestationType: record.AttestationType,
			SignCount:       record.SignCount,
			CloneSuspect:    record.CloneSuspect,
			CreatedAt:       record.CreatedAt.Format(time.RFC3339),
			LastUsedOS:      record.LastUsedOS,
		}
		if !record.LastUsedAt.IsZero() {
			summary.LastUsedAt = record.LastUsedAt.Format(time.RFC3339)
		}
		for _, transport := range record.Transports {
			summary.Transports = append(summary.Transports, string(transport))
		}
		out.Credentials[i] = summary
	}

	h.writeJSON(w, http.StatusOK, out)
}

// RemoveCredential handles DELETE /credentials/{id}
//
// The path parameter is the base64-encoded credential ID.
func (h *Handler) RemoveCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	encoded := credentialIDFromPath(r.URL.Path)
	if encoded == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "credential ID is required")
		return
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential ID encoding")
		return
	}

	if err := h.engine.RemoveCredential(r.Context(), credentialID); err != nil {
		h.handleEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeVerified writes the success payload shared by both verify steps.
func (h *Handler) writeVerified(w http.ResponseWriter, result *ceremony.AuthenticatedUser) {
	h.writeJSON(w, http.StatusOK, VerifyResponse{
		Status:      "verified",
		Token:       result.Token,
		UserHandle:  base64.RawURLEncoding.EncodeToString(result.Identity.Handle),
		Username:    result.Identity.Username,
		RedirectURL: h.engine.Config().RedirectURL,
	})
}

// handleEngineError maps engine errors to HTTP responses.
func (h *Handler) handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case ceremony.IsChallengeExpiredOrMissing(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeFlowExpired, "ceremony flow expired or already used")
	case ceremony.IsUserResolutionFailed(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case ceremony.IsCredentialUnknown(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeCredentialNotFound, "credential not found")
	case errors.Is(err, ceremony.ErrNoCredentials):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "user has no registered credentials")
	case ceremony.IsPossibleCloneDetected(err):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeCloneSuspected, "authentication rejected, possible cloned authenticator")
	case errors.Is(err, ceremony.ErrAttestationInvalid), errors.Is(err, ceremony.ErrAssertionInvalid):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	case ceremony.IsTimeout(err):
		h.writeError(w, http.StatusGatewayTimeout, ErrorCodeTimeout, "storage timeout")
	default:
		h.logger.Error("ceremony request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// credentialIDFromPath extracts the trailing path segment.
func credentialIDFromPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return ""
}
