// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"
)

// Recorder receives ceremony lifecycle signals for metrics.
type Recorder interface {
	// CeremonyStarted is invoked when options are issued.
	CeremonyStarted(kind Kind)

	// CeremonyCompleted is invoked when a verify step concludes. Outcome is
	// one of "verified", "rejected", "clone_suspect".
	CeremonyCompleted(kind Kind, outcome string, elapsed time.Duration)
}

// Ceremony outcomes reported to the Recorder.
const (
	OutcomeVerified     = "verified"
	OutcomeRejected     = "rejected"
	OutcomeCloneSuspect = "clone_suspect"
)

// Engine drives credential ceremonies: it issues options bound to ephemeral
// sessions, enforces at-most-once session consumption, delegates signature
// verification, applies counter-based clone detection, and owns the
// persistence ordering around deferred account creation.
type Engine struct {
	config      *Config
	verifier    SignatureVerifier
	generator   ChallengeGenerator
	sessions    SessionStore
	credentials CredentialRepository
	identities  IdentityStore
	resolver    *IdentityResolver
	tokens      TokenIssuer // optional
	recorder    Recorder    // optional
	logger      *slog.Logger
	configured  bool
}

// EngineParams contains dependencies for creating a ceremony engine.
type EngineParams struct {
	// Config is the relying-party configuration (required).
	Config *Config

	// SessionStore holds pending ceremony sessions (required).
	SessionStore SessionStore

	// CredentialRepository persists credentials (required).
	CredentialRepository CredentialRepository

	// IdentityStore persists user identities (required).
	IdentityStore IdentityStore

	// Verifier overrides the default go-webauthn-backed verifier. Nil builds
	// the default from Config.
	Verifier SignatureVerifier

	// ChallengeGenerator overrides the default crypto/rand generator.
	ChallengeGenerator ChallengeGenerator

	// TokenIssuer is an optional post-ceremony token generator. If nil,
	// ceremonies return the base64-encoded user handle as the token.
	TokenIssuer TokenIssuer

	// Recorder is an optional metrics sink.
	Recorder Recorder

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewEngine creates a ceremony engine with the provided dependencies.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.SessionStore == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if params.CredentialRepository == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if params.IdentityStore == nil {
		return nil, fmt.Errorf("identity store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	verifier := params.Verifier
	if verifier == nil {
		v, err := NewSignatureVerifier(params.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to create verifier: %w", err)
		}
		verifier = v
	}

	generator := params.ChallengeGenerator
	if generator == nil {
		generator = RandomChallengeGenerator{}
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:      params.Config,
		verifier:    verifier,
		generator:   generator,
		sessions:    params.SessionStore,
		credentials: params.CredentialRepository,
		identities:  params.IdentityStore,
		resolver:    NewIdentityResolver(params.IdentityStore),
		tokens:      params.TokenIssuer,
		recorder:    params.Recorder,
		logger:      logger,
		configured:  true,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// ResolveUser returns the identity for a login name.
func (e *Engine) ResolveUser(ctx context.Context, username string) (*UserIdentity, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	identity, err := e.resolver.ResolveByUsername(sctx, username)
	if err != nil {
		return nil, wrapStoreError("resolve user", err)
	}
	return identity, nil
}

// Credentials returns the user's credentials ordered by creation time.
func (e *Engine) Credentials(ctx context.Context, userHandle []byte) ([]*CredentialRecord, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	records, err := e.credentials.FindAllForUser(sctx, userHandle)
	if err != nil {
		return nil, wrapStoreError("list credentials", err)
	}
	return records, nil
}

// RemoveCredential deletes a credential. The owning identity stays intact
// even when this was its last credential.
func (e *Engine) RemoveCredential(ctx context.Context, credentialID []byte) error {
	if !e.configured {
		return ErrNotConfigured
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.credentials.Remove(sctx, credentialID); err != nil {
		return wrapStoreError("remove credential", err)
	}
	e.logger.Info("credential removed",
		"credential_id", base64.RawURLEncoding.EncodeToString(credentialID))
	return nil
}

// IsRegistered reports whether the user owns at least one credential.
func (e *Engine) IsRegistered(ctx context.Context, userHandle []byte) (bool, error) {
	if !e.configured {
		return false, ErrNotConfigured
	}
	records, err := e.Credentials(ctx, userHandle)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// storeCtx bounds a storage call with the configured store timeout.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// issueToken creates the post-ceremony token.
func (e *Engine) issueToken(ctx context.Context, identity *UserIdentity) (string, error) {
	if e.tokens != nil {
		return e.tokens.IssueToken(ctx, identity)
	}
	return base64.RawURLEncoding.EncodeToString(identity.Handle), nil
}

func (e *Engine) recordStart(kind Kind) {
	if e.recorder != nil {
		e.recorder.CeremonyStarted(kind)
	}
}

func (e *Engine) recordCompletion(kind Kind, outcome string, startedAt time.Time) {
	if e.recorder == nil {
		return
	}
	var elapsed time.Duration
	if !startedAt.IsZero() {
		elapsed = time.Since(startedAt)
	}
	e.recorder.CeremonyCompleted(kind, outcome, elapsed)
}
