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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// BeginRegistration starts a credential-creation ceremony. It resolves the
// identity hint, provisions a handle for brand-new users without persisting
// them, builds creation options with the user's existing credentials
// excluded, and stores the pending session under a fresh flow key.
// Returns the options to relay to the browser and the flow key.
func (e *Engine) BeginRegistration(ctx context.Context, hint IdentityHint) (*protocol.CredentialCreation, string, error) {
	if !e.configured {
		return nil, "", ErrNotConfigured
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	identity, err := e.resolver.Resolve(sctx, hint)
	if err != nil {
		return nil, "", wrapStoreError("resolve identity", err)
	}

	var (
		existing []*CredentialRecord
		pending  *UserIdentity
	)
	if identity.Materialized() {
		existing, err = e.credentials.FindAllForUser(sctx, identity.Handle)
		if err != nil {
			return nil, "", wrapStoreError("get credentials", err)
		}
	} else {
		// Deferred creation: the account row is written only after the
		// attestation verifies.
		pending = e.resolver.Provision(identity)
	}

	excludeList := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		excludeList[i] = cred.Descriptor()
	}

	user := &ceremonyUser{identity: identity, credentials: existing}
	options, session, err := e.verifier.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
	)
	if err != nil {
		return nil, "", WrapError("begin registration", err)
	}
	if _, err := ParseChallenge(session.Challenge); err != nil {
		return nil, "", WrapError("begin registration", err)
	}

	flowKey, err := e.generator.NewFlowKey()
	if err != nil {
		return nil, "", WrapError("begin registration", err)
	}

	data := &SessionData{
		Kind:            KindRegistration,
		Library:         *session,
		PendingIdentity: pending,
		UserHandle:      identity.Handle,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.sessions.Put(sctx, flowKey, data, e.config.SessionTTL); err != nil {
		return nil, "", wrapStoreError("save session", err)
	}

	e.recordStart(KindRegistration)
	e.logger.Debug("registration ceremony started",
		"username", identity.Username,
		"new_user", pending != nil,
		"excluded", len(excludeList))

	return options, flowKey, nil
}

// FinishRegistration completes a credential-creation ceremony. The pending
// session is consumed before verification, so a second attempt with the same
// flow key fails ErrChallengeExpiredOrMissing regardless of the response.
// For new users the identity is persisted first and rolled back if the
// credential cannot be saved, so no account exists without a credential.
func (e *Engine) FinishRegistration(ctx context.Context, flowKey string, response *protocol.ParsedCredentialCreationData) (*AuthenticatedUser, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	if response == nil {
		return nil, NewError("finish registration", ErrAttestationInvalid)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	session, err := e.sessions.TakeAndConsume(sctx, flowKey)
	if err != nil {
		return nil, wrapStoreError("consume session", err)
	}
	if session.Kind != KindRegistration {
		return nil, NewError("finish registration", ErrChallengeExpiredOrMissing)
	}

	identity, existing, err := e.sessionIdentity(sctx, session)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{identity: identity, credentials: existing}
	credential, err := e.verifier.CreateCredential(user, session.Library, response)
	if err != nil {
		e.recordCompletion(KindRegistration, OutcomeRejected, session.CreatedAt)
		return nil, NewError("finish registration", fmt.Errorf("%w: %v", ErrAttestationInvalid, err))
	}

	materialized := false
	if session.PendingIdentity != nil {
		if _, err := e.resolver.Materialize(sctx, identity); err != nil {
			e.recordCompletion(KindRegistration, OutcomeRejected, session.CreatedAt)
			return nil, wrapStoreError("materialize identity", err)
		}
		materialized = true
	}

	record := RecordFromWebAuthn(identity.Handle, credential)
	if err := e.credentials.Save(sctx, record); err != nil {
		if materialized {
			if rbErr := e.resolver.Unmaterialize(sctx, identity); rbErr != nil {
				e.logger.Error("identity rollback failed",
					"username", identity.Username, "error", rbErr)
			}
		}
		e.recordCompletion(KindRegistration, OutcomeRejected, session.CreatedAt)
		return nil, wrapStoreError("save credential", err)
	}

	if materialized || len(existing) == 0 {
		// First credential; best effort.
		if err := e.identities.SetPrimaryCredential(sctx, identity.Handle, record.ID); err != nil {
			e.logger.Warn("set primary credential failed",
				"username", identity.Username, "error", err)
		}
	}

	token, err := e.issueToken(ctx, identity)
	if err != nil {
		return nil, WrapError("generate token", err)
	}

	e.recordCompletion(KindRegistration, OutcomeVerified, session.CreatedAt)
	e.logger.Info("registration ceremony verified",
		"username", identity.Username,
		"credential_id", base64.RawURLEncoding.EncodeToString(record.ID),
		"new_user", materialized)

	return &AuthenticatedUser{Identity: identity, Credential: record, Token: token}, nil
}

// sessionIdentity resolves the identity a pending session belongs to, plus
// the credentials already on file for it.
func (e *Engine) sessionIdentity(ctx context.Context, session *SessionData) (*UserIdentity, []*CredentialRecord, error) {
	if session.PendingIdentity != nil {
		return session.PendingIdentity, nil, nil
	}

	identity, err := e.identities.FindByHandle(ctx, session.UserHandle)
	if err != nil {
		return nil, nil, wrapStoreError("get user", err)
	}
	existing, err := e.credentials.FindAllForUser(ctx, identity.Handle)
	if err != nil {
		return nil, nil, wrapStoreError("get credentials", err)
	}
	return identity, existing, nil
}
