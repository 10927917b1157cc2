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

// BeginAuthentication starts an assertion ceremony. A non-empty username
// scopes the allow-list to that user's credentials; an empty username starts
// the discoverable (usernameless) flow with an empty allow-list, deferring
// user identification to the authenticator's response.
func (e *Engine) BeginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, string, error) {
	if !e.configured {
		return nil, "", ErrNotConfigured
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	challenge, err := e.generator.NewChallenge()
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	var (
		options    *protocol.CredentialAssertion
		session    *webauthn.SessionData
		userHandle []byte
	)

	if username == "" {
		options, session, err = e.verifier.BeginDiscoverableLogin(webauthn.WithChallenge(challenge))
	} else {
		identity, resolveErr := e.resolver.ResolveByUsername(sctx, username)
		if resolveErr != nil {
			return nil, "", wrapStoreError("get user", resolveErr)
		}

		creds, credErr := e.credentials.FindAllForUser(sctx, identity.Handle)
		if credErr != nil {
			return nil, "", wrapStoreError("get credentials", credErr)
		}
		if len(creds) == 0 {
			return nil, "", NewError("begin authentication", ErrNoCredentials)
		}

		userHandle = identity.Handle
		user := &ceremonyUser{identity: identity, credentials: creds}
		options, session, err = e.verifier.BeginLogin(user, webauthn.WithChallenge(challenge))
	}
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}
	if _, err := ParseChallenge(session.Challenge); err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	flowKey, err := e.generator.NewFlowKey()
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	data := &SessionData{
		Kind:       KindAuthentication,
		Library:    *session,
		UserHandle: userHandle,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.sessions.Put(sctx, flowKey, data, e.config.SessionTTL); err != nil {
		return nil, "", wrapStoreError("save session", err)
	}

	e.recordStart(KindAuthentication)
	e.logger.Debug("authentication ceremony started",
		"discoverable", username == "")

	return options, flowKey, nil
}

// FinishAuthentication completes an assertion ceremony. The pending session
// is consumed up front, the assertion is verified against it, and the
// signature counter is checked before any state mutates: a counter that
// fails to advance past the stored value marks the credential suspect and
// rejects the login, except when both counters are zero for authenticators
// that never increment. On success the counter, last-used time, and device
// label are updated atomically.
func (e *Engine) FinishAuthentication(ctx context.Context, flowKey string, response *protocol.ParsedCredentialAssertionData, deviceOS string) (*AuthenticatedUser, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	if response == nil {
		return nil, NewError("finish authentication", ErrAssertionInvalid)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	session, err := e.sessions.TakeAndConsume(sctx, flowKey)
	if err != nil {
		return nil, wrapStoreError("consume session", err)
	}
	if session.Kind != KindAuthentication {
		return nil, NewError("finish authentication", ErrChallengeExpiredOrMissing)
	}

	var (
		identity   *UserIdentity
		credential *webauthn.Credential
	)

	if len(session.UserHandle) == 0 {
		// Discoverable flow: the response's user handle identifies the user.
		credential, err = e.verifier.ValidateDiscoverableLogin(
			e.discoverableUserHandler(sctx),
			session.Library,
			response,
		)
		if err != nil {
			e.recordCompletion(KindAuthentication, OutcomeRejected, session.CreatedAt)
			return nil, NewError("finish authentication", fmt.Errorf("%w: %v", ErrAssertionInvalid, err))
		}

		stored, credErr := e.credentials.FindByCredentialID(sctx, credential.ID)
		if credErr != nil {
			return nil, wrapStoreError("get credential", credErr)
		}
		identity, err = e.identities.FindByHandle(sctx, stored.UserHandle)
		if err != nil {
			return nil, wrapStoreError("get user", err)
		}
	} else {
		identity, err = e.identities.FindByHandle(sctx, session.UserHandle)
		if err != nil {
			return nil, wrapStoreError("get user", err)
		}
		creds, credErr := e.credentials.FindAllForUser(sctx, identity.Handle)
		if credErr != nil {
			return nil, wrapStoreError("get credentials", credErr)
		}

		user := &ceremonyUser{identity: identity, credentials: creds}
		credential, err = e.verifier.ValidateLogin(user, session.Library, response)
		if err != nil {
			e.recordCompletion(KindAuthentication, OutcomeRejected, session.CreatedAt)
			return nil, NewError("finish authentication", fmt.Errorf("%w: %v", ErrAssertionInvalid, err))
		}
	}

	record, err := e.applyCounter(sctx, credential, deviceOS)
	if err != nil {
		if IsPossibleCloneDetected(err) {
			e.recordCompletion(KindAuthentication, OutcomeCloneSuspect, session.CreatedAt)
			e.logger.Warn("authenticator clone suspected",
				"username", identity.Username,
				"credential_id", base64.RawURLEncoding.EncodeToString(credential.ID))
		}
		return nil, err
	}

	token, err := e.issueToken(ctx, identity)
	if err != nil {
		return nil, WrapError("generate token", err)
	}

	e.recordCompletion(KindAuthentication, OutcomeVerified, session.CreatedAt)
	e.logger.Info("authentication ceremony verified",
		"username", identity.Username,
		"credential_id", base64.RawURLEncoding.EncodeToString(record.ID))

	return &AuthenticatedUser{Identity: identity, Credential: record, Token: token}, nil
}

// applyCounter enforces signature-counter monotonicity and persists the
// post-authentication mutation. Returns the refreshed record. The repository
// write is itself compare-and-set, so a regression that slips past this
// read (two concurrent logins racing the same credential) still fails and
// marks the credential suspect.
func (e *Engine) applyCounter(ctx context.Context, credential *webauthn.Credential, deviceOS string) (*CredentialRecord, error) {
	stored, err := e.credentials.FindByCredentialID(ctx, credential.ID)
	if err != nil {
		return nil, wrapStoreError("get credential for update", err)
	}

	asserted := credential.Authenticator.SignCount
	bothZero := asserted == 0 && stored.SignCount == 0
	if (asserted <= stored.SignCount && !bothZero) || credential.Authenticator.CloneWarning {
		if markErr := e.credentials.MarkCloneSuspect(ctx, stored.ID); markErr != nil {
			e.logger.Error("mark clone suspect failed", "error", markErr)
		}
		return nil, NewError("verify signature counter", ErrPossibleCloneDetected)
	}

	now := time.Now().UTC()
	if err := e.credentials.UpdateCounterAndUsage(ctx, stored.ID, asserted, now, deviceOS); err != nil {
		if IsPossibleCloneDetected(err) {
			if markErr := e.credentials.MarkCloneSuspect(ctx, stored.ID); markErr != nil {
				e.logger.Error("mark clone suspect failed", "error", markErr)
			}
			return nil, NewError("verify signature counter", ErrPossibleCloneDetected)
		}
		return nil, wrapStoreError("update credential", err)
	}

	stored.SignCount = asserted
	stored.LastUsedAt = now
	if deviceOS != "" {
		stored.LastUsedOS = deviceOS
	}
	return stored, nil
}

// discoverableUserHandler resolves the asserting user from the user handle
// the authenticator returned.
func (e *Engine) discoverableUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		identity, err := e.identities.FindByHandle(ctx, userHandle)
		if err != nil {
			return nil, err
		}
		creds, err := e.credentials.FindAllForUser(ctx, identity.Handle)
		if err != nil {
			return nil, err
		}
		return &ceremonyUser{identity: identity, credentials: creds}, nil
	}
}
