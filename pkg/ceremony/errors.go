// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrChallengeExpiredOrMissing is returned when a pending ceremony session
	// cannot be found, has expired, or was already consumed by a prior attempt.
	ErrChallengeExpiredOrMissing = errors.New("ceremony challenge expired, missing, or already used")

	// ErrAttestationInvalid is returned when a registration response fails
	// verification against the stored creation options.
	ErrAttestationInvalid = errors.New("attestation verification failed")

	// ErrAssertionInvalid is returned when an authentication response fails
	// verification against the stored request options.
	ErrAssertionInvalid = errors.New("assertion verification failed")

	// ErrCredentialUnknown is returned when a credential cannot be found.
	ErrCredentialUnknown = errors.New("credential not found")

	// ErrDuplicateCredential is returned when a credential ID already exists
	// with a different public key. Same ID plus same key is an idempotent
	// success, never an error.
	ErrDuplicateCredential = errors.New("credential ID already registered with a different key")

	// ErrPossibleCloneDetected is returned when an assertion carries a
	// signature counter that did not advance past the stored value.
	ErrPossibleCloneDetected = errors.New("possible cloned authenticator detected")

	// ErrUserResolutionFailed is returned when an identity hint cannot be
	// resolved or derived into a user identity.
	ErrUserResolutionFailed = errors.New("user identity resolution failed")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrTimeout is returned when a store or repository call exceeds its
	// deadline. Distinct from protocol failures so callers can retry reads.
	ErrTimeout = errors.New("ceremony storage call timed out")

	// ErrStorageFailure is returned for non-timeout storage faults.
	ErrStorageFailure = errors.New("ceremony storage failure")

	// ErrNotConfigured is returned when a ceremony is used before its
	// collaborators are wired.
	ErrNotConfigured = errors.New("ceremony engine not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{Op: op, Err: err}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// wrapStoreError maps storage-layer failures onto the ceremony taxonomy:
// deadline overruns become ErrTimeout, known sentinels pass through, and
// anything else is ErrStorageFailure.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(op, fmt.Errorf("%w: %v", ErrTimeout, err))
	case errors.Is(err, ErrChallengeExpiredOrMissing),
		errors.Is(err, ErrCredentialUnknown),
		errors.Is(err, ErrDuplicateCredential),
		errors.Is(err, ErrPossibleCloneDetected),
		errors.Is(err, ErrUserResolutionFailed):
		return NewError(op, err)
	default:
		return NewError(op, fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
}

// IsChallengeExpiredOrMissing returns true if the error indicates the pending
// session was absent, expired, or already consumed.
func IsChallengeExpiredOrMissing(err error) bool {
	return errors.Is(err, ErrChallengeExpiredOrMissing)
}

// IsCredentialUnknown returns true if the error indicates an unknown credential.
func IsCredentialUnknown(err error) bool {
	return errors.Is(err, ErrCredentialUnknown)
}

// IsPossibleCloneDetected returns true if the error indicates a counter regression.
func IsPossibleCloneDetected(err error) bool {
	return errors.Is(err, ErrPossibleCloneDetected)
}

// IsTimeout returns true if the error indicates a storage deadline overrun.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
