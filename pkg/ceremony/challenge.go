// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// DefaultChallengeSize is the challenge length in bytes. The protocol
	// recommends 32; anything below MinChallengeSize is rejected.
	DefaultChallengeSize = 32

	// MinChallengeSize is the smallest acceptable challenge length.
	MinChallengeSize = 16
)

// Challenge is an opaque, single-use random value bound to exactly one
// pending ceremony.
type Challenge []byte

// String returns the base64url encoding used on the wire.
func (c Challenge) String() string {
	return base64.RawURLEncoding.EncodeToString(c)
}

// ChallengeGenerator produces cryptographically random challenges and flow
// keys. Implementations must fail rather than degrade when the entropy
// source is exhausted.
type ChallengeGenerator interface {
	// NewChallenge returns a fresh random challenge.
	NewChallenge() (Challenge, error)

	// NewFlowKey returns a fresh opaque identifier binding a browser flow
	// to its pending ceremony session.
	NewFlowKey() (string, error)
}

// RandomChallengeGenerator reads crypto/rand. The zero value uses
// DefaultChallengeSize.
type RandomChallengeGenerator struct {
	// Size is the challenge length in bytes. Zero means DefaultChallengeSize.
	Size int
}

// NewChallenge returns Size bytes from the system CSPRNG.
func (g RandomChallengeGenerator) NewChallenge() (Challenge, error) {
	size := g.Size
	if size == 0 {
		size = DefaultChallengeSize
	}
	if size < MinChallengeSize {
		return nil, fmt.Errorf("challenge size %d below minimum %d", size, MinChallengeSize)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		// Entropy exhaustion is fatal and non-retryable in-process.
		return nil, fmt.Errorf("entropy source failed: %w", err)
	}
	return Challenge(buf), nil
}

// NewFlowKey returns a 16-byte random key, base64url encoded.
func (g RandomChallengeGenerator) NewFlowKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("entropy source failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ParseChallenge decodes the base64url challenge carried by a pending
// session and asserts it meets MinChallengeSize. Sessions are never stored
// with a challenge that fails this check.
func ParseChallenge(encoded string) (Challenge, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("challenge is not base64url: %w", err)
	}
	if len(raw) < MinChallengeSize {
		return nil, fmt.Errorf("challenge length %d below minimum %d", len(raw), MinChallengeSize)
	}
	return Challenge(raw), nil
}
