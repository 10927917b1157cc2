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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeremonyError_Error(t *testing.T) {
	err := NewError("consume session", ErrChallengeExpiredOrMissing)
	assert.Equal(t, "consume session: ceremony challenge expired, missing, or already used", err.Error())

	bare := &CeremonyError{Err: ErrCredentialUnknown}
	assert.Equal(t, ErrCredentialUnknown.Error(), bare.Error())
}

func TestCeremonyError_Unwrap(t *testing.T) {
	err := NewError("save credential", ErrDuplicateCredential)
	assert.ErrorIs(t, err, ErrDuplicateCredential)

	var ce *CeremonyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "save credential", ce.Op)
}

func TestWrapError_Nil(t *testing.T) {
	assert.NoError(t, WrapError("anything", nil))
}

func TestWrapStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "deadline exceeded maps to timeout",
			err:  context.DeadlineExceeded,
			want: ErrTimeout,
		},
		{
			name: "wrapped deadline maps to timeout",
			err:  fmt.Errorf("redis: %w", context.DeadlineExceeded),
			want: ErrTimeout,
		},
		{
			name: "missing session passes through",
			err:  ErrChallengeExpiredOrMissing,
			want: ErrChallengeExpiredOrMissing,
		},
		{
			name: "unknown credential passes through",
			err:  ErrCredentialUnknown,
			want: ErrCredentialUnknown,
		},
		{
			name: "duplicate credential passes through",
			err:  ErrDuplicateCredential,
			want: ErrDuplicateCredential,
		},
		{
			name: "unresolved user passes through",
			err:  ErrUserResolutionFailed,
			want: ErrUserResolutionFailed,
		},
		{
			name: "anything else maps to storage failure",
			err:  errors.New("disk full"),
			want: ErrStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapStoreError("op", tt.err)
			assert.ErrorIs(t, wrapped, tt.want)
		})
	}

	assert.NoError(t, wrapStoreError("op", nil))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsChallengeExpiredOrMissing(NewError("op", ErrChallengeExpiredOrMissing)))
	assert.False(t, IsChallengeExpiredOrMissing(ErrCredentialUnknown))

	assert.True(t, IsCredentialUnknown(wrapStoreError("op", ErrCredentialUnknown)))
	assert.True(t, IsPossibleCloneDetected(NewError("op", ErrPossibleCloneDetected)))
	assert.True(t, IsTimeout(wrapStoreError("op", context.DeadlineExceeded)))
	assert.True(t, IsUserResolutionFailed(ErrUserResolutionFailed))
	assert.False(t, IsUserResolutionFailed(nil))
}
