// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package redis provides a Redis-backed ceremony session store for
// multi-instance deployments where flows may land on different servers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

const defaultKeyPrefix = "passkey:session:"

// SessionStore stores pending ceremony sessions in Redis. Consumption is
// atomic through GETDEL, so replayed flow keys lose even across instances.
type SessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewSessionStore creates a session store on an existing Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
	}
}

// WithKeyPrefix overrides the default key prefix.
func (s *SessionStore) WithKeyPrefix(prefix string) *SessionStore {
	s.keyPrefix = prefix
	return s
}

// Put stores the session under the flow key. Redis expires the entry after
// ttl, so no sweeper is needed.
func (s *SessionStore) Put(ctx context.Context, flowKey string, data *ceremony.SessionData, ttl time.Duration) error {
	if flowKey == "" {
		return fmt.Errorf("flow key is required")
	}
	if data == nil {
		return fmt.Errorf("session data is required")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.SetEx(ctx, s.keyPrefix+flowKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// TakeAndConsume atomically reads and deletes the session.
func (s *SessionStore) TakeAndConsume(ctx context.Context, flowKey string) (*ceremony.SessionData, error) {
	payload, err := s.client.GetDel(ctx, s.keyPrefix+flowKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ceremony.ErrChallengeExpiredOrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}

	var data ceremony.SessionData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &data, nil
}
