// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Redis is a distributed Store, grounded on the teacher's Redis-backed
// storage package (pkg/authserver/storage). Sessions are stored as JSON
// under "seacatauth:session:<id>"; a parent->children set and a cookie
// index set mirror the Memory store's in-process indexes.
//
// Per-session update serialization (spec.md §5) uses optimistic concurrency:
// each record carries ModifiedAt, and Update uses WATCH/MULTI to detect a
// concurrent writer and retries.
type Redis struct {
	client  *redis.Client
	cascade CascadeFunc
}

// NewRedis builds a Redis-backed Store over an existing *redis.Client.
func NewRedis(client *redis.Client, cascade CascadeFunc) *Redis {
	return &Redis{client: client, cascade: cascade}
}

func sessionKey(id string) string        { return "seacatauth:session:" + id }
func childrenKey(parentID string) string { return "seacatauth:session:children:" + parentID }
func cookieKey(cookieID []byte) string   { return "seacatauth:session:bycookie:" + string(cookieID) }

// Create implements Store.
func (r *Redis) Create(ctx context.Context, typ Type, parentID string, ttl time.Duration, builders ...Builder) (*Session, error) {
	if typ == TypeOpenIDConnect && parentID == "" {
		return nil, fmt.Errorf("session: openidconnect session requires a parent_session_id")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	s := &Session{
		SessionID:       uuid.NewString(),
		Type:            typ,
		ParentSessionID: parentID,
		CreatedAt:       now,
		ModifiedAt:      now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := Apply(s, builders...); err != nil {
		return nil, fmt.Errorf("session: apply builders: %w", err)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return nil, fmt.Errorf("session: expires_at must be after created_at")
	}

	if parentID != "" {
		exists, err := r.client.Exists(ctx, sessionKey(parentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("session: check parent: %w", err)
		}
		if exists == 0 {
			return nil, ssoerrors.New(ssoerrors.KindNotFound, parentID, fmt.Errorf("parent session not found"))
		}
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.SessionID), payload, ttl)
	if parentID != "" {
		pipe.SAdd(ctx, childrenKey(parentID), s.SessionID)
	}
	if typ == TypeRoot && len(s.Cookie.SessionCookieID) > 0 {
		pipe.Set(ctx, cookieKey(s.Cookie.SessionCookieID), s.SessionID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	logger.Debugw("session created", "sid", s.SessionID, "type", typ, "parentSid", parentID)
	return s, nil
}

func (r *Redis) get(ctx context.Context, id string) (*Session, error) {
	payload, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("session not found"))
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	if !s.ExpiresAt.After(time.Now()) {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("session expired"))
	}
	return &s, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, id string) (*Session, error) {
	return r.get(ctx, id)
}

// GetBy implements Store.
func (r *Redis) GetBy(ctx context.Context, field IndexField, value []byte) (*Session, error) {
	if field != ByCookieSessionID {
		return nil, fmt.Errorf("session: unsupported index field %q", field)
	}
	id, err := r.client.Get(ctx, cookieKey(value)).Result()
	if err != nil {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, "", fmt.Errorf("session not found for cookie id"))
	}
	return r.get(ctx, id)
}

// Update implements Store using optimistic concurrency via WATCH/MULTI,
// retrying on a concurrent modification.
func (r *Redis) Update(ctx context.Context, id string, builders ...Builder) (*Session, error) {
	const maxRetries = 5
	key := sessionKey(id)

	var result *Session
	txf := func(tx *redis.Tx) error {
		s, err := r.get(ctx, id)
		if err != nil {
			return err
		}
		updated := *s
		if err := Apply(&updated, builders...); err != nil {
			return fmt.Errorf("session: apply builders: %w", err)
		}
		updated.ModifiedAt = time.Now()

		payload, err := json.Marshal(&updated)
		if err != nil {
			return fmt.Errorf("session: marshal: %w", err)
		}
		ttl := time.Until(updated.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			if updated.Type == TypeRoot {
				oldKey := cookieKey(s.Cookie.SessionCookieID)
				newKey := cookieKey(updated.Cookie.SessionCookieID)
				if oldKey != newKey {
					pipe.Del(ctx, oldKey)
				}
				if len(updated.Cookie.SessionCookieID) > 0 {
					pipe.Set(ctx, newKey, id, ttl)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &updated
		return nil
	}

	for i := 0; i < maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("session: update: %w", err)
	}
	return nil, fmt.Errorf("session: update: exhausted retries due to contention")
}

// Touch implements Store.
func (r *Redis) Touch(ctx context.Context, id string, maxTTL time.Duration) (*Session, error) {
	return r.Update(ctx, id, func(s *Session) error {
		now := time.Now()
		extended := now.Add(defaultSlidingWindow)
		if maxTTL > 0 {
			ceiling := s.CreatedAt.Add(maxTTL)
			if extended.After(ceiling) {
				extended = ceiling
			}
		}
		if extended.After(s.ExpiresAt) {
			s.ExpiresAt = extended
		}
		return nil
	})
}

// Delete implements Store, cascading to children.
func (r *Redis) Delete(ctx context.Context, id string) error {
	ids, err := r.collectCascadeIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, cid := range ids {
		s, err := r.get(ctx, cid)
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, sessionKey(cid))
		pipe.Del(ctx, childrenKey(cid))
		if err == nil && s.Type == TypeRoot {
			pipe.Del(ctx, cookieKey(s.Cookie.SessionCookieID))
		}
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			return fmt.Errorf("session: delete: %w", execErr)
		}
		if r.cascade != nil {
			r.cascade(ctx, cid)
		}
	}
	return nil
}

func (r *Redis) collectCascadeIDs(ctx context.Context, id string) ([]string, error) {
	ids := []string{id}
	children, err := r.client.SMembers(ctx, childrenKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: list children: %w", err)
	}
	for _, child := range children {
		grandchildren, err := r.collectCascadeIDs(ctx, child)
		if err != nil {
			return nil, err
		}
		ids = append(ids, grandchildren...)
	}
	return ids, nil
}

// SweepExpired implements Store. Redis expires session keys natively via
// TTL; this prunes stale children/cookie index entries in bounded batches.
func (r *Redis) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "seacatauth:session:children:*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("session: scan children indexes: %w", err)
		}
		for _, k := range keys {
			if batchSize > 0 && removed >= batchSize {
				return removed, nil
			}
			members, err := r.client.SMembers(ctx, k).Result()
			if err != nil {
				continue
			}
			for _, childID := range members {
				exists, err := r.client.Exists(ctx, sessionKey(childID)).Result()
				if err == nil && exists == 0 {
					r.client.SRem(ctx, k, childID)
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

var _ Store = (*Redis)(nil)
