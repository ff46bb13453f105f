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

package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elpablos/seacat-auth/pkg/logger"
)

// Redis is a distributed Store backed by Redis, for multi-instance
// deployments. Grounded on the teacher's Redis-backed storage package
// (pkg/authserver/storage); here it backs opaque tokens specifically.
//
// Keys are namespaced "seacatauth:token:<sha256-hex>" and rely on Redis' own
// TTL (EXPIRE) to implement expiry; SweepExpired therefore deletes no token
// keys and only prunes stale entries from the per-session index sets.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a Redis-backed Store over an existing *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "seacatauth:token:"}
}

func (r *Redis) key(hash string) string { return r.prefix + hash }

func (r *Redis) sessIndexKey(sessionID string) string { return r.prefix + "bysession:" + sessionID }

// Create implements Store.
func (r *Redis) Create(ctx context.Context, typ Type, length int, sessionID string, ttl time.Duration, opts CreateOptions) ([]byte, error) {
	raw, err := randomBytes(length)
	if err != nil {
		return nil, err
	}
	hash := digestHex(raw)

	rec := Record{
		Type:                 typ,
		SessionID:            sessionID,
		ExpiresAt:            time.Now().Add(ttl),
		CodeChallenge:        opts.CodeChallenge,
		CodeChallengeMethod:  opts.CodeChallengeMethod,
		SessionIsAlgorithmic: opts.SessionIsAlgorithmic,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: marshal record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(hash), payload, ttl)
	pipe.SAdd(ctx, r.sessIndexKey(sessionID), hash)
	pipe.Expire(ctx, r.sessIndexKey(sessionID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("tokenstore: create token: %w", err)
	}

	logger.Debugw("token created", "type", typ, "sessionId", sessionID, "expiresAt", rec.ExpiresAt)
	return raw, nil
}

func (r *Redis) load(ctx context.Context, tokenBytes []byte, expected Type) (string, *Record, error) {
	hash := digestHex(tokenBytes)
	payload, err := r.client.Get(ctx, r.key(hash)).Bytes()
	if err != nil {
		return hash, nil, errNotFound(expected)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return hash, nil, fmt.Errorf("tokenstore: unmarshal record: %w", err)
	}
	if rec.Type != expected || rec.Expired(time.Now()) {
		return hash, nil, errNotFound(expected)
	}
	return hash, &rec, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, tokenBytes []byte, expected Type) (*Record, error) {
	_, rec, err := r.load(ctx, tokenBytes, expected)
	return rec, err
}

// Consume implements Store. Uses GETDEL for an atomic get-and-delete.
func (r *Redis) Consume(ctx context.Context, tokenBytes []byte, expected Type) (*Record, error) {
	hash := digestHex(tokenBytes)
	payload, err := r.client.GetDel(ctx, r.key(hash)).Bytes()
	if err != nil {
		return nil, errNotFound(expected)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("tokenstore: unmarshal record: %w", err)
	}
	if rec.Type != expected || rec.Expired(time.Now()) {
		return nil, errNotFound(expected)
	}
	r.client.SRem(ctx, r.sessIndexKey(rec.SessionID), hash)
	return &rec, nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, tokenBytes []byte) error {
	hash := digestHex(tokenBytes)
	payload, err := r.client.Get(ctx, r.key(hash)).Bytes()
	if err == nil {
		var rec Record
		if jsonErr := json.Unmarshal(payload, &rec); jsonErr == nil {
			r.client.SRem(ctx, r.sessIndexKey(rec.SessionID), hash)
		}
	}
	return r.client.Del(ctx, r.key(hash)).Err()
}

// DeleteBySession implements Store.
func (r *Redis) DeleteBySession(ctx context.Context, sessionID string) error {
	hashes, err := r.client.SMembers(ctx, r.sessIndexKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("tokenstore: list session tokens: %w", err)
	}
	if len(hashes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, r.key(h))
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, r.sessIndexKey(sessionID))
	_, err = pipe.Exec(ctx)
	return err
}

// SweepExpired implements Store. Redis expires keys natively via TTL, so
// this only prunes session index sets that have gone stale, in bounded
// batches, matching the "idempotent, capped batches" requirement for stores
// that don't need it for correctness but should still bound background work.
func (r *Redis) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"bysession:*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("tokenstore: scan session indexes: %w", err)
		}
		for _, k := range keys {
			if batchSize > 0 && removed >= batchSize {
				return removed, nil
			}
			members, err := r.client.SMembers(ctx, k).Result()
			if err != nil {
				continue
			}
			for _, h := range members {
				exists, err := r.client.Exists(ctx, r.key(h)).Result()
				if err == nil && exists == 0 {
					r.client.SRem(ctx, k, h)
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
