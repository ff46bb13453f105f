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
	"time"
)

// IndexField enumerates the secondary indexes the Session Store must
// maintain, per spec.md §4.2's get_by(field, value) operation.
type IndexField string

// Supported secondary index fields.
const (
	ByCookieSessionID IndexField = "cookie.session_cookie_id"
)

// Store is the Session Store component (spec.md §4.2).
type Store interface {
	// Create assembles a new session of the given type from builders (applied
	// in order) and persists it with the given TTL (or a server default if
	// ttl is zero). parentID is required for TypeOpenIDConnect sessions.
	Create(ctx context.Context, typ Type, parentID string, ttl time.Duration, builders ...Builder) (*Session, error)

	// Get fetches a session by id.
	Get(ctx context.Context, id string) (*Session, error)

	// GetBy fetches a session by a secondary index.
	GetBy(ctx context.Context, field IndexField, value []byte) (*Session, error)

	// Update applies builders to the session identified by id and persists
	// the result. Updates to a single session id are serialized.
	Update(ctx context.Context, id string, builders ...Builder) (*Session, error)

	// Delete removes the session, cascading to every child session whose
	// ParentSessionID equals id, and to every token bound to any deleted
	// session id (via the CascadeFunc given to NewMemory or NewRedis).
	Delete(ctx context.Context, id string) error

	// Touch extends ExpiresAt by the store's sliding window, capped by
	// maxTTL if maxTTL is non-zero (a client's session_expiration override).
	Touch(ctx context.Context, id string, maxTTL time.Duration) (*Session, error)

	// SweepExpired removes expired records in bounded batches and returns
	// how many it removed. Memory deletes expired sessions, cascading like
	// Delete; Redis leaves session keys to their own TTL and only prunes
	// stale child-index entries, returning the number of entries pruned.
	SweepExpired(ctx context.Context, batchSize int) (int, error)
}

// CascadeFunc is invoked by a Store with the id of every session it deletes
// (directly or via cascade), so the Token Store can drop bound tokens.
type CascadeFunc func(ctx context.Context, sessionID string)

// defaultTTL is used when callers pass ttl == 0 to Create.
const defaultTTL = 12 * time.Hour

// defaultSlidingWindow is the amount Touch extends ExpiresAt by.
const defaultSlidingWindow = 30 * time.Minute
