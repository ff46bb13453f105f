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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Memory is an in-process Store. Updates to a single session id are
// serialized through a per-id mutex obtained from idLocks, matching the
// "within a single session id, update operations are serialized" guarantee
// in spec.md §5; Update also holds the store-wide mu write lock while it
// reads, rebuilds and stores the record.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	children map[string]map[string]struct{} // parentID -> set of child ids
	byCookie map[string]string              // hex(cookie id) -> session id

	idLocks sync.Map // sessionID -> *sync.Mutex

	cascade CascadeFunc
	nowFunc func() time.Time
}

// NewMemory creates an empty in-memory session store. cascade, if non-nil,
// is invoked once per deleted session id (direct delete or cascade) so a
// Token Store can drop bound tokens.
func NewMemory(cascade CascadeFunc) *Memory {
	return &Memory{
		byID:     make(map[string]*Session),
		children: make(map[string]map[string]struct{}),
		byCookie: make(map[string]string),
		cascade:  cascade,
		nowFunc:  time.Now,
	}
}

func (m *Memory) now() time.Time { return m.nowFunc() }

func (m *Memory) lockFor(id string) *sync.Mutex {
	l, _ := m.idLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, typ Type, parentID string, ttl time.Duration, builders ...Builder) (*Session, error) {
	if typ == TypeOpenIDConnect && parentID == "" {
		return nil, fmt.Errorf("session: openidconnect session requires a parent_session_id")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := m.now()
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if parentID != "" {
		if _, ok := m.byID[parentID]; !ok {
			return nil, ssoerrors.New(ssoerrors.KindNotFound, parentID, fmt.Errorf("parent session not found"))
		}
		if m.children[parentID] == nil {
			m.children[parentID] = make(map[string]struct{})
		}
		m.children[parentID][s.SessionID] = struct{}{}
	}
	if typ == TypeRoot && len(s.Cookie.SessionCookieID) > 0 {
		key := string(s.Cookie.SessionCookieID)
		if existing, ok := m.byCookie[key]; ok && existing != s.SessionID {
			return nil, fmt.Errorf("session: cookie id collision")
		}
		m.byCookie[key] = s.SessionID
	}
	m.byID[s.SessionID] = s

	logger.Debugw("session created", "sid", s.SessionID, "type", typ, "parentSid", parentID)
	clone := *s
	return &clone, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("session not found"))
	}
	if !s.ExpiresAt.After(m.now()) {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("session expired"))
	}
	clone := *s
	return &clone, nil
}

// GetBy implements Store.
func (m *Memory) GetBy(ctx context.Context, field IndexField, value []byte) (*Session, error) {
	if field != ByCookieSessionID {
		return nil, fmt.Errorf("session: unsupported index field %q", field)
	}
	m.mu.RLock()
	id, ok := m.byCookie[string(value)]
	m.mu.RUnlock()
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, "", fmt.Errorf("session not found for cookie id"))
	}
	return m.Get(ctx, id)
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, id string, builders ...Builder) (*Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("session not found"))
	}
	updated := *s
	if err := Apply(&updated, builders...); err != nil {
		return nil, fmt.Errorf("session: apply builders: %w", err)
	}
	updated.ModifiedAt = m.now()

	if updated.Type == TypeRoot {
		oldKey := string(s.Cookie.SessionCookieID)
		newKey := string(updated.Cookie.SessionCookieID)
		if oldKey != newKey {
			delete(m.byCookie, oldKey)
			if len(updated.Cookie.SessionCookieID) > 0 {
				m.byCookie[newKey] = id
			}
		}
	}

	m.byID[id] = &updated
	clone := updated
	return &clone, nil
}

// Touch implements Store.
func (m *Memory) Touch(ctx context.Context, id string, maxTTL time.Duration) (*Session, error) {
	now := m.now()
	return m.Update(ctx, id, func(s *Session) error {
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

// Delete implements Store, cascading to children and invoking cascade for
// every removed session id.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	ids := m.collectCascadeIDsLocked(id)
	for _, cid := range ids {
		if s, ok := m.byID[cid]; ok && s.Type == TypeRoot {
			delete(m.byCookie, string(s.Cookie.SessionCookieID))
		}
		delete(m.byID, cid)
		delete(m.children, cid)
	}
	delete(m.children, id)
	m.mu.Unlock()

	for _, cid := range ids {
		if m.cascade != nil {
			m.cascade(ctx, cid)
		}
	}
	return nil
}

// collectCascadeIDsLocked returns id plus every descendant id, depth-first.
// Caller must hold m.mu.
func (m *Memory) collectCascadeIDsLocked(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		out = append(out, cur)
		for child := range m.children[cur] {
			walk(child)
		}
	}
	walk(id)
	return out
}

// SweepExpired implements Store.
func (m *Memory) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	now := m.now()

	m.mu.RLock()
	var expired []string
	for id, s := range m.byID {
		if !s.ExpiresAt.After(now) {
			expired = append(expired, id)
			if batchSize > 0 && len(expired) >= batchSize {
				break
			}
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if err := m.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

var _ Store = (*Memory)(nil)
