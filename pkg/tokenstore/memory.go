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
	"sync"
	"time"

	"github.com/elpablos/seacat-auth/pkg/logger"
)

type memoryEntry struct {
	record Record
}

// Memory is an in-process, mutex-guarded Store. It is the default backend,
// suitable for single-instance deployments and for tests.
type Memory struct {
	mu      sync.Mutex
	byHash  map[string]*memoryEntry
	bySess  map[string]map[string]struct{} // sessionID -> set of token hashes
	nowFunc func() time.Time
}

// NewMemory creates an empty in-memory token store.
func NewMemory() *Memory {
	return &Memory{
		byHash:  make(map[string]*memoryEntry),
		bySess:  make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

func (m *Memory) now() time.Time { return m.nowFunc() }

// Create implements Store.
func (m *Memory) Create(_ context.Context, typ Type, length int, sessionID string, ttl time.Duration, opts CreateOptions) ([]byte, error) {
	raw, err := randomBytes(length)
	if err != nil {
		return nil, err
	}
	hash := digestHex(raw)

	rec := Record{
		Type:                 typ,
		SessionID:            sessionID,
		ExpiresAt:            m.now().Add(ttl),
		CodeChallenge:        opts.CodeChallenge,
		CodeChallengeMethod:  opts.CodeChallengeMethod,
		SessionIsAlgorithmic: opts.SessionIsAlgorithmic,
	}

	m.mu.Lock()
	m.byHash[hash] = &memoryEntry{record: rec}
	if m.bySess[sessionID] == nil {
		m.bySess[sessionID] = make(map[string]struct{})
	}
	m.bySess[sessionID][hash] = struct{}{}
	m.mu.Unlock()

	logger.Debugw("token created", "type", typ, "sessionId", sessionID, "expiresAt", rec.ExpiresAt)
	return raw, nil
}

func (m *Memory) lookup(tokenBytes []byte, expected Type) (string, *Record, error) {
	hash := digestHex(tokenBytes)

	m.mu.Lock()
	entry, ok := m.byHash[hash]
	m.mu.Unlock()

	if !ok {
		return hash, nil, errNotFound(expected)
	}
	if entry.record.Type != expected {
		return hash, nil, errNotFound(expected)
	}
	if entry.record.Expired(m.now()) {
		return hash, nil, errNotFound(expected)
	}
	rec := entry.record
	return hash, &rec, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, tokenBytes []byte, expected Type) (*Record, error) {
	_, rec, err := m.lookup(tokenBytes, expected)
	return rec, err
}

// Consume implements Store.
func (m *Memory) Consume(_ context.Context, tokenBytes []byte, expected Type) (*Record, error) {
	hash := digestHex(tokenBytes)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byHash[hash]
	if !ok || entry.record.Type != expected || entry.record.Expired(m.now()) {
		return nil, errNotFound(expected)
	}
	rec := entry.record
	delete(m.byHash, hash)
	if set, ok := m.bySess[rec.SessionID]; ok {
		delete(set, hash)
	}
	return &rec, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, tokenBytes []byte) error {
	hash := digestHex(tokenBytes)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byHash[hash]
	if !ok {
		return nil
	}
	delete(m.byHash, hash)
	if set, ok := m.bySess[entry.record.SessionID]; ok {
		delete(set, hash)
	}
	return nil
}

// DeleteBySession implements Store.
func (m *Memory) DeleteBySession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.bySess[sessionID]
	if !ok {
		return nil
	}
	for hash := range set {
		delete(m.byHash, hash)
	}
	delete(m.bySess, sessionID)
	return nil
}

// SweepExpired implements Store.
func (m *Memory) SweepExpired(_ context.Context, batchSize int) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, entry := range m.byHash {
		if batchSize > 0 && removed >= batchSize {
			break
		}
		if entry.record.Expired(now) {
			delete(m.byHash, hash)
			if set, ok := m.bySess[entry.record.SessionID]; ok {
				delete(set, hash)
				if len(set) == 0 {
					delete(m.bySess, entry.record.SessionID)
				}
			}
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*Memory)(nil)
