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

package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	calls int
	next  int
	err   error
}

func (f *fakeStore) SweepExpired(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.next, f.err
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu        sync.Mutex
	observed  []int
	lastError error
}

func (r *fakeRecorder) ObserveSweep(_ string, removed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, removed)
	r.lastError = err
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observed)
}

func TestSweeperTicksAndReportsToRecorder(t *testing.T) {
	t.Parallel()

	store := &fakeStore{next: 3}
	rec := &fakeRecorder{}
	s := NewSweeper("sessions", store, WithInterval(10*time.Millisecond), WithRecorder(rec))

	s.Start(context.Background())
	defer s.Close()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, store.callCount(), 2)
}

func TestSweeperCloseStopsGoroutine(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	s := NewSweeper("tokens", store, WithInterval(5*time.Millisecond))
	s.Start(context.Background())

	require.Eventually(t, func() bool { return store.callCount() >= 1 }, time.Second, 2*time.Millisecond)
	s.Close()

	after := store.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, store.callCount(), "no further sweeps after Close")
}

func TestSweeperCloseBeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	s := NewSweeper("idle", &fakeStore{})
	s.Close()
}

func TestDefaultsApplyWithoutOptions(t *testing.T) {
	t.Parallel()

	s := NewSweeper("defaults", &fakeStore{})
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, DefaultBatchSize, s.batchSize)
}
