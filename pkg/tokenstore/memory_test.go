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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	raw, err := store.Create(ctx, TypeAccessToken, 32, "sess-1", time.Minute, CreateOptions{})
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	rec, err := store.Get(ctx, raw, TypeAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, TypeAccessToken, rec.Type)
}

func TestMemoryGetWrongTypeFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	raw, err := store.Create(ctx, TypeAccessToken, 32, "sess-1", time.Minute, CreateOptions{})
	require.NoError(t, err)

	_, err = store.Get(ctx, raw, TypeRefreshToken)
	assert.ErrorIs(t, err, errNotFoundSentinel())
}

func TestMemoryExpiredTokenNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()
	fixed := time.Now()
	store.nowFunc = func() time.Time { return fixed }

	raw, err := store.Create(ctx, TypeAuthorizationCode, 32, "sess-1", time.Second, CreateOptions{})
	require.NoError(t, err)

	store.nowFunc = func() time.Time { return fixed.Add(2 * time.Second) }

	_, err = store.Get(ctx, raw, TypeAuthorizationCode)
	assert.Error(t, err)
}

// TestAuthorizationCodeSingleUse verifies the spec.md §8 invariant:
// after any successful exchange, a second Consume of the same code fails.
func TestAuthorizationCodeSingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	raw, err := store.Create(ctx, TypeAuthorizationCode, 32, "sess-1", time.Minute, CreateOptions{})
	require.NoError(t, err)

	rec, err := store.Consume(ctx, raw, TypeAuthorizationCode)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.SessionID)

	_, err = store.Consume(ctx, raw, TypeAuthorizationCode)
	assert.Error(t, err, "second exchange of the same code must fail")
}

func TestDeleteBySessionCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	access, err := store.Create(ctx, TypeAccessToken, 32, "sess-1", time.Minute, CreateOptions{})
	require.NoError(t, err)
	refresh, err := store.Create(ctx, TypeRefreshToken, 32, "sess-1", time.Minute, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, store.DeleteBySession(ctx, "sess-1"))

	_, err = store.Get(ctx, access, TypeAccessToken)
	assert.Error(t, err)
	_, err = store.Get(ctx, refresh, TypeRefreshToken)
	assert.Error(t, err)
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()
	fixed := time.Now()
	store.nowFunc = func() time.Time { return fixed }

	expired, err := store.Create(ctx, TypeAccessToken, 32, "sess-1", time.Second, CreateOptions{})
	require.NoError(t, err)
	fresh, err := store.Create(ctx, TypeAccessToken, 32, "sess-2", time.Hour, CreateOptions{})
	require.NoError(t, err)

	store.nowFunc = func() time.Time { return fixed.Add(2 * time.Second) }

	n, err := store.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, expired, TypeAccessToken)
	assert.Error(t, err)
	_, err = store.Get(ctx, fresh, TypeAccessToken)
	assert.NoError(t, err)
}

func TestCreateRejectsNonPositiveLength(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	_, err := store.Create(context.Background(), TypeAccessToken, 0, "sess-1", time.Minute, CreateOptions{})
	assert.Error(t, err)
}

// errNotFoundSentinel is a helper returning an error comparable via
// errors.Is against any not_found Kind error, regardless of subject.
func errNotFoundSentinel() error {
	return errNotFound(TypeAccessToken)
}
