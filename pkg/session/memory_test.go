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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRootSessionAndGetByCookie(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory(nil)

	cookieID := []byte("0123456789abcdef0123456789abcdef")
	root, err := store.Create(ctx, TypeRoot, "", time.Hour,
		CredentialsBuilder(Credentials{ID: "cred-1"}),
		CookieBuilder(cookieID),
	)
	require.NoError(t, err)
	assert.Equal(t, TypeRoot, root.Type)

	found, err := store.GetBy(ctx, ByCookieSessionID, cookieID)
	require.NoError(t, err)
	assert.Equal(t, root.SessionID, found.SessionID)
}

func TestOpenIDConnectSessionRequiresParent(t *testing.T) {
	t.Parallel()
	store := NewMemory(nil)
	_, err := store.Create(context.Background(), TypeOpenIDConnect, "", time.Hour)
	assert.Error(t, err)
}

func TestChildSessionInvariantParentMustExist(t *testing.T) {
	t.Parallel()
	store := NewMemory(nil)
	_, err := store.Create(context.Background(), TypeOpenIDConnect, "nonexistent", time.Hour)
	assert.Error(t, err)
}

func TestDeleteCascadesToChildrenAndTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var cascaded []string
	store := NewMemory(func(_ context.Context, sid string) {
		cascaded = append(cascaded, sid)
	})

	root, err := store.Create(ctx, TypeRoot, "", time.Hour, CookieBuilder([]byte("abcdefghijklmnopqrstuvwxyz012345")))
	require.NoError(t, err)

	child, err := store.Create(ctx, TypeOpenIDConnect, root.SessionID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, root.SessionID))

	assert.ElementsMatch(t, []string{root.SessionID, child.SessionID}, cascaded)

	_, err = store.Get(ctx, root.SessionID)
	assert.Error(t, err)
	_, err = store.Get(ctx, child.SessionID)
	assert.Error(t, err)

	_, err = store.GetBy(ctx, ByCookieSessionID, []byte("abcdefghijklmnopqrstuvwxyz012345"))
	assert.Error(t, err, "cookie index must be cleaned up on delete")
}

func TestBuilderOrderLastWriteWins(t *testing.T) {
	t.Parallel()
	store := NewMemory(nil)
	s, err := store.Create(context.Background(), TypeRoot, "", time.Hour,
		CredentialsBuilder(Credentials{ID: "first"}),
		CredentialsBuilder(Credentials{ID: "second"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "second", s.Credentials.ID)
}

func TestTouchExtendsExpiryCappedByMaxTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory(nil)
	fixed := time.Now()
	store.nowFunc = func() time.Time { return fixed }

	s, err := store.Create(ctx, TypeRoot, "", time.Minute)
	require.NoError(t, err)
	originalExpiry := s.ExpiresAt

	store.nowFunc = func() time.Time { return fixed.Add(10 * time.Second) }
	touched, err := store.Touch(ctx, s.SessionID, 20*time.Second)
	require.NoError(t, err)
	assert.True(t, touched.ExpiresAt.After(originalExpiry) || touched.ExpiresAt.Equal(originalExpiry))
	assert.True(t, !touched.ExpiresAt.After(s.CreatedAt.Add(20*time.Second)))
}

func TestSweepExpiredRemovesOnlyExpiredSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory(nil)
	fixed := time.Now()
	store.nowFunc = func() time.Time { return fixed }

	expiring, err := store.Create(ctx, TypeRoot, "", time.Second)
	require.NoError(t, err)
	fresh, err := store.Create(ctx, TypeRoot, "", time.Hour)
	require.NoError(t, err)

	store.nowFunc = func() time.Time { return fixed.Add(2 * time.Second) }

	n, err := store.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, expiring.SessionID)
	assert.Error(t, err)
	_, err = store.Get(ctx, fresh.SessionID)
	assert.NoError(t, err)
}

func TestAlgorithmicSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	keyRing, err := NewKeyRing(make([]byte, 32))
	require.NoError(t, err)
	codec := NewAlgorithmic(keyRing)

	s := &Session{
		SessionID: "anon-1",
		Type:      TypeAnonymous,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		OAuth2:    OAuth2{Scope: []string{"openid"}},
	}

	ciphertext, err := codec.Serialize(s)
	require.NoError(t, err)

	back, err := codec.Deserialize(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, back.SessionID)
	assert.Equal(t, s.OAuth2.Scope, back.OAuth2.Scope)
}

func TestAlgorithmicDeserializeSurvivesKeyRotation(t *testing.T) {
	t.Parallel()
	oldKey := make([]byte, 32)
	oldKey[0] = 1
	keyRing, err := NewKeyRing(oldKey)
	require.NoError(t, err)
	codec := NewAlgorithmic(keyRing)

	s := &Session{SessionID: "anon-2", Type: TypeAnonymous}
	ciphertext, err := codec.Serialize(s)
	require.NoError(t, err)

	newKey := make([]byte, 32)
	newKey[0] = 2
	require.NoError(t, keyRing.Rotate(newKey))

	back, err := codec.Deserialize(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "anon-2", back.SessionID)
}
