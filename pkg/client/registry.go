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

package client

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// HashSecret bcrypt-hashes a plaintext client secret for storage, mirroring
// how confidential client secrets are hashed before being written to the
// registry.
func HashSecret(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
}

// Registry holds the set of registered OAuth clients. Clients are
// configuration, not request-scoped state, so lookups take no context.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry builds a Registry seeded with the given clients.
func NewRegistry(clients ...*Client) *Registry {
	r := &Registry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.GetID()] = c
	}
	return r
}

// Register adds or replaces a client in the registry.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.GetID()] = c
}

// Get looks up a client by id, failing with an invalid_client-kind error if
// absent.
func (r *Registry) Get(clientID string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindInvalidClient, clientID, fmt.Errorf("unknown client_id"))
	}
	return c, nil
}

// Authenticate validates a confidential client's secret against its stored
// bcrypt hash. A public client (no stored secret) always fails
// authentication here — callers must not require client authentication for
// public clients in the first place.
func (r *Registry) Authenticate(clientID, secret string) (*Client, error) {
	c, err := r.Get(clientID)
	if err != nil {
		return nil, err
	}
	hashed := c.GetHashedSecret()
	if len(hashed) == 0 {
		return nil, ssoerrors.New(ssoerrors.KindInvalidClient, clientID, fmt.Errorf("client has no secret configured"))
	}
	if err := bcrypt.CompareHashAndPassword(hashed, []byte(secret)); err != nil {
		return nil, ssoerrors.New(ssoerrors.KindInvalidClient, clientID, fmt.Errorf("secret mismatch"))
	}
	return c, nil
}

// ValidateRedirectURI enforces the data-model invariant that the presented
// redirect_uri must match one of the client's registered URIs (subject to
// the dev bypass).
func (r *Registry) ValidateRedirectURI(c *Client, redirectURI string) error {
	if redirectURI == "" {
		return ssoerrors.New(ssoerrors.KindInvalidRequest, c.GetID(), fmt.Errorf("missing redirect_uri"))
	}
	if !c.MatchRedirectURI(redirectURI) {
		return ssoerrors.New(ssoerrors.KindInvalidRedirectURI, c.GetID(), fmt.Errorf("redirect_uri not registered")).WithResource(redirectURI)
	}
	return nil
}
