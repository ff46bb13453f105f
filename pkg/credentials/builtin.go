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

package credentials

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// BuiltinProvider is a self-contained Provider backed by an in-process map,
// for deployments with no external directory (or for tests). Passwords are
// bcrypt-hashed at rest.
type BuiltinProvider struct {
	mu      sync.RWMutex
	records map[string]*Record // id -> record
	hashes  map[string][]byte  // id -> bcrypt hash
	nextSeq int
}

// NewBuiltinProvider builds an empty BuiltinProvider.
func NewBuiltinProvider() *BuiltinProvider {
	return &BuiltinProvider{
		records: make(map[string]*Record),
		hashes:  make(map[string][]byte),
	}
}

// Prefix implements Provider.
func (p *BuiltinProvider) Prefix() string { return "builtin" }

// Create adds a new credential with the given username/email/password,
// returning its provider-prefixed id.
func (p *BuiltinProvider) Create(username, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("credentials: hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq++
	id := fmt.Sprintf("%s:%d", p.Prefix(), p.nextSeq)
	now := time.Now()
	p.records[id] = &Record{
		ID:         id,
		ProviderID: p.Prefix(),
		Username:   username,
		Email:      email,
		CreatedAt:  &now,
		ModifiedAt: &now,
	}
	p.hashes[id] = hash
	return id, nil
}

// Get implements Provider.
func (p *BuiltinProvider) Get(_ context.Context, id string, _ []string) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[id]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("credentials not found"))
	}
	clone := *r
	return &clone, nil
}

// Search implements Provider: a case-insensitive substring match against
// username and email.
func (p *BuiltinProvider) Search(_ context.Context, filter string) ([]Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	needle := strings.ToLower(filter)
	var out []Record
	for _, r := range p.records {
		if needle == "" || strings.Contains(strings.ToLower(r.Username), needle) || strings.Contains(strings.ToLower(r.Email), needle) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count implements Provider.
func (p *BuiltinProvider) Count(ctx context.Context, filter string) (int, error) {
	records, err := p.Search(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Iterate implements Provider.
func (p *BuiltinProvider) Iterate(ctx context.Context, offset, limit int, filter string) ([]Record, error) {
	all, err := p.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// Locate implements Provider: matches ident against username or email exactly.
func (p *BuiltinProvider) Locate(_ context.Context, ident string, _ []string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, r := range p.records {
		if r.Username == ident || r.Email == ident {
			return id, nil
		}
	}
	return "", ssoerrors.New(ssoerrors.KindNotFound, ident, fmt.Errorf("no credentials located for ident"))
}

// Authenticate implements Provider.
func (p *BuiltinProvider) Authenticate(_ context.Context, id string, password string) (bool, error) {
	p.mu.RLock()
	hash, ok := p.hashes[id]
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

// GetLoginDescriptors implements Provider: only password login is supported.
func (p *BuiltinProvider) GetLoginDescriptors(_ context.Context, _ string) ([]LoginDescriptor, error) {
	return []LoginDescriptor{{
		ID:    "default",
		Label: "Use recommended login.",
		Factors: []LoginFactor{
			{ID: "password", Type: "password"},
		},
	}}, nil
}

var _ Provider = (*BuiltinProvider)(nil)
