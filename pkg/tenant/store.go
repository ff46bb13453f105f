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

package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Store holds tenants, roles, and the credentials<->tenant/role assignment
// graph the Resolver reads from.
type Store interface {
	CreateTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]string, error)

	CreateRole(ctx context.Context, role Role) error
	GetRole(ctx context.Context, id string) (*Role, error)

	AssignTenant(ctx context.Context, credentialsID, tenantID string) error
	UnassignTenant(ctx context.Context, credentialsID, tenantID string) error
	AssignedTenants(ctx context.Context, credentialsID string) ([]string, error)

	AssignRole(ctx context.Context, credentialsID, roleID string) error
	UnassignRole(ctx context.Context, credentialsID, roleID string) error
	// AssignedRoles returns the role ids bound to credentialsID, scoped to
	// tenant (for tenant-scoped roles) plus every global role they hold.
	AssignedRoles(ctx context.Context, credentialsID, tenant string) ([]string, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex

	tenants map[string]*Tenant
	roles   map[string]*Role

	tenantAssignments map[string]map[string]struct{} // credentialsID -> tenant ids
	roleAssignments   map[string]map[string]struct{} // credentialsID -> role ids
}

// NewMemory builds an empty in-memory tenant/role store.
func NewMemory() *Memory {
	return &Memory{
		tenants:           make(map[string]*Tenant),
		roles:             make(map[string]*Role),
		tenantAssignments: make(map[string]map[string]struct{}),
		roleAssignments:   make(map[string]map[string]struct{}),
	}
}

// CreateTenant implements Store.
func (m *Memory) CreateTenant(_ context.Context, id string) (*Tenant, error) {
	if !ValidName(id) {
		return nil, fmt.Errorf("tenant: invalid tenant id %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; ok {
		return nil, fmt.Errorf("tenant: %q already exists", id)
	}
	t := &Tenant{ID: id, Data: map[string]any{}}
	m.tenants[id] = t
	return t, nil
}

// GetTenant implements Store.
func (m *Memory) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("tenant not found"))
	}
	clone := *t
	return &clone, nil
}

// ListTenants implements Store.
func (m *Memory) ListTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteTenant implements Store.
func (m *Memory) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("tenant not found"))
	}
	delete(m.tenants, id)
	for _, assigned := range m.tenantAssignments {
		delete(assigned, id)
	}
	return nil
}

// CreateRole implements Store.
func (m *Memory) CreateRole(_ context.Context, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; ok {
		return fmt.Errorf("tenant: role %q already exists", role.ID)
	}
	r := role
	m.roles[role.ID] = &r
	return nil
}

// GetRole implements Store.
func (m *Memory) GetRole(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("role not found"))
	}
	clone := *r
	return &clone, nil
}

// AssignTenant implements Store.
func (m *Memory) AssignTenant(_ context.Context, credentialsID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return ssoerrors.New(ssoerrors.KindNotFound, tenantID, fmt.Errorf("tenant not found"))
	}
	if m.tenantAssignments[credentialsID] == nil {
		m.tenantAssignments[credentialsID] = make(map[string]struct{})
	}
	m.tenantAssignments[credentialsID][tenantID] = struct{}{}
	return nil
}

// UnassignTenant implements Store.
func (m *Memory) UnassignTenant(_ context.Context, credentialsID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenantAssignments[credentialsID], tenantID)
	return nil
}

// AssignedTenants implements Store.
func (m *Memory) AssignedTenants(_ context.Context, credentialsID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for t := range m.tenantAssignments[credentialsID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// AssignRole implements Store.
func (m *Memory) AssignRole(_ context.Context, credentialsID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ssoerrors.New(ssoerrors.KindNotFound, roleID, fmt.Errorf("role not found"))
	}
	if m.roleAssignments[credentialsID] == nil {
		m.roleAssignments[credentialsID] = make(map[string]struct{})
	}
	m.roleAssignments[credentialsID][roleID] = struct{}{}
	return nil
}

// UnassignRole implements Store.
func (m *Memory) UnassignRole(_ context.Context, credentialsID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roleAssignments[credentialsID], roleID)
	return nil
}

// AssignedRoles implements Store: every global role the credential holds,
// plus tenant-scoped roles held for the given tenant (tenant == "" returns
// only the global roles).
func (m *Memory) AssignedRoles(_ context.Context, credentialsID, tenant string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for roleID := range m.roleAssignments[credentialsID] {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		if role.Tenant == "" || role.Tenant == tenant {
			out = append(out, roleID)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ Store = (*Memory)(nil)
