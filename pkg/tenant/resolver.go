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
	"strings"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// AuditSource is the subset of the Audit sink the resolver needs to resolve
// a bare "tenant" scope entry to "the most recently authorized tenant".
type AuditSource interface {
	LastAuthorizedTenant(ctx context.Context, credentialsID string) (tenant string, found bool, err error)
}

// Resolved is the output of Resolve: the assigned tenants plus the effective
// resource map to attach to a session's Authorization field.
type Resolved struct {
	AssignedTenants []string
	Authz           map[string][]string
}

// CanAccessAllTenants reports whether the global resource set grants access
// to every tenant (authz:superuser or authz:tenant:access).
func (r Resolved) CanAccessAllTenants() bool {
	for _, res := range r.Authz[GlobalRole] {
		if res == ResourceSuperuser || res == ResourceTenantAccess {
			return true
		}
	}
	return false
}

// Resolver implements the Tenant/Authz Resolver component (spec.md §4.4).
type Resolver struct {
	store Store
	audit AuditSource
}

// NewResolver builds a Resolver over store and audit. audit may be nil, in
// which case a bare "tenant" scope entry resolves straight to "any assigned
// tenant" without consulting authorize history.
func NewResolver(store Store, audit AuditSource) *Resolver {
	return &Resolver{store: store, audit: audit}
}

// Resolve computes the effective resource set for credentialsID: the union
// of every global role's resources under GlobalRole, and, per assigned
// tenant, the union of that tenant's role resources, with excludeResources
// subtracted from every entry (used to harden impersonated sessions against
// authz:superuser/authz:impersonate).
func (r *Resolver) Resolve(ctx context.Context, credentialsID string, excludeResources []string) (Resolved, error) {
	assignedTenants, err := r.store.AssignedTenants(ctx, credentialsID)
	if err != nil {
		return Resolved{}, fmt.Errorf("tenant: list assigned tenants: %w", err)
	}

	exclude := make(map[string]struct{}, len(excludeResources))
	for _, res := range excludeResources {
		exclude[res] = struct{}{}
	}

	authz := make(map[string][]string)

	globalRoles, err := r.store.AssignedRoles(ctx, credentialsID, "")
	if err != nil {
		return Resolved{}, fmt.Errorf("tenant: list global roles: %w", err)
	}
	authz[GlobalRole] = r.expandResources(ctx, globalRoles, exclude)

	for _, t := range assignedTenants {
		roles, err := r.store.AssignedRoles(ctx, credentialsID, t)
		if err != nil {
			return Resolved{}, fmt.Errorf("tenant: list roles for %q: %w", t, err)
		}
		var tenantScoped []string
		for _, roleID := range roles {
			role, err := r.store.GetRole(ctx, roleID)
			if err != nil {
				continue
			}
			if role.Tenant == t {
				tenantScoped = append(tenantScoped, roleID)
			}
		}
		resources := r.expandResources(ctx, tenantScoped, exclude)
		if len(resources) > 0 {
			authz[t] = resources
		}
	}

	return Resolved{AssignedTenants: assignedTenants, Authz: authz}, nil
}

func (r *Resolver) expandResources(ctx context.Context, roleIDs []string, exclude map[string]struct{}) []string {
	set := make(map[string]struct{})
	for _, roleID := range roleIDs {
		role, err := r.store.GetRole(ctx, roleID)
		if err != nil {
			continue
		}
		for _, res := range role.Resources {
			if _, excluded := exclude[res]; excluded {
				continue
			}
			set[res] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for res := range set {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// ResolveScope maps the `tenant:*` / `tenant:<id>` / bare `tenant` scope
// entries present in scope against resolved, returning the concrete tenant
// ids the caller is authorizing for this session. The result is nil when
// the scope carries no tenant entry at all, or when its entries resolve to
// no tenant.
func (r *Resolver) ResolveScope(ctx context.Context, credentialsID string, scope []string, resolved Resolved) ([]string, error) {
	var tenantEntries []string
	for _, entry := range scope {
		if entry == "tenant" || strings.HasPrefix(entry, "tenant:") {
			tenantEntries = append(tenantEntries, entry)
		}
	}
	if len(tenantEntries) == 0 {
		return nil, nil
	}

	canAccessAll := resolved.CanAccessAllTenants()
	assigned := make(map[string]struct{}, len(resolved.AssignedTenants))
	for _, t := range resolved.AssignedTenants {
		assigned[t] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	for _, entry := range tenantEntries {
		switch {
		case entry == "tenant":
			t, err := r.resolveBareTenant(ctx, credentialsID, resolved)
			if err != nil {
				return nil, err
			}
			add(t)
		case entry == "tenant:*":
			if canAccessAll {
				all, err := r.store.ListTenants(ctx)
				if err != nil {
					return nil, fmt.Errorf("tenant: list all tenants: %w", err)
				}
				for _, t := range all {
					add(t)
				}
			} else {
				for _, t := range resolved.AssignedTenants {
					add(t)
				}
			}
		default:
			id := strings.TrimPrefix(entry, "tenant:")
			if _, ok := assigned[id]; !ok && !canAccessAll {
				return nil, ssoerrors.New(ssoerrors.KindAccessDenied, credentialsID, fmt.Errorf("not authorized for tenant %q", id)).
					WithResource(id).WithCode("unauthorized_tenant")
			}
			if _, err := r.store.GetTenant(ctx, id); err != nil {
				return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("tenant not found")).
					WithResource(id).WithCode("tenant_not_found")
			}
			add(id)
		}
	}

	return out, nil
}

func (r *Resolver) resolveBareTenant(ctx context.Context, credentialsID string, resolved Resolved) (string, error) {
	if r.audit != nil {
		if t, found, err := r.audit.LastAuthorizedTenant(ctx, credentialsID); err == nil && found {
			for _, a := range resolved.AssignedTenants {
				if a == t {
					return t, nil
				}
			}
		}
	}
	if len(resolved.AssignedTenants) > 0 {
		return resolved.AssignedTenants[0], nil
	}
	return "", ssoerrors.New(ssoerrors.KindAccessDenied, credentialsID, fmt.Errorf("credentials have no assigned tenant")).
		WithCode("user_has_no_tenant")
}
