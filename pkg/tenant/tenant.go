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

// Package tenant implements the Tenant/Role data model and the Tenant/Authz
// Resolver component (spec.md §4.4): turning a credentials id plus a
// requested set of tenant scope entries into the session's effective
// resource map.
package tenant

import (
	"regexp"
)

// NameRegex is the pattern a tenant name must match.
var NameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{2,31}$`)

// GlobalRole is the pseudo-tenant under which global role bindings live in
// the Authz map returned by Resolve.
const GlobalRole = "*"

// Resources a superuser-equivalent grant implies "access to all tenants".
const (
	ResourceSuperuser    = "authz:superuser"
	ResourceTenantAccess = "authz:tenant:access"
	// ResourceImpersonate must never be carried by an impersonated session,
	// per the data-model invariant (spec.md §3): impersonated sessions are
	// hardened against both super-user and further-impersonation resources.
	ResourceImpersonate = "authz:impersonate"
)

// Tenant is a named, freely-extensible organizational unit.
type Tenant struct {
	ID   string
	Data map[string]any
}

// Role is a named set of resources, either global (Tenant == "") or scoped
// to a single tenant.
type Role struct {
	ID        string
	Tenant    string // "" for a global role
	Resources []string
}

// ValidName reports whether id matches NameRegex.
func ValidName(id string) bool {
	return NameRegex.MatchString(id)
}
