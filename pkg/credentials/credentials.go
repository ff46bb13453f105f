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

// Package credentials implements the Credentials Façade (spec.md §6.5): a
// provider-agnostic view over one or more backing identity sources, each
// contributing records under its own id prefix.
package credentials

import "time"

// Record is a normalized credentials record, regardless of which Provider
// produced it.
type Record struct {
	ID         string // provider-prefixed, e.g. "ldap:<base64 dn>"
	ProviderID string
	Username   string
	Email      string
	Phone      string
	FullName   string
	Suspended  bool
	CreatedAt  *time.Time
	ModifiedAt *time.Time
	// Custom carries provider-native fields that don't map onto the
	// normalized ones above (the Python original's "_ldap" blob).
	Custom map[string]any
}

// LoginFactor describes one authentication factor a login descriptor offers.
type LoginFactor struct {
	ID   string
	Type string
}

// LoginDescriptor groups the factors a credential may use to authenticate.
type LoginDescriptor struct {
	ID      string
	Label   string
	Factors []LoginFactor
}
