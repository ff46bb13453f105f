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
	"strings"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Provider is a single backing identity source (spec.md §6.5's Credentials
// provider contract). Every id a Provider returns or accepts carries its
// Prefix followed by ":".
type Provider interface {
	Prefix() string

	Get(ctx context.Context, id string, include []string) (*Record, error)
	Search(ctx context.Context, filter string) ([]Record, error)
	Count(ctx context.Context, filter string) (int, error)
	Iterate(ctx context.Context, offset, limit int, filter string) ([]Record, error)
	Locate(ctx context.Context, ident string, identFields []string) (string, error)
	Authenticate(ctx context.Context, id string, password string) (bool, error)
	GetLoginDescriptors(ctx context.Context, id string) ([]LoginDescriptor, error)
}

// Facade fans a single logical credentials interface out across zero or
// more registered Providers, routing by the provider-prefix embedded in
// each credentials id.
type Facade struct {
	providers map[string]Provider // prefix -> provider
	order     []string            // prefixes, in registration order (for Search/Count fan-out)
}

// NewFacade builds an empty Facade.
func NewFacade() *Facade {
	return &Facade{providers: make(map[string]Provider)}
}

// Register adds a Provider under its own Prefix(). Registering the same
// prefix twice is an error.
func (f *Facade) Register(p Provider) error {
	prefix := p.Prefix()
	if _, ok := f.providers[prefix]; ok {
		return fmt.Errorf("credentials: provider prefix %q already registered", prefix)
	}
	f.providers[prefix] = p
	f.order = append(f.order, prefix)
	return nil
}

func (f *Facade) providerFor(id string) (Provider, error) {
	prefix, _, ok := strings.Cut(id, ":")
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("malformed credentials id"))
	}
	p, ok := f.providers[prefix]
	if !ok {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("no provider registered for prefix %q", prefix))
	}
	return p, nil
}

// Get implements the façade's get(id, include?) operation.
func (f *Facade) Get(ctx context.Context, id string, include []string) (*Record, error) {
	p, err := f.providerFor(id)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, id, include)
}

// Search fans filter out to every registered provider and concatenates results.
func (f *Facade) Search(ctx context.Context, filter string) ([]Record, error) {
	var out []Record
	for _, prefix := range f.order {
		records, err := f.providers[prefix].Search(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("credentials: search provider %q: %w", prefix, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// Count fans filter out to every registered provider and sums the results.
func (f *Facade) Count(ctx context.Context, filter string) (int, error) {
	total := 0
	for _, prefix := range f.order {
		n, err := f.providers[prefix].Count(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("credentials: count provider %q: %w", prefix, err)
		}
		total += n
	}
	return total, nil
}

// Iterate applies offset/limit over the concatenated Search results across
// every registered provider, in registration order.
func (f *Facade) Iterate(ctx context.Context, offset, limit int, filter string) ([]Record, error) {
	all, err := f.Search(ctx, filter)
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

// Locate asks every registered provider in turn for an id matching ident,
// returning the first hit.
func (f *Facade) Locate(ctx context.Context, ident string, identFields []string) (string, error) {
	for _, prefix := range f.order {
		id, err := f.providers[prefix].Locate(ctx, ident, identFields)
		if err == nil && id != "" {
			return id, nil
		}
	}
	return "", ssoerrors.New(ssoerrors.KindNotFound, ident, fmt.Errorf("no credentials located for ident"))
}

// Authenticate implements the façade's authenticate(id, {password}) operation.
func (f *Facade) Authenticate(ctx context.Context, id string, password string) (bool, error) {
	p, err := f.providerFor(id)
	if err != nil {
		return false, err
	}
	return p.Authenticate(ctx, id, password)
}

// GetLoginDescriptors implements the façade's get_login_descriptors(id) operation.
func (f *Facade) GetLoginDescriptors(ctx context.Context, id string) ([]LoginDescriptor, error) {
	p, err := f.providerFor(id)
	if err != nil {
		return nil, err
	}
	return p.GetLoginDescriptors(ctx, id)
}
