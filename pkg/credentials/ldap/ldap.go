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

// Package ldap implements a credentials.Provider backed by an LDAP
// directory. go-ldap's *ldap.Conn is a synchronous, non-concurrency-safe
// client, so every directory operation opens its own connection and runs
// only after taking a slot from a bounded worker pool, which caps how many
// request goroutines are inside directory calls at once — the isolation the
// original implementation achieved by routing its python-ldap calls through
// a proactor executor.
package ldap

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/elpablos/seacat-auth/pkg/credentials"
	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Config configures a Provider.
type Config struct {
	URI            string // e.g. "ldap://localhost:389"
	BindDN         string
	BindPassword   string
	BaseDN         string
	Filter         string // base filter every search is ANDed with
	UsernameAttr   string // LDAP attribute used as username, e.g. "cn"
	NetworkTimeout time.Duration
	WorkerPoolSize int // bounded goroutine pool size; defaults to 4
}

// Provider is a credentials.Provider backed by LDAP.
type Provider struct {
	cfg   Config
	attrs []string
	pool  *workerPool
}

// NewProvider builds a Provider. It does not connect eagerly; each
// directory operation establishes its own bind and closes it on return.
func NewProvider(cfg Config) *Provider {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 10 * time.Second
	}
	attrs := map[string]struct{}{
		"createTimestamp": {},
		"modifyTimestamp": {},
		"cn":              {},
		"mail":            {},
		"mobile":          {},
	}
	if cfg.UsernameAttr != "" {
		attrs[cfg.UsernameAttr] = struct{}{}
	}
	attrList := make([]string, 0, len(attrs))
	for a := range attrs {
		attrList = append(attrList, a)
	}

	return &Provider{
		cfg:   cfg,
		attrs: attrList,
		pool:  newWorkerPool(cfg.WorkerPoolSize),
	}
}

// Prefix implements credentials.Provider.
func (p *Provider) Prefix() string { return "ldap" }

func (p *Provider) formatID(dn string) string {
	return p.Prefix() + ":" + base64.URLEncoding.EncodeToString([]byte(dn))
}

func (p *Provider) decodeID(id string) (string, error) {
	prefix := p.Prefix() + ":"
	if !strings.HasPrefix(id, prefix) {
		return "", fmt.Errorf("ldap: id %q does not carry this provider's prefix", id)
	}
	dn, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(id, prefix))
	if err != nil {
		return "", fmt.Errorf("ldap: decode dn from id: %w", err)
	}
	return string(dn), nil
}

// dial opens a fresh bound connection. Called only from within the worker
// pool, never concurrently with itself on the same *goldap.Conn.
func (p *Provider) dial() (*goldap.Conn, error) {
	conn, err := goldap.DialURL(p.cfg.URI, goldap.DialWithDialer(&net.Dialer{Timeout: p.cfg.NetworkTimeout}))
	if err != nil {
		return nil, fmt.Errorf("ldap: dial %s: %w", p.cfg.URI, err)
	}
	if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ldap: bind as %s: %w", p.cfg.BindDN, err)
	}
	return conn, nil
}

func (p *Provider) searchFilter(extra string) string {
	if extra == "" {
		return p.cfg.Filter
	}
	return fmt.Sprintf("(&%s(%s=*%s*))", p.cfg.Filter, p.cfg.UsernameAttr, goldap.EscapeFilter(strings.ToLower(extra)))
}

// Get implements credentials.Provider.
func (p *Provider) Get(ctx context.Context, id string, _ []string) (*credentials.Record, error) {
	dn, err := p.decodeID(id)
	if err != nil {
		return nil, ssoerrors.New(ssoerrors.KindNotFound, id, err)
	}

	return runOn(ctx, p.pool, func() (*credentials.Record, error) {
		conn, err := p.dial()
		if err != nil {
			return nil, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, id, err)
		}
		defer conn.Close()

		req := goldap.NewSearchRequest(dn, goldap.ScopeBaseObject, goldap.NeverDerefAliases,
			0, 0, false, p.cfg.Filter, p.attrs, nil)
		result, err := conn.Search(req)
		if err != nil {
			if isNoSuchObject(err) {
				return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("credentials not found"))
			}
			return nil, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, id, err)
		}
		if len(result.Entries) != 1 {
			return nil, ssoerrors.New(ssoerrors.KindNotFound, id, fmt.Errorf("credentials not found"))
		}
		return p.normalize(result.Entries[0]), nil
	})
}

// Search implements credentials.Provider.
func (p *Provider) Search(ctx context.Context, filter string) ([]credentials.Record, error) {
	return runOn(ctx, p.pool, func() ([]credentials.Record, error) {
		conn, err := p.dial()
		if err != nil {
			return nil, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, "", err)
		}
		defer conn.Close()

		req := goldap.NewSearchRequest(p.cfg.BaseDN, goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
			0, 0, false, p.searchFilter(filter), p.attrs, nil)
		result, err := conn.Search(req)
		if err != nil {
			return nil, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, "", err)
		}

		out := make([]credentials.Record, 0, len(result.Entries))
		for _, entry := range result.Entries {
			out = append(out, *p.normalize(entry))
		}
		return out, nil
	})
}

// Count implements credentials.Provider.
func (p *Provider) Count(ctx context.Context, filter string) (int, error) {
	records, err := p.Search(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Iterate implements credentials.Provider.
func (p *Provider) Iterate(ctx context.Context, offset, limit int, filter string) ([]credentials.Record, error) {
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

// Locate implements credentials.Provider: matches ident against
// UsernameAttr, mail, or mobile.
func (p *Provider) Locate(ctx context.Context, ident string, identFields []string) (string, error) {
	fields := identFields
	if len(fields) == 0 {
		fields = []string{"mail", "mobile", p.cfg.UsernameAttr}
	}
	var clauses strings.Builder
	for _, f := range fields {
		if f == "" {
			continue
		}
		fmt.Fprintf(&clauses, "(%s=%s)", f, goldap.EscapeFilter(ident))
	}
	filter := fmt.Sprintf("(|%s)", clauses.String())

	return runOn(ctx, p.pool, func() (string, error) {
		conn, err := p.dial()
		if err != nil {
			return "", ssoerrors.New(ssoerrors.KindUpstreamUnavailable, ident, err)
		}
		defer conn.Close()

		req := goldap.NewSearchRequest(p.cfg.BaseDN, goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
			0, 0, false, filter, []string{"dn"}, nil)
		result, err := conn.Search(req)
		if err != nil {
			return "", ssoerrors.New(ssoerrors.KindUpstreamUnavailable, ident, err)
		}
		if len(result.Entries) == 0 {
			return "", ssoerrors.New(ssoerrors.KindNotFound, ident, fmt.Errorf("no credentials located for ident"))
		}
		return p.formatID(result.Entries[0].DN), nil
	})
}

// Authenticate implements credentials.Provider by performing a simple bind
// as the target DN with the supplied password, on a dedicated connection.
func (p *Provider) Authenticate(ctx context.Context, id string, password string) (bool, error) {
	dn, err := p.decodeID(id)
	if err != nil {
		return false, ssoerrors.New(ssoerrors.KindNotFound, id, err)
	}

	return runOn(ctx, p.pool, func() (bool, error) {
		conn, err := goldap.DialURL(p.cfg.URI)
		if err != nil {
			return false, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, id, err)
		}
		defer conn.Close()

		if err := conn.Bind(dn, password); err != nil {
			if isInvalidCredentials(err) {
				logger.Infow("ldap authentication failed", "cid", id)
				return false, nil
			}
			return false, ssoerrors.New(ssoerrors.KindUpstreamUnavailable, id, err)
		}
		return true, nil
	})
}

// GetLoginDescriptors implements credentials.Provider: LDAP-backed
// credentials only ever support password login.
func (p *Provider) GetLoginDescriptors(_ context.Context, _ string) ([]credentials.LoginDescriptor, error) {
	return []credentials.LoginDescriptor{{
		ID:    "default",
		Label: "Use recommended login.",
		Factors: []credentials.LoginFactor{
			{ID: "password", Type: "password"},
		},
	}}, nil
}

func (p *Provider) normalize(entry *goldap.Entry) *credentials.Record {
	rec := &credentials.Record{
		ID:         p.formatID(entry.DN),
		ProviderID: p.Prefix(),
		Custom:     make(map[string]any),
	}

	if v := entry.GetAttributeValue(p.cfg.UsernameAttr); v != "" {
		rec.Username = v
	} else {
		rec.Username = entry.DN
	}
	rec.FullName = entry.GetAttributeValue("cn")
	rec.Email = entry.GetAttributeValue("mail")
	rec.Phone = entry.GetAttributeValue("mobile")

	if ts := entry.GetAttributeValue("createTimestamp"); ts != "" {
		if t, err := parseGeneralizedTime(ts); err == nil {
			rec.CreatedAt = &t
		}
	}
	if ts := entry.GetAttributeValue("modifyTimestamp"); ts != "" {
		if t, err := parseGeneralizedTime(ts); err == nil {
			rec.ModifiedAt = &t
		}
	}

	for _, attr := range entry.Attributes {
		switch attr.Name {
		case p.cfg.UsernameAttr, "cn", "mail", "mobile", "createTimestamp", "modifyTimestamp", "userPassword":
			continue
		default:
			if len(attr.Values) == 1 {
				rec.Custom[attr.Name] = attr.Values[0]
			} else if len(attr.Values) > 1 {
				rec.Custom[attr.Name] = attr.Values
			}
		}
	}

	return rec
}

func parseGeneralizedTime(v string) (time.Time, error) {
	if t, err := time.Parse("20060102150405Z", v); err == nil {
		return t, nil
	}
	return time.Parse("20060102150405.999999999Z", v)
}

func isNoSuchObject(err error) bool {
	var ldapErr *goldap.Error
	return asLDAPError(err, &ldapErr) && ldapErr.ResultCode == goldap.LDAPResultNoSuchObject
}

func isInvalidCredentials(err error) bool {
	var ldapErr *goldap.Error
	return asLDAPError(err, &ldapErr) && ldapErr.ResultCode == goldap.LDAPResultInvalidCredentials
}

func asLDAPError(err error, target **goldap.Error) bool {
	if le, ok := err.(*goldap.Error); ok {
		*target = le
		return true
	}
	return false
}

var _ credentials.Provider = (*Provider)(nil)
