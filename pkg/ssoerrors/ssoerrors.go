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

// Package ssoerrors defines the error kinds shared across the authorization
// server, following the propagation table in the specification's error
// handling design.
package ssoerrors

import (
	"errors"
	"fmt"
)

// Kind identifies which row of the error-handling table an error belongs to.
type Kind string

// Error kinds. These map directly onto the propagation table: callers switch
// on Kind (via errors.As on *Error) to decide the HTTP status / OAuth error
// code to emit.
const (
	KindNotFound            Kind = "not_found"
	KindInvalidGrant        Kind = "invalid_grant"
	KindAccessDenied        Kind = "access_denied"
	KindInvalidClient       Kind = "invalid_client"
	KindInvalidRedirectURI  Kind = "invalid_redirect_uri"
	KindInvalidRequest      Kind = "invalid_request"
	KindInvalidScope        Kind = "invalid_scope"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
)

// Error is a structured error carrying a Kind plus an optional tenant/subject
// the error refers to, so handlers can render the right OAuth error code
// without re-parsing message strings.
type Error struct {
	Kind     Kind
	Subject  string
	Resource string
	// Code, when set, is the exact OAuth/OIDC error code to echo back to the
	// client (e.g. "unauthorized_tenant", "user_has_no_tenant"), for cases
	// where several distinct wire-level codes share one Kind's propagation
	// rule. Handlers fall back to Kind itself when Code is empty.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ssoerrors.NotFound) style checks against the Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newKind(kind Kind) *Error { return &Error{Kind: kind} }

// Sentinel values for errors.Is comparisons against a bare Kind.
var (
	NotFound            = newKind(KindNotFound)
	InvalidGrant        = newKind(KindInvalidGrant)
	AccessDenied        = newKind(KindAccessDenied)
	InvalidClient       = newKind(KindInvalidClient)
	InvalidRedirectURI  = newKind(KindInvalidRedirectURI)
	InvalidRequest      = newKind(KindInvalidRequest)
	InvalidScope        = newKind(KindInvalidScope)
	UpstreamUnavailable = newKind(KindUpstreamUnavailable)
)

// New builds an *Error of the given kind, wrapping err and annotating the
// subject (typically a credentials id or client id) the error concerns.
func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// WithResource attaches a resource (e.g. a tenant name) to the error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithCode attaches an explicit wire-level error code to the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// CodeOr returns err's Code if set, otherwise the string form of its Kind.
func CodeOr(err error, fallback Kind) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return string(fallback)
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
