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

// Package metrics exposes the authorization server's Prometheus instruments:
// session/token lifecycle counters and the background sweepers' activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge the server emits, registered against
// a private prometheus.Registry so a test process can spin up as many
// independent Registries as it needs.
type Registry struct {
	registry *prometheus.Registry

	AuthorizeTotal   *prometheus.CounterVec
	TokenIssuedTotal *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SweepRemoved     *prometheus.CounterVec
	SweepErrors      *prometheus.CounterVec
}

// NewRegistry builds a Registry with every instrument registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		AuthorizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seacatauth",
			Subsystem: "oidc",
			Name:      "authorize_requests_total",
			Help:      "Authorize endpoint requests, by outcome.",
		}, []string{"outcome"}),

		TokenIssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seacatauth",
			Subsystem: "oidc",
			Name:      "tokens_issued_total",
			Help:      "Access/refresh/id tokens issued, by grant_type.",
		}, []string{"grant_type"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "seacatauth",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently live in the session store.",
		}),

		SweepRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seacatauth",
			Subsystem: "sweep",
			Name:      "removed_total",
			Help:      "Expired records removed by a background sweeper.",
		}, []string{"sweeper"}),

		SweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seacatauth",
			Subsystem: "sweep",
			Name:      "errors_total",
			Help:      "Failed sweep passes, by sweeper.",
		}, []string{"sweeper"}),
	}
}

// Handler returns the /metrics HTTP handler for this Registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveSweep implements pkg/sweep.Recorder: it routes a sweeper's outcome
// to SweepRemoved/SweepErrors.
func (r *Registry) ObserveSweep(name string, removed int, err error) {
	if err != nil {
		r.SweepErrors.WithLabelValues(name).Inc()
		return
	}
	r.SweepRemoved.WithLabelValues(name).Add(float64(removed))
}

// ObserveAuthorize records one Authorize endpoint outcome ("success" or an
// OAuth error code).
func (r *Registry) ObserveAuthorize(outcome string) {
	r.AuthorizeTotal.WithLabelValues(outcome).Inc()
}

// ObserveTokenIssued records one token-endpoint grant completion.
func (r *Registry) ObserveTokenIssued(grantType string) {
	r.TokenIssuedTotal.WithLabelValues(grantType).Inc()
}

// SetSessionsActive sets the live-session gauge to n.
func (r *Registry) SetSessionsActive(n int) {
	r.SessionsActive.Set(float64(n))
}
