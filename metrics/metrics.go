// Package metrics instruments the ACME client's own outbound
// operations: directory fetches, signed transport calls, challenge
// attempts, issuance outcomes. It exposes a hierarchical, prefixed
// Scope (scope.go) over a pull-based Prometheus registry — this is a
// single short-lived process, not a long-running fleet service, so
// there's no statsd daemon to push to; a registry the driver can
// expose on its own /metrics handler is the only sink that fits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the set of named measurements this client reports: one
// counter/observation method per instrumented component. It is a
// thin, typed façade over a Scope so call sites never construct stat
// names by hand.
type Registry struct {
	scope Scope
}

// NewRegistry builds a Registry backed by a fresh Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{scope: NewPromScope(prometheus.NewRegistry(), "acmeclient")}
}

// NewRegistryWithRegisterer builds a Registry against an
// already-constructed Prometheus Registerer, so the driver can expose
// it on its own /metrics handler alongside other collectors.
func NewRegistryWithRegisterer(reg prometheus.Registerer) *Registry {
	return &Registry{scope: NewPromScope(reg, "acmeclient")}
}

// Scope exposes the Registry's underlying Scope, for components (like
// transport.Client) that just need Inc/Timing rather than the typed
// Registry methods.
func (r *Registry) Scope() Scope {
	if r == nil {
		return NewNoopScope()
	}
	return r.scope
}

// IncDirectoryFetch records one directory-resolution attempt.
func (r *Registry) IncDirectoryFetch(outcome string) {
	r.Scope().NewScope("directory").Inc(outcome, 1)
}

// ObserveSignedRequest records the latency and outcome of one signed
// transport call.
func (r *Registry) ObserveSignedRequest(resource string, outcome string, seconds float64) {
	s := r.Scope().NewScope("signed_request", resource)
	s.Inc(outcome, 1)
	s.Timing("latency", int64(seconds*1000))
}

// ObserveChallenge records one challenge-validation attempt's outcome.
func (r *Registry) ObserveChallenge(challengeType string, outcome string) {
	r.Scope().NewScope("challenge", challengeType).Inc(outcome, 1)
}

// IncCertificate records one lifecycle decision (reuse, renew,
// reissue) reaching a terminal outcome.
func (r *Registry) IncCertificate(decision string, outcome string) {
	r.Scope().NewScope("certificate", decision).Inc(outcome, 1)
}
