package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a stats sink that prefixes every stat name it records with
// a dot-joined path, so a transport.Client and the challenge
// orchestrator it's embedded in can each own their own namespace
// without coordinating string literals. Registry only needs the three
// methods below — there is no Gauge/SetInt surface here, since this
// client has nothing gauge-shaped to report (no queue depth, no
// connection pool size).
type Scope interface {
	NewScope(scopes ...string) Scope
	Inc(stat string, value int64) error
	Timing(stat string, delta int64) error
}

// promScope is a Scope backed by a Prometheus registry.
type promScope struct {
	prometheus.Registerer
	*autoRegisterer
	prefix string
}

var _ Scope = &promScope{}

// NewPromScope returns a Scope that records against registerer,
// prefixed by scopes joined with '.'.
func NewPromScope(registerer prometheus.Registerer, scopes ...string) Scope {
	return &promScope{
		Registerer:     registerer,
		prefix:         strings.Join(scopes, ".") + ".",
		autoRegisterer: newAutoRegisterer(registerer),
	}
}

// NewScope returns a child Scope rooted at this Scope's prefix plus
// scopes joined by periods.
func (s *promScope) NewScope(scopes ...string) Scope {
	return NewPromScope(s.Registerer, s.prefix+strings.Join(scopes, "."))
}

// Inc increments a counter stat under this Scope's prefix.
func (s *promScope) Inc(stat string, value int64) error {
	s.autoCounter(s.prefix + stat).Add(float64(value))
	return nil
}

// Timing records an observation against a summary stat under this
// Scope's prefix. Callers choose the unit; Registry.ObserveSignedRequest
// passes milliseconds.
func (s *promScope) Timing(stat string, delta int64) error {
	s.autoSummary(s.prefix + stat).Observe(float64(delta))
	return nil
}

type noopScope struct{}

// NewNoopScope returns a Scope that discards everything, for callers
// (tests, a driver run with no registry configured) that don't want
// to thread a real Registry through.
func NewNoopScope() Scope {
	return noopScope{}
}

func (noopScope) NewScope(scopes ...string) Scope { return noopScope{} }
func (noopScope) Inc(stat string, value int64) error { return nil }
func (noopScope) Timing(stat string, delta int64) error { return nil }
