// Package events defines the port for the security/rate event sink.
package events

import "time"

// Kind classifies a security event.
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindBlacklisted     Kind = "blacklisted"
	KindLoginLockout    Kind = "login_lockout"
	KindTrafficFailOpen Kind = "traffic_fail_open"
)

// Event is a single security or rate occurrence worth surfacing to the
// observability pipeline.
type Event struct {
	Kind      Kind      `json:"kind"`
	Namespace string    `json:"namespace,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink accepts events without blocking the request path. Implementations
// must drop rather than stall when the pipeline is saturated.
type Sink interface {
	Report(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Report calls f(ev).
func (f SinkFunc) Report(ev Event) { f(ev) }
