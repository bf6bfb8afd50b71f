// Package otel provides OpenTelemetry metric instruments for the traffic
// and login-guard engines. Exporter wiring is a deployment concern; the
// instruments publish through the globally registered meter provider.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "nimbus"

// Metrics holds all nimbus metric instruments.
type Metrics struct {
	RequestsAllowed     metric.Int64Counter
	RequestsRateLimited metric.Int64Counter
	RequestsBlacklisted metric.Int64Counter
	TrafficFailOpen     metric.Int64Counter
	LoginLockouts       metric.Int64Counter
	TenantResolutions   metric.Int64Counter
	ResolutionMisses    metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsAllowed, err = meter.Int64Counter("nimbus.traffic.allowed",
		metric.WithDescription("Requests admitted by the token bucket"))
	if err != nil {
		return nil, err
	}

	m.RequestsRateLimited, err = meter.Int64Counter("nimbus.traffic.rate_limited",
		metric.WithDescription("Requests rejected with 429"))
	if err != nil {
		return nil, err
	}

	m.RequestsBlacklisted, err = meter.Int64Counter("nimbus.traffic.blacklisted",
		metric.WithDescription("Requests rejected by the blacklist"))
	if err != nil {
		return nil, err
	}

	m.TrafficFailOpen, err = meter.Int64Counter("nimbus.traffic.fail_open",
		metric.WithDescription("Requests allowed because the store was unreachable"))
	if err != nil {
		return nil, err
	}

	m.LoginLockouts, err = meter.Int64Counter("nimbus.login.lockouts",
		metric.WithDescription("Login attempts rejected by the lockout guard"))
	if err != nil {
		return nil, err
	}

	m.TenantResolutions, err = meter.Int64Counter("nimbus.tenant.resolutions",
		metric.WithDescription("Successful tenant resolutions"))
	if err != nil {
		return nil, err
	}

	m.ResolutionMisses, err = meter.Int64Counter("nimbus.tenant.resolution_misses",
		metric.WithDescription("Requests that failed to resolve a tenant"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
