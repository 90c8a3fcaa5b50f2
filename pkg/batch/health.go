package batch

import (
	"context"
	"net/http"
)

// HealthStatus is the aggregate result of a health check.
type HealthStatus string

const (
	// HealthHealthy means every checked endpoint answered 200.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means at least one endpoint did not.
	HealthDegraded HealthStatus = "degraded"
)

// HealthReport maps each checked endpoint to its reachability.
type HealthReport struct {
	Status    HealthStatus    `json:"status"`
	Endpoints map[string]bool `json:"endpoints"`
}

// CheckHealth requests every endpoint with a GET in one batch. An endpoint is
// reachable iff it answered 200. An empty endpoint list is healthy.
func (d *Dispatcher) CheckHealth(ctx context.Context, endpoints []string) HealthReport {
	requests := make([]Request, len(endpoints))
	for i, endpoint := range endpoints {
		requests[i] = Request{
			ID:       endpoint,
			Method:   MethodGet,
			Endpoint: endpoint,
		}
	}

	responses := d.DispatchBatch(ctx, requests)

	report := HealthReport{
		Status:    HealthHealthy,
		Endpoints: make(map[string]bool, len(endpoints)),
	}
	for i, resp := range responses {
		endpoint := endpoints[i]
		up := resp.Status == http.StatusOK

		// Listed twice: reachable only if every request succeeded.
		if prev, seen := report.Endpoints[endpoint]; seen {
			up = up && prev
		}
		report.Endpoints[endpoint] = up

		if !up {
			report.Status = HealthDegraded
		}
	}

	// Endpoints come from callers, so they never become label values.
	unreachable := 0
	for _, up := range report.Endpoints {
		if !up {
			unreachable++
		}
	}
	dispatchHealthChecksTotal.WithLabelValues(string(report.Status)).Inc()
	dispatchHealthUnreachableTotal.Add(float64(unreachable))

	d.logger.Info().
		Str("status", string(report.Status)).
		Int("endpoints", len(endpoints)).
		Int("unreachable", unreachable).
		Msg("Health check complete")

	return report
}
