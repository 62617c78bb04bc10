package registry

import (
	"context"
	"time"
)

// HealthOutput is the result of a registration store health check.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds the individual check results.
type HealthChecks struct {
	Store bool `json:"store"`
}

// Health checks the registration store.
func (m *Manager) Health(ctx context.Context) *HealthOutput {
	storeOk := m.store.Ping(ctx) == nil

	status := "healthy"
	if !storeOk {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status:    status,
		Checks:    HealthChecks{Store: storeOk},
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
}
