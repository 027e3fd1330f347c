package http

import (
	"net/http"
	"time"

	"github.com/sawpanic/solroute/internal/circuit"
)

// healthResponse reports liveness plus per-dependency detail.
type healthResponse struct {
	Status    string             `json:"status"`
	Version   string             `json:"version,omitempty"`
	UptimeSec int64              `json:"uptimeSeconds"`
	Providers map[string]bool    `json:"providers"`
	Circuits  []circuit.Snapshot `json:"circuits"`
	Database  databaseHealth     `json:"database"`
	Timestamp time.Time          `json:"timestamp"`
}

type databaseHealth struct {
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health handles GET /v1/health. Degraded dependencies report 503 so load
// balancers can rotate the instance out.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	providers := h.engine.ProviderHealth(r.Context())

	dbHealth := databaseHealth{Enabled: false, Healthy: true}
	if h.database != nil && h.database.IsEnabled() {
		dbHealth.Enabled = true
		if err := h.database.Ping(r.Context()); err != nil {
			dbHealth.Healthy = false
			dbHealth.Error = err.Error()
		}
	}

	anyProvider := false
	for _, healthy := range providers {
		if healthy {
			anyProvider = true
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !anyProvider || !dbHealth.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{
		Status:    status,
		Version:   h.version,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Providers: providers,
		Circuits:  h.engine.Breakers().Snapshots(),
		Database:  dbHealth,
		Timestamp: time.Now().UTC(),
	})
}
