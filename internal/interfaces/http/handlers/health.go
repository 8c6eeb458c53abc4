package handlers

import "net/http"

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Version:   h.deps.Version,
	}

	if h.deps.Health != nil {
		hc := h.deps.Health.Health(ctx)
		resp.Archive = &hc
		if !hc.Healthy {
			resp.Status = "unhealthy"
		}
	}

	if h.deps.Breaker != nil {
		resp.Breaker = h.deps.Breaker.BreakerState()
		if resp.Breaker != "closed" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	if h.deps.Runs != nil {
		n, err := h.deps.Runs.Count(ctx)
		if err != nil && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
		resp.RunCount = n
	}

	resp.Stages = h.deps.Telemetry.StageSummaries()

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}
