package handlers

import (
	"time"

	"github.com/sawpanic/simcore/internal/backtest/metrics"
	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/persistence"
	"github.com/sawpanic/simcore/internal/telemetry/latency"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string                   `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Archive   *persistence.HealthCheck `json:"archive,omitempty"`
	Breaker   string                   `json:"breaker,omitempty"`
	RunCount  int64                    `json:"run_count"`
	Stages    []latency.Summary        `json:"stages,omitempty"`
}

// RunSummary is one entry of GET /runs
type RunSummary struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Symbols     []string  `json:"symbols"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	FinalEquity float64   `json:"final_equity"`
	TradeCount  int       `json:"trade_count"`
	Rejections  int       `json:"rejections"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunsResponse is returned by GET /runs
type RunsResponse struct {
	Runs      []RunSummary `json:"runs"`
	Limit     int          `json:"limit"`
	Total     int64        `json:"total"`
	Generated time.Time    `json:"generated"`
}

// RunDetail is returned by GET /runs/{id}
type RunDetail struct {
	RunSummary
	Fingerprint string          `json:"fingerprint"`
	Config      sim.Config      `json:"config"`
	Metrics     metrics.Metrics `json:"metrics"`
	Trades      []sim.Trade     `json:"trades"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func summaryOf(r persistence.RunRecord) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Label:       r.Label,
		Symbols:     r.Symbols,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		FinalEquity: r.FinalEquity,
		TradeCount:  r.TradeCount,
		Rejections:  r.Rejections,
		CreatedAt:   r.CreatedAt,
	}
}
