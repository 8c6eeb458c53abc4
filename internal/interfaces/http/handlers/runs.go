package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/simcore/internal/infra/breakers"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// Runs handles GET /runs?limit=N, newest first
func (h *Handlers) Runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxRunsLimit {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit",
				"limit must be an integer between 1 and "+strconv.Itoa(maxRunsLimit))
			return
		}
		limit = n
	}

	ctx := r.Context()
	runs, err := h.deps.Runs.List(ctx, limit)
	if err != nil {
		h.archiveError(w, r, err)
		return
	}
	total, err := h.deps.Runs.Count(ctx)
	if err != nil {
		h.archiveError(w, r, err)
		return
	}

	resp := RunsResponse{
		Runs:      make([]RunSummary, 0, len(runs)),
		Limit:     limit,
		Total:     total,
		Generated: h.now().UTC(),
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, summaryOf(run))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Run handles GET /runs/{id}, including the trade log
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	run, err := h.deps.Runs.Get(ctx, id)
	if err != nil {
		h.archiveError(w, r, err)
		return
	}
	if run == nil {
		h.writeError(w, r, http.StatusNotFound, "run_not_found", "no run with id "+id)
		return
	}

	trades, err := h.deps.Runs.Trades(ctx, id)
	if err != nil {
		h.archiveError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RunDetail{
		RunSummary:  summaryOf(*run),
		Fingerprint: run.Fingerprint,
		Config:      run.Config,
		Metrics:     run.Metrics,
		Trades:      trades,
	})
}

func (h *Handlers) archiveError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, breakers.ErrOpen) {
		h.writeError(w, r, http.StatusServiceUnavailable, "archive_unavailable", "run archive is temporarily unavailable")
		return
	}
	log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Archive query failed")
	h.writeError(w, r, http.StatusInternalServerError, "archive_error", "run archive query failed")
}
