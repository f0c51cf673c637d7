package metrics

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status    string        `json:"status"`
	LastRound *RoundMetrics `json:"last_round,omitempty"`
}

// Handler serves the current snapshot as JSON.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, c.metrics.Snapshot())
	}
}

// HealthHandler reports 503 when the most recent round had failures. Before
// the first round completes it reports "starting" with 200.
func (c *Collector) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot()

		resp := healthResponse{Status: "ok", LastRound: snap.LastRound}
		status := http.StatusOK

		switch {
		case snap.LastRound == nil:
			resp.Status = "starting"
		case snap.LastRound.Failed > 0:
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}

		WriteJSON(w, status, resp)
	}
}

// WriteJSON encodes v before touching the response so an encoding failure
// still yields a clean 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}
