package nodeapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/xerohost/xerohost-agent/internal/firewall"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

// StatusProvider abstracts the reconciliation loop for status queries.
type StatusProvider interface {
	Status() reconcile.Status
}

// Handler provides HTTP handlers for the local status API.
type Handler struct {
	status StatusProvider
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(status StatusProvider, logger *slog.Logger) *Handler {
	return &Handler{
		status: status,
		logger: logger.With("component", "nodeapi"),
	}
}

// Mux returns a configured ServeMux with all local status API routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleGetStatus)
	mux.HandleFunc("GET /v1/sets", h.handleGetSets)
	mux.HandleFunc("GET /v1/sets/{name}", h.handleGetSet)
	return mux
}

// SetSummary is one entry of the GET /v1/sets response.
type SetSummary struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Scope       string `json:"scope"`
	Desired     int    `json:"desired"`
	Added       int    `json:"added"`
	Removed     int    `json:"removed"`
	Failed      int    `json:"failed"`
	QueryFailed bool   `json:"query_failed,omitempty"`
	EnsureError string `json:"ensure_error,omitempty"`
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handler) handleGetSets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, setSummaries(h.status.Status()))
}

func (h *Handler) handleGetSet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := firewall.SetByName(name); !ok {
		writeError(w, http.StatusNotFound, "unknown set")
		return
	}
	for _, s := range setSummaries(h.status.Status()) {
		if s.Name == name {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown set")
}

// setSummaries lists every managed set in canonical order. Counts come from
// the last pass that reached the kernel, so a failed fetch leaves them as
// they were. They are zero before the first such pass.
func setSummaries(st reconcile.Status) []SetSummary {
	var reports map[string]reconcile.SetReport
	if st.LastApplied != nil {
		reports = make(map[string]reconcile.SetReport, len(st.LastApplied.Sets))
		for _, r := range st.LastApplied.Sets {
			reports[r.Set] = r
		}
	}

	sets := firewall.AllSets()
	out := make([]SetSummary, 0, len(sets))
	for _, set := range sets {
		s := SetSummary{
			Name:   set.Name(),
			Family: set.Family.String(),
			Scope:  string(set.Scope),
		}
		if r, ok := reports[s.Name]; ok {
			s.Desired = r.Desired
			s.Added = r.Added
			s.Removed = r.Removed
			s.Failed = r.AddFailed + r.DelFailed
			s.QueryFailed = r.QueryFailed
			s.EnsureError = r.EnsureError
		}
		out = append(out, s)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
