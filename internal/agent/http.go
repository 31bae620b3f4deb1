package agent

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replay-guard-agent/internal/agent/version"
)

const SessionsPath = "/v1/sessions/ws"

// Handler returns the agent's HTTP surface.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(SessionsPath, a.ingest)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/version", a.handleVersion)
	return mux
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := a.health.Snapshot()
	body["active_sessions"] = a.manager.Active()
	body["sessions"] = a.manager.Snapshots()
	writeJSON(w, http.StatusOK, body)
}

func (a *Agent) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, version.Get(a.cfg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
