package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/prefork/internal/cpus"
)

// Status is the body of GET /workers
type Status struct {
	RunID   string       `json:"run_id"`
	PID     int          `json:"pid"`
	Desired int          `json:"desired"`
	Alive   int          `json:"alive"`
	Host    cpus.Info    `json:"host"`
	Workers []WorkerInfo `json:"workers"`
}

// AdminHandler serves the supervisor's introspection endpoints
type AdminHandler struct {
	sup      *Supervisor
	gatherer prometheus.Gatherer
	probe    func(ctx context.Context) cpus.Info
}

// NewAdminHandler creates the admin handler. gatherer backs /metrics;
// nil uses the default registry.
func NewAdminHandler(sup *Supervisor, gatherer prometheus.Gatherer) *AdminHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &AdminHandler{sup: sup, gatherer: gatherer, probe: cpus.Probe}
}

// RegisterRoutes registers the admin routes on r
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/workers", h.ListWorkers).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
}

// Router returns a router with the admin routes registered
func (h *AdminHandler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// ListWorkers returns the supervisor status and every worker slot
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.sup.Workers()
	alive := 0
	for _, wi := range workers {
		if wi.Alive {
			alive++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Status{
		RunID:   h.sup.RunID(),
		PID:     os.Getpid(),
		Desired: h.sup.Size(),
		Alive:   alive,
		Host:    h.probe(r.Context()),
		Workers: workers,
	})
}

// Health reports whether any worker is alive
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.sup.idle() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "no workers"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
