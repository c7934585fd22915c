package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
)

// Checker serves liveness and readiness probes. db may be nil in mock mode;
// readiness then only requires a loaded model.
type Checker struct {
	db      *database.DB
	manager *modelmanager.Manager
}

// NewChecker builds the probe handler set.
func NewChecker(db *database.DB, manager *modelmanager.Manager) *Checker {
	return &Checker{db: db, manager: manager}
}

// Register mounts /health and /ready on the given mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/ready", c.handleReady)
}

func (c *Checker) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Checker) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if c.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "mock"
	}

	if c.manager.Ready() {
		checks["model"] = c.manager.ActiveVersion()
	} else {
		checks["model"] = "not loaded"
		ready = false
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeStatus(w, status, checks)
}

func writeStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
