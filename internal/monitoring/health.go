package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports liveness for the /health endpoint. Collaborators
// push state into it; the handler grades it on read.
type HealthChecker struct {
	mu          sync.RWMutex
	lastSignal  time.Time
	lastOrder   time.Time
	isConnected bool
	errors      []string
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastSignal  time.Time `json:"last_signal"`
	LastOrder   time.Time `json:"last_order"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetConnected records gateway connectivity.
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// RecordSignalTime marks the arrival of an inbound signal.
func (h *HealthChecker) RecordSignalTime() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSignal = time.Now()
}

// RecordOrderTime marks a confirmed order.
func (h *HealthChecker) RecordOrderTime() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOrder = time.Now()
}

// AddError appends a sticky error surfaced on /health until cleared.
func (h *HealthChecker) AddError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

// ClearErrors drops accumulated errors after recovery.
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastSignal:  h.lastSignal,
		LastOrder:   h.lastOrder,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
