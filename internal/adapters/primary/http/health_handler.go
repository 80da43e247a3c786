package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	wsAdapter "github.com/lorrc/incident-sync/internal/adapters/primary/websocket"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	hub       *wsAdapter.Hub
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(hub *wsAdapter.Hub, version string) *HealthHandler {
	return &HealthHandler{
		hub:       hub,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
}

// HandleLiveness handles liveness probe requests (is the service running?)
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// HandleHealth handles detailed health check requests (for monitoring/debugging)
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := struct {
		HealthResponse
		StreamClients int `json:"stream_clients"`
		Goroutines    int `json:"goroutines"`
		Memory        struct {
			Alloc uint64 `json:"alloc_bytes"`
			Sys   uint64 `json:"sys_bytes"`
			NumGC uint32 `json:"num_gc"`
		} `json:"memory"`
	}{
		HealthResponse: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.version,
			Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		},
		StreamClients: h.hub.GetClientCount(),
		Goroutines:    runtime.NumGoroutine(),
	}
	response.Memory.Alloc = memStats.Alloc
	response.Memory.Sys = memStats.Sys
	response.Memory.NumGC = memStats.NumGC

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
