package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/maneesh/filelink/internal/registry"
)

// StatusHandler serves the liveness and statistics endpoints
type StatusHandler struct {
	registry    registry.FileRegistry
	serviceName string
	logger      *log.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(reg registry.FileRegistry, serviceName string, logger *log.Logger) *StatusHandler {
	return &StatusHandler{
		registry:    reg,
		serviceName: serviceName,
		logger:      logger.With("component", "status"),
	}
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Status      string  `json:"status"`
	TotalFiles  int     `json:"total_files"`
	TotalSizeMB float64 `json:"total_size_mb"`
	UniqueUsers int     `json:"unique_users"`
}

// Health handles GET /health
func (sh *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Home handles GET / with a human readable summary
func (sh *StatusHandler) Home(w http.ResponseWriter, r *http.Request) {
	st, err := sh.registry.Stats(r.Context())
	if err != nil {
		sh.logger.Error("failed to compute stats", "err", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s is running\n\n", sh.serviceName)
	fmt.Fprintf(w, "Active files: %d\n", st.Files)
	fmt.Fprintf(w, "Total size: %s\n", humanize.Bytes(uint64(st.TotalSizeBytes)))
	fmt.Fprintf(w, "Unique users: %d\n", st.UniqueOwners)
	fmt.Fprintf(w, "Files expire after: %s\n", sh.registry.TTL())
}

// Stats handles GET /api/stats
func (sh *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := sh.registry.Stats(r.Context())
	if err != nil {
		sh.logger.Error("failed to compute stats", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatsResponse{
		Status:      "ok",
		TotalFiles:  st.Files,
		TotalSizeMB: math.Round(st.TotalSizeMB()*100) / 100,
		UniqueUsers: st.UniqueOwners,
	})
}
