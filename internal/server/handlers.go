package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zakatools/cri-tracker/internal/modules/valuation"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleRoot identifies the service.
// GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "cri-tracker",
		"status":  "running",
	})
}

// handleHealth is the liveness probe.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleValuation runs a portfolio analysis.
// POST /valuation
func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	var req valuation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if msg := validateRequest(&req); msg != "" {
		s.writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	resp, err := s.valuation.AnalyzePortfolio(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing useful to write.
			s.log.Debug().Msg("Valuation request cancelled")
			return
		}
		s.log.Error().Err(err).Msg("Valuation failed")
		s.writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// validateRequest checks the request shape. Returns "" when valid.
func validateRequest(req *valuation.Request) string {
	if req.AsOfDate.IsZero() {
		return "as_of_date is required (YYYY-MM-DD)"
	}
	if len(req.Portfolio) == 0 && len(req.Funds) == 0 {
		return "at least one portfolio company or fund is required"
	}
	for _, c := range req.Portfolio {
		if strings.TrimSpace(c.Ticker) == "" {
			return "portfolio entries require a ticker"
		}
		if c.Shares != nil && *c.Shares <= 0 {
			return "shares must be positive when provided"
		}
		if c.Amount != nil && *c.Amount <= 0 {
			return "amount must be positive when provided"
		}
	}
	for _, f := range req.Funds {
		if strings.TrimSpace(f.Ticker) == "" {
			return "fund entries require a ticker"
		}
		if f.Amount != nil && *f.Amount <= 0 {
			return "amount must be positive when provided"
		}
	}
	return ""
}

// handleClearCache drops every memoization and persistent cache layer.
// POST /maintenance/clear-cache
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.valuation.ClearCaches(); err != nil {
		s.log.Error().Err(err).Msg("Cache clear failed")
		s.writeError(w, http.StatusInternalServerError, "failed to clear caches")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "caches cleared"})
}

// handleSystemStatus reports process resource usage.
// GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	ramUsed := 0.0
	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		ramUsed = memStat.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramUsed,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}
