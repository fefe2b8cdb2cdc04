package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/feedback"
	"github.com/raaihank/ad-sentinel/internal/websocket"
)

// maxRequestBody bounds analysis request bodies.
const maxRequestBody = 4 * 1024 * 1024

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo reports service metadata and active pattern counts.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	patterns := 0
	version := ""
	if s.snapshot != nil {
		if snap := s.snapshot(); snap != nil {
			patterns = snap.Len()
			version = snap.Version
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "ad-sentinel",
		"audit_enabled":    s.config.Engine.AuditEnabled,
		"active_patterns":  patterns,
		"snapshot_version": version,
		"ws_clients":       s.wsHub.ClientCount(),
	})
}

// handleAnalyze runs the analysis pipeline for one document.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	out, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		s.logger.Error("Analysis failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "analysis failed"})
		return
	}

	if s.store != nil && out.Audit != nil && !out.CacheHit {
		if err := s.store.SaveAuditResult(r.Context(), out); err != nil {
			s.logger.Warn("Failed to persist audit result", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeViolation,
		Timestamp: time.Now(),
		RequestID: requestID(r.Context()),
		Data: websocket.ViolationEvent{
			RequestID:    requestID(r.Context()),
			DocumentID:   out.DocumentID,
			Violations:   out.Violations,
			Grade:        out.Grade,
			CleanScore:   out.CleanScore,
			Degraded:     out.Degraded,
			ProcessingMS: out.ProcessingTimeMS,
		},
	})

	writeJSON(w, http.StatusOK, out)
}

// handleAnalyzeBatch analyzes several documents, isolating failures.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []engine.Request `json:"documents"`
		Workers   int              `json:"workers,omitempty"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documents is required"})
		return
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.config.Engine.Workers
	}

	items := s.engine.AnalyzeBatch(r.Context(), req.Documents, workers)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

// handlePatterns lists the enabled patterns of the current snapshot.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pattern snapshot unavailable"})
		return
	}
	snap := s.snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pattern snapshot unavailable"})
		return
	}

	out := make([]interface{}, 0, snap.Len())
	for _, cp := range snap.Patterns() {
		out = append(out, cp.Pattern)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     snap.Version,
		"patterns":    out,
		"diagnostics": snap.Diagnostics,
	})
}

// handleFalsePositive records reviewer feedback on a finding.
func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "feedback pipeline disabled"})
		return
	}

	var fp feedback.FalsePositiveCase
	if err := decodeBody(w, r, &fp); err != nil {
		return
	}

	suggestion, err := s.feedback.ReportFalsePositive(r.Context(), &fp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp := map[string]interface{}{"case": fp}
	if suggestion != nil {
		resp["suggestion"] = suggestion
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleSuggestionApprove promotes an approved suggestion to an exception
// rule and reloads the engine's exception snapshot.
func (s *Server) handleSuggestionApprove(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil || s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "feedback pipeline disabled"})
		return
	}

	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	rule, err := s.feedback.Approve(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, feedback.ErrIllegalTransition) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	// New exceptions take effect on the next snapshot.
	if exceptions, err := s.store.ActiveExceptions(r.Context()); err == nil {
		if s.snapshot != nil {
			if snap := s.snapshot(); snap != nil {
				s.engine.Reload(snap, exceptions)
			}
		}
	} else {
		s.logger.Warn("Failed to reload exceptions after approval", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"exception": rule})
}

// handleSuggestionReject rejects a pending suggestion.
func (s *Server) handleSuggestionReject(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "feedback pipeline disabled"})
		return
	}

	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err := s.feedback.Reject(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, feedback.ErrIllegalTransition) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// decodeBody decodes a JSON request body, writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return err
	}
	return nil
}
