// Package httpserver exposes a memory.Facade over the HTTP memory-service
// protocol (spec §6): POST /v1/qa/{search,hit,candidates,validate,grade}.
// It is the server side of internal/memory.Remote's client — the wire
// shapes here are copied from remote.go's request/response structs so the
// two halves are guaranteed to agree.
package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haricheung/memexcli/internal/memory"
	"github.com/haricheung/memexcli/internal/types"
)

// Server adapts a memory.Facade to net/http, for `memexcli http-server`
// running as the backing store other memexcli instances point `memory.provider
// = service` at.
type Server struct {
	Facade    memory.Facade
	AuthToken string // if non-empty, requests must carry "Authorization: Bearer <token>"
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/qa/search", s.authorize(s.handleSearch))
	mux.HandleFunc("/v1/qa/hit", s.authorize(s.handleHit))
	mux.HandleFunc("/v1/qa/candidates", s.authorize(s.handleCandidate))
	mux.HandleFunc("/v1/qa/validate", s.authorize(s.handleValidate))
	mux.HandleFunc("/v1/qa/grade", s.authorize(s.handleGrade))
	mux.HandleFunc("/v1/qa/health", s.handleHealth)
	return mux
}

func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken != "" {
			got := r.Header.Get("Authorization")
			if got != "Bearer "+s.AuthToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	ProjectID string  `json:"project_id"`
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	MinScore  float64 `json:"min_score"`
}

type searchResponse struct {
	Results []types.QARecord `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := s.Facade.Search(r.Context(), memory.SearchPayload{
		ProjectID: req.ProjectID, Query: req.Query, Limit: req.Limit, MinScore: req.MinScore,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type hitRequest struct {
	ProjectID string         `json:"project_id"`
	Refs      []types.HitRef `json:"refs"`
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	var req hitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Facade.RecordHit(r.Context(), req.ProjectID, req.Refs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type validateRequest struct {
	ProjectID string                   `json:"project_id"`
	QAID      string                   `json:"qa_id"`
	Result    memory.ValidationOutcome `json:"result"`
	Notes     string                   `json:"notes,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Facade.RecordValidation(r.Context(), req.ProjectID, req.QAID, req.Result, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	var draft types.CandidateDraft
	if !decodeJSON(w, r, &draft) {
		return
	}
	if err := s.Facade.RecordCandidate(r.Context(), draft); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type gradeRequest struct {
	Prompt string `json:"prompt"`
}

type gradeResponse struct {
	Level string `json:"level"`
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grade, err := s.Facade.TaskGrade(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{Level: grade.Level})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		http.Error(w, "missing request body", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpserver: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	slog.Warn("httpserver: facade call failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
