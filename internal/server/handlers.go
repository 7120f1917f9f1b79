package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunIngest(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ingest.Run(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual ingest run failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reconcile.Run(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual reconcile run failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sweep.Run(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual sweep run failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	token, err := s.tokens.Get(r.Context(), address)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	status := domain.TokenStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.StatusActive
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown status"))
		return
	}

	tokens, err := s.tokens.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"count":  len(tokens),
		"tokens": tokens,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depth, err := s.queue.Depth(ctx, s.queueName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dlqDepth, err := s.queue.Depth(ctx, domain.DeadLetterQueue(s.queueName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":             s.queueName,
		"depth":             depth,
		"dead_letter_depth": dlqDepth,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
