package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/examforge/examforge/internal/generator"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.gen.Generate(r.Context(), req)
	if err != nil {
		// Validation errors come back before any model call.
		if req.Count < 1 || req.Topic == "" {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, r.Context().Err()) {
			jsonError(w, "generation cancelled", 499)
			return
		}
		s.log.Error("generation failed", "topic", req.Topic, "error", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
