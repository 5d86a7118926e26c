package api

import (
	"encoding/json"
	"net/http"

	"github.com/examforge/examforge/internal/genai"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	stats := s.client.StatsSnapshot()
	resp := map[string]any{
		"queue_depth": s.orchestrator.QueueDepth(),
		"models": map[string]string{
			string(genai.VariantText):   s.client.Model(genai.VariantText),
			string(genai.VariantVision): s.client.Model(genai.VariantVision),
		},
		"calls": stats,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
