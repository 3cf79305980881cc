package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status   string   `json:"status"`
	Variants []string `json:"variants"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	infos := s.engine.Registry().List()
	names := make([]string, 0, len(infos))
	for _, v := range infos {
		names = append(names, v.Name)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Variants: names}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
