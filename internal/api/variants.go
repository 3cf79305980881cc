package api

import (
	"net/http"

	"github.com/seantiz/kernelforge/internal/engine"
)

type listVariantsResponse struct {
	Variants []engine.VariantInfo `json:"variants"`
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listVariantsResponse{
		Variants: s.engine.Registry().List(),
	})
}
