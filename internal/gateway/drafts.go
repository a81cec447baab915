package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/auth"
)

func (s *Server) requireRecovery(w http.ResponseWriter, r *http.Request) bool {
	if s.recovery == nil {
		writeStatusError(w, r, http.StatusServiceUnavailable, "unavailable", "durable storage is not configured")
		return false
	}
	return true
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecovery(w, r) {
		return
	}
	var draft json.RawMessage
	if err := decodeBody(r, "curation.draft", &draft, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.recovery.SaveDraft(r.Context(), auth.OwnerFromContext(r.Context()), draft); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handleLoadDraft(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecovery(w, r) {
		return
	}
	draft, ok, err := s.recovery.LoadDraft(r.Context(), auth.OwnerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeStatusError(w, r, http.StatusNotFound, "draft_not_found", "no curation draft saved")
		return
	}
	render.JSON(w, r, draft)
}

func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecovery(w, r) {
		return
	}
	if err := s.recovery.ClearDraft(r.Context(), auth.OwnerFromContext(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

type storesResponse struct {
	Stores []string `json:"stores"`
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecovery(w, r) {
		return
	}
	stores, err := s.recovery.Stores(r.Context())
	if err != nil {
		s.logger.WarnContext(r.Context(), "store list unavailable", "error", err)
		writeStatusError(w, r, http.StatusBadGateway, "stores_unavailable", "store list is unavailable")
		return
	}
	render.JSON(w, r, storesResponse{Stores: stores})
}
