package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
)

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatcher.Visualize(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

type clarificationRequest struct {
	Action renderer.ClarificationAction `json:"action"`
}

func (s *Server) handleClarification(w http.ResponseWriter, r *http.Request) {
	var req clarificationRequest
	if err := decodeBody(r, "clarification", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.ResolveClarification(r.Context(), sessionFrom(r), req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

type angleResponse struct {
	Angle string `json:"angle"`
	Image string `json:"image"`
}

func (s *Server) handleAngle(w http.ResponseWriter, r *http.Request) {
	angle := chi.URLParam(r, "angle")
	img, err := s.dispatcher.GenerateAngle(r.Context(), sessionFrom(r), angle)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, angleResponse{Angle: angle, Image: img})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatcher.ImproveQuality(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

type instructionRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if err := decodeBody(r, "instruction", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.EditWithInstructions(r.Context(), sessionFrom(r), req.Instruction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// historyResponse is the state after an undo or redo.
type historyResponse struct {
	Image    string              `json:"image"`
	Label    string              `json:"label,omitempty"`
	Products []catalog.Product   `json:"products"`
	History  session.HistoryView `json:"history"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.stepHistory(w, r, s.dispatcher.Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.stepHistory(w, r, s.dispatcher.Redo)
}

func (s *Server) stepHistory(w http.ResponseWriter, r *http.Request, step func(*session.Session) (history.Entry, error)) {
	sess := sessionFrom(r)
	entry, err := step(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, historyResponse{
		Image:    entry.Image,
		Label:    entry.Label,
		Products: sess.Products(),
		History:  sess.History(),
	})
}
