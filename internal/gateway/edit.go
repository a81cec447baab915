package gateway

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/renderer"
)

// requireEditor rejects edit requests when no editor is wired.
func (s *Server) requireEditor(w http.ResponseWriter, r *http.Request) bool {
	if s.editor == nil {
		writeStatusError(w, r, http.StatusServiceUnavailable, "unavailable", "edit mode is not configured")
		return false
	}
	return true
}

func (s *Server) handleEditEnter(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	state, err := s.editor.Enter(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

type dragRequest struct {
	LayerID string  `json:"layer_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func (s *Server) handleEditDrag(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	var req dragRequest
	if err := decodeBody(r, "edit.drag", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	layer, err := s.editor.Drag(sessionFrom(r), req.LayerID, req.X, req.Y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, layer)
}

type segmentRequest struct {
	X      *float64         `json:"x"`
	Y      *float64         `json:"y"`
	Points []renderer.Point `json:"points"`
}

func (s *Server) handleEditSegment(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	var req segmentRequest
	if err := decodeBody(r, "edit.segment", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	var err error
	var result any
	if len(req.Points) > 0 {
		result, err = s.editor.SegmentAtPoints(r.Context(), sess, req.Points)
	} else {
		result, err = s.editor.SegmentAt(r.Context(), sess, *req.X, *req.Y)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

func (s *Server) handleEditFinalize(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	res, err := s.editor.Finalize(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) handleEditApply(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	res, err := s.editor.ApplyLayout(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) handleEditInstruction(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	var req instructionRequest
	if err := decodeBody(r, "instruction", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.editor.ApplyInstruction(r.Context(), sessionFrom(r), req.Instruction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) handleEditExit(w http.ResponseWriter, r *http.Request) {
	if !s.requireEditor(w, r) {
		return
	}
	report, err := s.editor.Exit(sessionFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}
