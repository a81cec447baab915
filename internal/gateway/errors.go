package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/editmode"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
	"github.com/haasonsaas/roomviz/internal/visualizer"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorClass struct {
	target error
	status int
	code   string
}

var errorClasses = []errorClass{
	{errInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{session.ErrNotFound, http.StatusNotFound, "session_not_found"},
	{session.ErrForbidden, http.StatusForbidden, "forbidden"},
	{session.ErrClosed, http.StatusGone, "session_closed"},
	{session.ErrBusy, http.StatusConflict, "busy"},
	{session.ErrStaleRender, http.StatusConflict, "stale_render"},
	{session.ErrNoRoom, http.StatusConflict, "no_room"},
	{session.ErrNoRenderedImage, http.StatusConflict, "no_rendered_image"},
	{session.ErrNotEditing, http.StatusConflict, "not_editing"},
	{session.ErrNoClarification, http.StatusConflict, "no_clarification"},
	{history.ErrNothingToUndo, http.StatusConflict, "nothing_to_undo"},
	{history.ErrNothingToRedo, http.StatusConflict, "nothing_to_redo"},
	{editmode.ErrPendingMove, http.StatusConflict, "pending_move"},
	{editmode.ErrNoPendingMove, http.StatusConflict, "no_pending_move"},
	{editmode.ErrUnknownLayer, http.StatusNotFound, "unknown_layer"},
	{editmode.ErrInvalidPoint, http.StatusBadRequest, "invalid_point"},
	{editmode.ErrNoLayers, http.StatusUnprocessableEntity, "no_layers"},
	{editmode.ErrNoSegment, http.StatusUnprocessableEntity, "no_segment"},
	{catalog.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{catalog.ErrQuantityLimit, http.StatusUnprocessableEntity, "quantity_limit"},
	{catalog.ErrInvalidProduct, http.StatusBadRequest, "invalid_product"},
	{visualizer.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{visualizer.ErrInvalidAngle, http.StatusBadRequest, "invalid_angle"},
	{visualizer.ErrEmptyInstruction, http.StatusBadRequest, "empty_instruction"},
	{imagedata.ErrTooLarge, http.StatusRequestEntityTooLarge, "image_too_large"},
	{imagedata.ErrEmpty, http.StatusBadRequest, "invalid_image"},
	{imagedata.ErrInvalidImage, http.StatusBadRequest, "invalid_image"},
	{imagedata.ErrUnsupported, http.StatusUnsupportedMediaType, "unsupported_image"},
	{storage.ErrNotFound, http.StatusNotFound, "not_found"},
	{renderer.ErrEmptyImage, http.StatusBadGateway, "renderer_error"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code
		}
	}
	var statusErr *renderer.StatusError
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, "renderer_error"
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "body_too_large"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.metrics.RecordError("gateway", code)
		message = "internal error"
	}
	writeStatusError(w, r, status, code, message)
}

func writeStatusError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Message: message})
}
