package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/auth"
	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/changes"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/session"
)

type sessionContextKey struct{}

// sessionCtx resolves {sessionID} to a session the caller owns.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		owner := auth.OwnerFromContext(r.Context())
		sess, err := s.sessions.GetOwned(id, owner)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sess.Touch()
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		ctx = observability.AddSessionID(ctx, sess.ID())
		if owner != "" {
			ctx = observability.AddUserID(ctx, owner)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionContextKey{}).(*session.Session)
	return sess
}

// captureExpired snapshots the addressed session before an expired token is
// rejected, so the owner can pick up where they left off after signing in
// again.
func (s *Server) captureExpired(r *http.Request, user *auth.User) {
	if s.recovery == nil || user == nil {
		return
	}
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		return
	}
	sess, err := s.sessions.GetOwned(id, user.ID)
	if err != nil {
		return
	}
	if err := s.recovery.Capture(r.Context(), user.ID, sess); err != nil {
		s.logger.WarnContext(r.Context(), "recovery capture on token expiry failed", "session_id", id, "error", err)
	}
}

type createSessionRequest struct {
	Restore *bool `json:"restore"`
}

type createSessionResponse struct {
	Session  session.View `json:"session"`
	Restored bool         `json:"restored"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, "session.create", &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner := auth.OwnerFromContext(r.Context())
	sess := s.sessions.Create(owner)

	restored := false
	if s.recovery != nil && (req.Restore == nil || *req.Restore) {
		ok, err := s.recovery.Restore(r.Context(), owner, sess)
		if err != nil {
			s.logger.WarnContext(r.Context(), "session restore failed", "session_id", sess.ID(), "error", err)
		}
		restored = ok
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createSessionResponse{Session: sess.View(), Restored: restored})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, sessionFrom(r).View())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), sessionFrom(r).ID()); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

type uploadRoomRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleUploadRoom(w http.ResponseWriter, r *http.Request) {
	if s.preparer == nil {
		writeStatusError(w, r, http.StatusServiceUnavailable, "unavailable", "room uploads are not configured")
		return
	}
	var req uploadRoomRequest
	if err := decodeBody(r, "room.upload", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.preparer.Upload(r.Context(), sessionFrom(r), req.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, res)
}

// canvasResponse is returned by every canvas mutation.
type canvasResponse struct {
	Products      []catalog.Product `json:"products"`
	Visualized    map[string]int    `json:"visualized"`
	NeedsRerender bool              `json:"needs_rerender"`
	Pending       changes.Kind      `json:"pending_change"`
	Replaced      *catalog.Product  `json:"replaced,omitempty"`
	Incremented   bool              `json:"incremented,omitempty"`
}

func canvasOf(sess *session.Session) canvasResponse {
	v := sess.View()
	return canvasResponse{
		Products:      v.Products,
		Visualized:    v.Visualized,
		NeedsRerender: v.NeedsRerender,
		Pending:       v.Pending,
	}
}

type addProductRequest struct {
	Product map[string]any `json:"product"`
}

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductRequest
	if err := decodeBody(r, "product.add", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := catalog.Normalize(req.Product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	res, err := sess.AddProduct(product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := canvasOf(sess)
	out.Replaced = res.Replaced
	out.Incremented = res.Incremented
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, out)
}

type updateProductRequest struct {
	Quantity *int   `json:"quantity"`
	Op       string `json:"op"`
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductRequest
	if err := decodeBody(r, "product.update", &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	id := chi.URLParam(r, "productID")
	var err error
	switch {
	case req.Quantity != nil:
		err = sess.SetQuantity(id, *req.Quantity)
	case req.Op == "increment":
		err = sess.IncrementProduct(id)
	default:
		err = sess.DecrementProduct(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, canvasOf(sess))
}

func (s *Server) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.RemoveProduct(chi.URLParam(r, "productID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, canvasOf(sess))
}

func (s *Server) handleClearProducts(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.ClearProducts(); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, canvasOf(sess))
}
