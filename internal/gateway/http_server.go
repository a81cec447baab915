package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/haasonsaas/roomviz/internal/auth"
	"github.com/haasonsaas/roomviz/internal/observability"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metricsH)

	plainAuth := auth.Middleware(s.auth, s.logger, nil)
	sessionAuth := auth.Middleware(s.auth, s.logger, s.captureExpired)

	r.Group(func(r chi.Router) {
		r.Use(plainAuth)
		r.Use(middleware.RequestSize(s.config.MaxBodyBytes))
		r.Post("/api/sessions", s.handleCreateSession)
		r.Get("/api/stores", s.handleStores)
		r.Route("/api/drafts/curation", func(r chi.Router) {
			r.Get("/", s.handleLoadDraft)
			r.Put("/", s.handleSaveDraft)
			r.Delete("/", s.handleClearDraft)
		})
	})

	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Use(sessionAuth)
		r.Use(middleware.RequestSize(s.config.MaxBodyBytes))
		r.Use(s.sessionCtx)

		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleCloseSession)
		r.Post("/room", s.handleUploadRoom)

		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.handleAddProduct)
			r.Delete("/", s.handleClearProducts)
			r.Patch("/{productID}", s.handleUpdateProduct)
			r.Delete("/{productID}", s.handleRemoveProduct)
		})

		r.Post("/visualize", s.handleVisualize)
		r.Post("/clarification", s.handleClarification)
		r.Post("/angles/{angle}", s.handleAngle)
		r.Post("/quality", s.handleQuality)
		r.Post("/instructions", s.handleInstructions)
		r.Post("/undo", s.handleUndo)
		r.Post("/redo", s.handleRedo)

		r.Route("/edit", func(r chi.Router) {
			r.Post("/enter", s.handleEditEnter)
			r.Post("/drag", s.handleEditDrag)
			r.Post("/segment", s.handleEditSegment)
			r.Post("/finalize", s.handleEditFinalize)
			r.Post("/apply", s.handleEditApply)
			r.Post("/instruction", s.handleEditInstruction)
			r.Post("/exit", s.handleEditExit)
		})
	})

	r.With(sessionAuth, s.sessionCtx).Get("/ws/sessions/{sessionID}", s.handleStream)
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: len(s.config.AllowedOrigins) > 0,
		MaxAge:           300,
	}
}

// observe tags the request context for logging and records request metrics
// against the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.AddRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		w.Header().Set("X-Request-Id", middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(status), elapsed.Seconds())
		level := s.logger.Debug
		if status >= http.StatusInternalServerError {
			level = s.logger.Warn
		}
		level("http request", "method", r.Method, "route", pattern, "status", status,
			"duration_ms", elapsed.Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Len(),
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	})
}
