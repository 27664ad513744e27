// ABOUTME: HTTP routing and middleware for the gateway
// ABOUTME: Uses chi with request ids, panic recovery, CORS and slog request logging

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// setupMiddleware configures middleware for the router.
func (g *Gateway) setupMiddleware() {
	r := g.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", conversationHeader},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes.
func (g *Gateway) setupRoutes() {
	r := g.router

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/stream", g.handleStream(false))
		r.Post("/stream-with-files", g.handleStream(true))
		r.Post("/upload", g.handleUpload)

		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/history", g.handleHistory)
			r.Get("/events", g.handleEvents)
		})
	})

	r.Post("/sheets/create", g.handleCreateSheet)
}

// requestLogger logs one line per request with its status and duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("http request", args...)
				return
			}
			logger.Debug("http request", args...)
		})
	}
}
