package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/queue"
)

// NewRouter builds the thin HTTP intake surface: CORS, rate limiting,
// access logging, panic recovery, and bearer auth in front of a single
// submission-producer endpoint. It never starts a listener itself.
func NewRouter(cfg config.WorkerConfig, q *queue.Queue, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestID())
	r.Use(recoverer(logger))
	r.Use(accessLog(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitCSV(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	}))
	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	srv := NewServer(q, cfg.MainQueueName, logger)

	r.Get("/healthz", srv.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.IntakeSharedSecret))
		r.Post("/submissions", srv.CreateSubmission)
	})

	return r
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
