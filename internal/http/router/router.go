// Package router собирает служебный HTTP-сервер: проверку здоровья,
// управление задачами и метрики.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maximaxme/subboy/internal/http/handlers/health"
	"github.com/maximaxme/subboy/internal/http/handlers/jobs"
)

// Deps зависимости маршрутов. Runner может быть nil у процессов без раннера.
type Deps struct {
	Checks   map[string]health.Pinger
	Runner   jobs.Runner
	Gatherer prometheus.Gatherer
}

// NewRouter регистрирует все маршруты служебного сервера.
func NewRouter(log *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/healthz", health.New(log, deps.Checks).ServeHTTP)

	if deps.Runner != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobs.NewList(log, deps.Runner).ServeHTTP)
			r.Post("/{name}/run", jobs.NewRun(log, deps.Runner).ServeHTTP)
		})
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
