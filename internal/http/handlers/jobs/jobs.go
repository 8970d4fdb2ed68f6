// Package jobs реализует просмотр состояния задач раннера и их ручной запуск.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/maximaxme/subboy/internal/http/response"
	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/runner"
)

// Runner описывает методы раннера, нужные обработчикам.
type Runner interface {
	Jobs() []runner.JobStatus
	RunNow(ctx context.Context, name string) (string, error)
}

// ListHandler отдаёт состояние всех задач.
type ListHandler struct {
	log    *slog.Logger
	runner Runner
}

// NewList создаёт обработчик GET /jobs.
func NewList(log *slog.Logger, r Runner) *ListHandler {
	return &ListHandler{log: log, runner: r}
}

func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobs := h.runner.Jobs()
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count": len(jobs),
		"jobs":  jobs,
	}))
}

// RunHandler запускает задачу вне расписания.
type RunHandler struct {
	log    *slog.Logger
	runner Runner
}

// NewRun создаёт обработчик POST /jobs/{name}/run.
func NewRun(log *slog.Logger, r Runner) *RunHandler {
	return &RunHandler{log: log, runner: r}
}

func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.run"

	name := chi.URLParam(r, "name")
	log := h.log.With(
		slog.String("op", op),
		slog.String("job", name),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	// задача выполняется в контексте раннера, а не запроса
	runID, err := h.runner.RunNow(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, runner.ErrUnknownJob):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown job"))
		return
	case errors.Is(err, runner.ErrAlreadyRunning):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("job is already running"))
		return
	case errors.Is(err, runner.ErrStopped):
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("runner is stopped"))
		return
	case err != nil:
		log.Error("failed to run job", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to run job"))
		return
	}

	log.Info("job triggered manually", slog.String("run_id", runID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"job":    name,
		"run_id": runID,
	}))
}
