// Package health отвечает на проверки готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/inovexa/billing-gateway/internal/http/response"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
)

// Pinger проверяет доступность хранилища.
type Pinger interface {
	CheckDatabaseReady(ctx context.Context) error
}

// Handler обрабатывает запросы проверки готовности.
type Handler struct {
	log    *slog.Logger
	pinger Pinger
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, pinger Pinger) *Handler {
	return &Handler{
		log:    log,
		pinger: pinger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	if err := h.pinger.CheckDatabaseReady(r.Context()); err != nil {
		h.log.Error("database is not ready", slog.String("op", op), sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("database is not ready"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"status": "ok",
	}))
}
