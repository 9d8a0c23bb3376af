// Package list возвращает каталог тарифных планов.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/inovexa/billing-gateway/internal/http/response"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/models"
)

// Service определяет интерфейс каталога планов.
type Service interface {
	ListActivePlans(ctx context.Context) ([]*models.Plan, error)
}

// Handler обрабатывает запросы каталога планов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Список тарифных планов
// @Description Возвращает активные тарифные планы каталога
// @Tags Plans
// @Produce json
// @Success 200 {object} response.Response "Список планов"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /plans [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.plan.list"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	plans, err := h.service.ListActivePlans(r.Context())
	if err != nil {
		log.Error("failed to list plans", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to list plans"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"plans": plans,
		"count": len(plans),
	}))
}
