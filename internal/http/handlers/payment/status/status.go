// Package status возвращает текущее состояние подписки пользователя.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/inovexa/billing-gateway/internal/http/middlewarectx"
	"github.com/inovexa/billing-gateway/internal/http/response"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/models"
)

// Service определяет интерфейс биллингового ядра для чтения статуса.
type Service interface {
	GetSubscriptionStatus(ctx context.Context, userUID string) (*models.Subscription, error)
}

// Handler обрабатывает запросы статуса подписки.
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
// @Summary Статус подписки
// @Description Возвращает состояние подписки и роль текущего пользователя
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Response "Состояние подписки"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /payments/status [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user UID not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.GetSubscriptionStatus(r.Context(), userUID)
	if err != nil {
		log.Error("failed to get subscription status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(sub))
}
