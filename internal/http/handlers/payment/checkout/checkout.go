// Package checkout открывает checkout-сессию платёжного шлюза.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/inovexa/billing-gateway/internal/http/middlewarectx"
	"github.com/inovexa/billing-gateway/internal/http/response"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/services/payment"
)

// Request — входные данные для открытия checkout-сессии.
type Request struct {
	PlanID string `json:"plan_id" validate:"required,uuid"`
}

// Service определяет интерфейс биллингового ядра для открытия сессии.
type Service interface {
	CreateCheckoutSession(ctx context.Context, userUID, planID string) (string, error)
}

// Handler обрабатывает запросы на открытие checkout-сессии.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Открыть checkout-сессию
// @Description Создает сессию оплаты у шлюза и возвращает URL для редиректа
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body Request true "Идентификатор плана"
// @Success 200 {object} response.Response "URL страницы оплаты"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "План не найден"
// @Failure 409 {object} response.ErrorResponse "План недоступен для покупки"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Шлюз недоступен"
// @Router /payments/checkout [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user UID not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	url, err := h.service.CreateCheckoutSession(r.Context(), userUID, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPlanNotFound):
			log.Warn("plan not found", slog.String("plan_id", req.PlanID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("plan not found"))
		case errors.Is(err, payment.ErrPlanNotPurchasable):
			log.Warn("plan is not purchasable", slog.String("plan_id", req.PlanID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("plan is not purchasable"))
		case errors.Is(err, payment.ErrUserNotFound):
			log.Error("authenticated user missing in storage", slog.String("user_uid", userUID))
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error("unauthorized"))
		case errors.Is(err, payment.ErrGatewayUnavailable):
			log.Error("payment gateway unavailable", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("payment gateway unavailable"))
		default:
			log.Error("failed to create checkout session", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("internal error"))
		}
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"checkout_url": url,
	}))
}
