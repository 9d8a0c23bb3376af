// Package webhook принимает события платёжного шлюза.
//
// Контракт с шлюзом: 400 — подпись не прошла проверку, событие будет
// отброшено; 5xx — транзиентный сбой, шлюз повторит доставку; 200 —
// событие принято, в том числе дубликаты и события без эффекта.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/inovexa/billing-gateway/internal/gateway"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/metrics"
)

// maxBodyBytes ограничивает размер тела вебхука.
const maxBodyBytes = int64(1 << 16)

// Service определяет интерфейс реконсилятора платёжных событий.
type Service interface {
	ProcessEvent(ctx context.Context, event stripe.Event, payload []byte) error
}

// Handler обрабатывает вебхуки платёжного шлюза.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, webhookSecret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: webhookSecret,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Принимает подписанные события шлюза и применяет их к подпискам
// @Tags Payments
// @Accept json
// @Success 200 "Событие принято"
// @Failure 400 "Невалидная подпись или тело"
// @Failure 500 "Транзиентный сбой, шлюз повторит доставку"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(slog.String("op", op))

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	event, err := gateway.VerifyEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		log.Error("webhook signature verification failed", sl.Err(err))
		metrics.WebhookEventsTotal.WithLabelValues("unknown", metrics.ResultRejected).Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.ProcessEvent(r.Context(), event, payload); err != nil {
		log.Error("failed to process gateway event", sl.Err(err),
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
