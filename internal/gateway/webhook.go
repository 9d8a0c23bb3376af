package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Типы событий шлюза, которые обрабатывает реконсилятор.
// Всё остальное подтверждается и отбрасывается.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// VerifyEvent проверяет подпись вебхука по сырым байтам тела и
// заголовку Stripe-Signature. Схема подписи — HMAC-SHA256 по строке
// "<timestamp>.<payload>" со сравнением за константное время и
// ограничением окна по времени. Тело запроса разбирается только после
// успешной проверки.
//
// Несовпадение версии API события с версией SDK не считается ошибкой:
// реконсилятор читает только стабильные поля объектов, а подлинность
// события гарантирует подпись, а не версия.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	const op = "gateway.VerifyEvent"
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return event, nil
}

// CheckoutSessionObject — объект события checkout.session.completed.
// Разбираются только стабильные поля, нужные реконсилятору.
type CheckoutSessionObject struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// InvoiceObject — объект событий invoice.paid и invoice.payment_failed.
type InvoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	PeriodEnd    int64  `json:"period_end"`
}

// SubscriptionObject — объект событий customer.subscription.*.
type SubscriptionObject struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CanceledAt        int64  `json:"canceled_at"`
}

// DecodeObject разбирает объект события в переданную структуру.
func DecodeObject(event stripe.Event, dst any) error {
	const op = "gateway.DecodeObject"
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
