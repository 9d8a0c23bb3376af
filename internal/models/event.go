package models

import "time"

// EventOutcome — итог обработки события платёжного шлюза,
// фиксируемый в журнале платежей.
type EventOutcome string

const (
	// OutcomeProcessed — событие применено к подписке.
	OutcomeProcessed EventOutcome = "processed"
	// OutcomeFailed — событие аутентично, но ссылается на неизвестного
	// пользователя или план; подтверждено шлюзу без изменения состояния.
	OutcomeFailed EventOutcome = "failed"
)

// PaymentEvent — запись append-only журнала платежей. Уникальный
// EventID одновременно служит ключом идемпотентности: повторная
// доставка того же события шлюзом не создаёт вторую запись.
type PaymentEvent struct {
	ID         int64        // Внутренний идентификатор записи
	EventID    string       // Идентификатор события, присвоенный шлюзом (уникален)
	EventType  string       // Тип события, например checkout.session.completed
	RawPayload []byte       // Исходное тело события для разбора инцидентов
	Outcome    EventOutcome // Итог обработки
	CreatedAt  time.Time    // Момент фиксации
}

// Transition описывает один атомарный переход подписки: запись в журнал
// платежей, новое состояние подписки и роль пользователя записываются
// в одной транзакции. Если Outcome != OutcomeProcessed, состояние
// подписки не меняется — фиксируется только запись журнала.
type Transition struct {
	EventID    string       // Ключ идемпотентности
	EventType  string       // Тип события шлюза
	RawPayload []byte       // Исходное тело события
	Outcome    EventOutcome // processed или failed

	UserUID          string             // Владелец подписки
	PlanID           string             // План, к которому относится переход
	ExternalID       string             // Идентификатор подписки в Stripe
	Status           SubscriptionStatus // Новое состояние
	Role             Role               // Роль, соответствующая новому состоянию
	CurrentPeriodEnd *time.Time         // Конец оплаченного периода, если известен
	CanceledAt       *time.Time         // Момент отмены для перехода в canceled

	// CreateIfAbsent разрешает создать запись подписки, если её ещё нет.
	// Устанавливается только для события завершённого checkout.
	CreateIfAbsent bool
}
