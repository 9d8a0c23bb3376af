package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/inovexa/billing-gateway/internal/gateway"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/metrics"
	"github.com/inovexa/billing-gateway/internal/models"
	"github.com/inovexa/billing-gateway/internal/storage/repository"
)

// ProcessEvent маршрутизирует проверенное событие шлюза в обработчик
// его типа. payload — сырые байты тела вебхука, они целиком попадают
// в журнал платежей.
//
// Семантика ошибок: ненулевая ошибка означает транзиентный сбой
// (хранилище недоступно) и приводит к 5xx — шлюз повторит доставку.
// Все остальные исходы, включая дубликаты, неизвестные типы событий
// и события с неразрешимыми ссылками, завершаются успешно, чтобы
// не провоцировать бесконечные ретраи.
func (s *Service) ProcessEvent(ctx context.Context, event stripe.Event, payload []byte) error {
	const op = "payment.ProcessEvent"
	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)

	var err error
	switch string(event.Type) {
	case gateway.EventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, log, event, payload)
	case gateway.EventInvoicePaid:
		err = s.handleInvoiceEvent(ctx, log, event, payload, models.StatusActive)
	case gateway.EventInvoiceFailed:
		err = s.handleInvoiceEvent(ctx, log, event, payload, models.StatusPastDue)
	case gateway.EventSubscriptionUpdated:
		err = s.handleSubscriptionUpdated(ctx, log, event, payload)
	case gateway.EventSubscriptionDeleted:
		err = s.handleSubscriptionDeleted(ctx, log, event, payload)
	default:
		// Неизвестный тип: подтверждаем и отбрасываем, чтобы оставаться
		// совместимыми с новыми событиями шлюза.
		log.Info("ignored gateway event")
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), metrics.ResultIgnored).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// handleCheckoutCompleted обрабатывает завершённый checkout: лениво
// создаёт подписку, переводит её в active и выдаёт роль плана.
// Это единственный переход, которому разрешено создавать запись
// подписки и заменять её external_id.
func (s *Service) handleCheckoutCompleted(ctx context.Context, log *slog.Logger, event stripe.Event, payload []byte) error {
	var session gateway.CheckoutSessionObject
	if err := gateway.DecodeObject(event, &session); err != nil {
		return s.recordFailure(ctx, log, event, payload, "malformed checkout session object")
	}

	userUID := session.Metadata[gateway.MetadataUserUID]
	planID := session.Metadata[gateway.MetadataPlanID]
	if userUID == "" || planID == "" {
		return s.recordFailure(ctx, log, event, payload, "checkout session without internal metadata")
	}

	if _, err := s.repo.GetUser(ctx, userUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.recordFailure(ctx, log, event, payload, "checkout session references unknown user")
		}
		return err
	}
	plan, err := s.repo.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.recordFailure(ctx, log, event, payload, "checkout session references unknown plan")
		}
		return err
	}

	// Шлюз пришлёт точный конец периода с первым инвойсом; до тех пор
	// действует приближение в один расчётный месяц.
	periodEnd := time.Now().UTC().AddDate(0, 0, 30)
	status := models.StatusActive

	return s.applyTransition(ctx, log, models.Transition{
		EventID:          event.ID,
		EventType:        string(event.Type),
		RawPayload:       payload,
		Outcome:          models.OutcomeProcessed,
		UserUID:          userUID,
		PlanID:           plan.ID,
		ExternalID:       session.Subscription,
		Status:           status,
		Role:             models.RoleForStatus(status, plan.GrantedRole),
		CurrentPeriodEnd: &periodEnd,
		CreateIfAbsent:   true,
	})
}

// handleInvoiceEvent обрабатывает оплату и неоплату инвойса по
// существующей подписке: invoice.paid подтверждает active и продлевает
// период, invoice.payment_failed переводит в past_due с сохранением
// роли на льготный период.
func (s *Service) handleInvoiceEvent(ctx context.Context, log *slog.Logger, event stripe.Event, payload []byte, status models.SubscriptionStatus) error {
	var invoice gateway.InvoiceObject
	if err := gateway.DecodeObject(event, &invoice); err != nil {
		return s.recordFailure(ctx, log, event, payload, "malformed invoice object")
	}
	if invoice.Subscription == "" {
		return s.recordFailure(ctx, log, event, payload, "invoice without subscription reference")
	}

	sub, plan, err := s.resolveSubscription(ctx, invoice.Subscription)
	if err != nil {
		if errors.Is(err, errUnresolved) {
			return s.recordFailure(ctx, log, event, payload, "invoice references unknown subscription or plan")
		}
		return err
	}

	var periodEnd *time.Time
	if invoice.PeriodEnd > 0 {
		t := time.Unix(invoice.PeriodEnd, 0).UTC()
		periodEnd = &t
	}
	var canceledAt *time.Time
	if status == models.StatusPastDue {
		// Просрочка не отменяет подписку, отметка об отмене остаётся как есть.
		canceledAt = sub.CanceledAt
	}

	return s.applyTransition(ctx, log, models.Transition{
		EventID:          event.ID,
		EventType:        string(event.Type),
		RawPayload:       payload,
		Outcome:          models.OutcomeProcessed,
		UserUID:          sub.UserUID,
		PlanID:           sub.PlanID,
		ExternalID:       sub.ExternalID,
		Status:           status,
		Role:             models.RoleForStatus(status, plan.GrantedRole),
		CurrentPeriodEnd: periodEnd,
		CanceledAt:       canceledAt,
	})
}

// handleSubscriptionUpdated трактует событие как заявление шлюза о
// текущем состоянии подписки, а не как относительное изменение:
// при доставке вне очереди состояние сойдётся, когда шлюз пришлёт
// авторитетное «текущее» событие.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, log *slog.Logger, event stripe.Event, payload []byte) error {
	var obj gateway.SubscriptionObject
	if err := gateway.DecodeObject(event, &obj); err != nil {
		return s.recordFailure(ctx, log, event, payload, "malformed subscription object")
	}

	status, ok := mapGatewayStatus(obj.Status)
	if !ok {
		log.Info("ignored gateway subscription status", slog.String("status", obj.Status))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), metrics.ResultIgnored).Inc()
		return nil
	}

	sub, plan, err := s.resolveSubscription(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, errUnresolved) {
			return s.recordFailure(ctx, log, event, payload, "event references unknown subscription or plan")
		}
		return err
	}

	var periodEnd *time.Time
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}
	var canceledAt *time.Time
	if status == models.StatusCanceled {
		t := time.Now().UTC()
		if obj.CanceledAt > 0 {
			t = time.Unix(obj.CanceledAt, 0).UTC()
		}
		canceledAt = &t
	}

	return s.applyTransition(ctx, log, models.Transition{
		EventID:          event.ID,
		EventType:        string(event.Type),
		RawPayload:       payload,
		Outcome:          models.OutcomeProcessed,
		UserUID:          sub.UserUID,
		PlanID:           sub.PlanID,
		ExternalID:       sub.ExternalID,
		Status:           status,
		Role:             models.RoleForStatus(status, plan.GrantedRole),
		CurrentPeriodEnd: periodEnd,
		CanceledAt:       canceledAt,
	})
}

// handleSubscriptionDeleted переводит подписку в терминальное inactive:
// период закончился или шлюз удалил подписку окончательно.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, log *slog.Logger, event stripe.Event, payload []byte) error {
	var obj gateway.SubscriptionObject
	if err := gateway.DecodeObject(event, &obj); err != nil {
		return s.recordFailure(ctx, log, event, payload, "malformed subscription object")
	}

	sub, plan, err := s.resolveSubscription(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, errUnresolved) {
			return s.recordFailure(ctx, log, event, payload, "event references unknown subscription or plan")
		}
		return err
	}

	status := models.StatusInactive
	return s.applyTransition(ctx, log, models.Transition{
		EventID:    event.ID,
		EventType:  string(event.Type),
		RawPayload: payload,
		Outcome:    models.OutcomeProcessed,
		UserUID:    sub.UserUID,
		PlanID:     sub.PlanID,
		ExternalID: sub.ExternalID,
		Status:     status,
		Role:       models.RoleForStatus(status, plan.GrantedRole),
		CanceledAt: sub.CanceledAt,
	})
}

// errUnresolved сигнализирует о неразрешимой ссылке события:
// подписка или её план не найдены в хранилище.
var errUnresolved = errors.New("event reference unresolved")

// resolveSubscription находит подписку по идентификатору шлюза и план,
// роль которого нужна для вычисления роли нового состояния.
func (s *Service) resolveSubscription(ctx context.Context, externalID string) (*models.Subscription, *models.Plan, error) {
	sub, err := s.repo.GetSubscriptionByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, errUnresolved
		}
		return nil, nil, err
	}
	plan, err := s.repo.FindPlan(ctx, sub.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, errUnresolved
		}
		return nil, nil, err
	}
	return sub, plan, nil
}

// applyTransition применяет переход и выполняет побочные эффекты
// успешного применения: инвалидацию кеша статуса и асинхронную
// публикацию уведомления. Дубликат события — успешный no-op.
func (s *Service) applyTransition(ctx context.Context, log *slog.Logger, t models.Transition) error {
	applied, err := s.repo.ApplyTransition(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			// Гонка со сбросом данных: событие аутентично, но записи нет.
			log.Warn("transition target subscription missing", sl.Err(err))
			metrics.WebhookEventsTotal.WithLabelValues(t.EventType, metrics.ResultFailed).Inc()
			return nil
		}
		return err
	}
	if !applied {
		log.Info("duplicate gateway event, skipped")
		metrics.WebhookEventsTotal.WithLabelValues(t.EventType, metrics.ResultDuplicate).Inc()
		return nil
	}

	if err := s.cache.Invalidate(statusCacheKey(t.UserUID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
	if s.notifier != nil {
		// Уведомление не входит в подтверждение вебхука.
		go func(t models.Transition) {
			if err := s.notifier.Publish("payments.subscription."+string(t.Status), map[string]any{
				"user_uid":   t.UserUID,
				"plan_id":    t.PlanID,
				"status":     t.Status,
				"event_id":   t.EventID,
				"event_type": t.EventType,
			}); err != nil {
				s.log.Warn("failed to publish payment notification", sl.Err(err))
			}
		}(t)
	}

	log.Info("subscription transition applied",
		slog.String("user_uid", t.UserUID),
		slog.String("status", string(t.Status)),
		slog.String("role", string(t.Role)))
	metrics.WebhookEventsTotal.WithLabelValues(t.EventType, metrics.ResultProcessed).Inc()
	return nil
}

// recordFailure фиксирует аутентичное, но неразрешимое событие в
// журнале платежей с исходом failed и подтверждает его шлюзу:
// повторная доставка такого события исправить ничего не может.
func (s *Service) recordFailure(ctx context.Context, log *slog.Logger, event stripe.Event, payload []byte, reason string) error {
	applied, err := s.repo.ApplyTransition(ctx, models.Transition{
		EventID:    event.ID,
		EventType:  string(event.Type),
		RawPayload: payload,
		Outcome:    models.OutcomeFailed,
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Info("duplicate gateway event, skipped")
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), metrics.ResultDuplicate).Inc()
		return nil
	}
	log.Warn("gateway event acknowledged without effect", slog.String("reason", reason))
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), metrics.ResultFailed).Inc()
	return nil
}

// mapGatewayStatus переводит статус подписки шлюза во внутренний.
// Неизвестные и переходные статусы шлюза (incomplete и т.п.)
// игнорируются целиком.
func mapGatewayStatus(status string) (models.SubscriptionStatus, bool) {
	switch status {
	case "active":
		return models.StatusActive, true
	case "trialing":
		return models.StatusTrialing, true
	case "past_due":
		return models.StatusPastDue, true
	case "canceled":
		return models.StatusCanceled, true
	case "unpaid":
		return models.StatusCanceled, true
	default:
		return "", false
	}
}
