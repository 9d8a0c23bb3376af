package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/inovexa/billing-gateway/internal/models"
)

// ErrSubscriptionNotFound возвращается, когда переход адресован
// несуществующей записи подписки.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// GetSubscriptionByUserUID возвращает подписку пользователя.
func (s *Storage) GetSubscriptionByUserUID(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByUserUID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, COALESCE(external_id, ''), status, role, plan_id,
			      current_period_end, canceled_at, created_at, updated_at
			  FROM subscriptions
			  WHERE user_uid = $1`
	return s.scanSubscription(s.DB.QueryRowContext(ctx, query, userUID), op)
}

// GetSubscriptionByExternalID возвращает подписку по её идентификатору
// в платёжном шлюзе. Используется для корреляции событий об инвойсах
// и отменах, в которых нет внутренних метаданных.
func (s *Storage) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByExternalID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, COALESCE(external_id, ''), status, role, plan_id,
			      current_period_end, canceled_at, created_at, updated_at
			  FROM subscriptions
			  WHERE external_id = $1`
	return s.scanSubscription(s.DB.QueryRowContext(ctx, query, externalID), op)
}

func (s *Storage) scanSubscription(row *sql.Row, op string) (*models.Subscription, error) {
	var sub models.Subscription
	var periodEnd, canceledAt sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserUID, &sub.ExternalID, &sub.Status, &sub.CurrentRole,
		&sub.PlanID, &periodEnd, &canceledAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if canceledAt.Valid {
		sub.CanceledAt = &canceledAt.Time
	}
	return &sub, nil
}

// ApplyTransition применяет один переход подписки атомарно.
//
// В одной транзакции выполняются три записи: вставка в журнал платежей
// по уникальному event_id, upsert/update записи подписки и обновление
// роли пользователя. Вставка журнала с ON CONFLICT DO NOTHING служит
// идемпотентным замком: ноль затронутых строк означает, что событие
// уже обработано (в том числе конкурентной доставкой), и вся операция
// становится успешным no-op — возвращается (false, nil) без изменений
// состояния.
//
// При Outcome != processed фиксируется только запись журнала:
// аутентичное событие с неразрешимыми ссылками подтверждается шлюзу,
// но подписку не трогает.
func (s *Storage) ApplyTransition(ctx context.Context, t models.Transition) (bool, error) {
	const op = "storage.ApplyTransition"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, event_type, raw_payload, outcome)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		t.EventID, t.EventType, t.RawPayload, t.Outcome)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if inserted == 0 {
		// Повторная доставка: событие уже в журнале.
		return false, nil
	}

	if t.Outcome == models.OutcomeProcessed {
		if err := s.writeSubscriptionState(ctx, tx, t); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if err := s.writeUserRole(ctx, tx, t.UserUID, t.Role); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *Storage) writeSubscriptionState(ctx context.Context, tx *sql.Tx, t models.Transition) error {
	if t.CreateIfAbsent {
		// Путь завершённого checkout: запись создаётся лениво, а при
		// повторной оплате существующая запись перепривязывается к
		// новому external_id — это единственный разрешённый способ
		// заменить идентификатор шлюза.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions (user_uid, external_id, status, role, plan_id,
			     current_period_end, canceled_at)
			 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
			 ON CONFLICT (user_uid) DO UPDATE
			 SET external_id = COALESCE(NULLIF($2, ''), subscriptions.external_id),
			     status = $3,
			     role = $4,
			     plan_id = $5,
			     current_period_end = $6,
			     canceled_at = $7,
			     updated_at = NOW()`,
			t.UserUID, t.ExternalID, t.Status, t.Role, t.PlanID, t.CurrentPeriodEnd, t.CanceledAt)
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = $2,
		     role = $3,
		     current_period_end = COALESCE($4, current_period_end),
		     canceled_at = $5,
		     updated_at = NOW()
		 WHERE user_uid = $1`,
		t.UserUID, t.Status, t.Role, t.CurrentPeriodEnd, t.CanceledAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *Storage) writeUserRole(ctx context.Context, tx *sql.Tx, userUID string, role models.Role) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE uid = $1`,
		userUID, role)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %s not found for role update", userUID)
	}
	return nil
}
