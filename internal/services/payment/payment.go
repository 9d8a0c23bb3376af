// Package payment содержит бизнес-логику биллингового ядра:
// открытие checkout-сессий, выдачу статуса подписки и реконсиляцию
// событий платёжного шлюза в состояние подписок.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inovexa/billing-gateway/internal/gateway"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/metrics"
	"github.com/inovexa/billing-gateway/internal/models"
)

// Ошибки уровня бизнес-логики. Ни одна из них не меняет состояние
// подписки: до обращения к шлюзу никакие записи не создаются.
var (
	// ErrPlanNotFound — запрошенный план отсутствует в каталоге.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanNotPurchasable — план неактивен или не привязан к цене шлюза.
	ErrPlanNotPurchasable = errors.New("plan is not purchasable")
	// ErrUserNotFound — пользователь не существует.
	ErrUserNotFound = errors.New("user not found")
	// ErrGatewayUnavailable — шлюз недоступен, запрос можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Repository определяет методы хранилища, используемые биллинговым ядром.
type Repository interface {
	// GetUser возвращает пользователя по UID.
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	// FindPlan возвращает план каталога по ID.
	FindPlan(ctx context.Context, planID string) (*models.Plan, error)
	// GetSubscriptionByUserUID возвращает подписку пользователя.
	GetSubscriptionByUserUID(ctx context.Context, userUID string) (*models.Subscription, error)
	// GetSubscriptionByExternalID возвращает подписку по идентификатору шлюза.
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	// ApplyTransition атомарно применяет переход подписки.
	// Возвращает false, если событие уже было обработано.
	ApplyTransition(ctx context.Context, t models.Transition) (bool, error)
}

// GatewayClient описывает операции платёжного шлюза, нужные сервису.
type GatewayClient interface {
	CreateCheckoutSession(ctx context.Context, p gateway.CheckoutSessionParams) (*gateway.CheckoutSession, error)
}

// Cache описывает методы для кэширования статусов подписок.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// Notifier публикует уведомления о применённых платёжных событиях.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// Service реализует бизнес-логику платежей и подписок.
type Service struct {
	repo      Repository
	gw        GatewayClient
	cache     Cache
	notifier  Notifier
	clientURL string
	log       *slog.Logger
}

// New создает новый экземпляр Service. Notifier может быть nil —
// тогда уведомления не публикуются.
func New(log *slog.Logger, repo Repository, gw GatewayClient, cache Cache, notifier Notifier, clientURL string) *Service {
	return &Service{
		repo:      repo,
		gw:        gw,
		cache:     cache,
		notifier:  notifier,
		clientURL: clientURL,
		log:       log,
	}
}

// CreateCheckoutSession открывает checkout-сессию шлюза для пользователя
// и плана, вкладывая внутренние идентификаторы в метаданные сессии.
// Возвращает URL для редиректа пользователя на страницу оплаты.
func (s *Service) CreateCheckoutSession(ctx context.Context, userUID, planID string) (string, error) {
	const op = "payment.CreateCheckoutSession"

	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	plan, err := s.repo.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrPlanNotFound
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !plan.Purchasable() {
		return "", ErrPlanNotPurchasable
	}

	session, err := s.gw.CreateCheckoutSession(ctx, gateway.CheckoutSessionParams{
		PriceID:       plan.StripePriceID,
		CustomerEmail: user.Email,
		SuccessURL:    s.clientURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.clientURL + "/payment-canceled",
		UserUID:       user.UUID,
		PlanID:        plan.ID,
	})
	if err != nil {
		s.log.Error("gateway checkout session failed", sl.Err(err))
		return "", fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
	}

	metrics.CheckoutSessionsTotal.Inc()
	s.log.Info("checkout session created",
		slog.String("user_uid", user.UUID),
		slog.String("plan_id", plan.ID),
		slog.String("session_id", session.ID))
	return session.URL, nil
}

// GetSubscriptionStatus возвращает подписку пользователя. Если записи
// ещё нет (checkout не завершался), возвращается синтетическая
// запись в начальном состоянии inactive с ролью basic.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "payment.GetSubscriptionStatus"

	cacheKey := statusCacheKey(userUID)
	var cached models.Subscription
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read status cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := s.repo.GetSubscriptionByUserUID(ctx, userUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			sub = &models.Subscription{
				UserUID:     userUID,
				Status:      models.StatusInactive,
				CurrentRole: models.RoleBasic,
			}
		} else {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := s.cache.Set(cacheKey, sub, time.Hour); err != nil {
		s.log.Warn("failed to cache subscription status", slog.String("key", cacheKey), sl.Err(err))
	}
	return sub, nil
}

func statusCacheKey(userUID string) string {
	return "subscription:status:" + userUID
}
