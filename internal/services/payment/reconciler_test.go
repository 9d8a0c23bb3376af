package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/inovexa/billing-gateway/internal/gateway"
	"github.com/inovexa/billing-gateway/internal/models"
)

// MockRepository реализует интерфейс payment.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	args := m.Called(ctx, userUID)
	if res := args.Get(0); res != nil {
		return res.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) FindPlan(ctx context.Context, planID string) (*models.Plan, error) {
	args := m.Called(ctx, planID)
	if res := args.Get(0); res != nil {
		return res.(*models.Plan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetSubscriptionByUserUID(ctx context.Context, userUID string) (*models.Subscription, error) {
	args := m.Called(ctx, userUID)
	if res := args.Get(0); res != nil {
		return res.(*models.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	args := m.Called(ctx, externalID)
	if res := args.Get(0); res != nil {
		return res.(*models.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ApplyTransition(ctx context.Context, t models.Transition) (bool, error) {
	args := m.Called(ctx, t)
	return args.Bool(0), args.Error(1)
}

// MockCache реализует интерфейс payment.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Set(key string, value any, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCache) Invalidate(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

// MockGateway реализует интерфейс payment.GatewayClient
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutSessionParams) (*gateway.CheckoutSession, error) {
	args := m.Called(ctx, p)
	if res := args.Get(0); res != nil {
		return res.(*gateway.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func makeEvent(t *testing.T, id, eventType string, object any) (stripe.Event, []byte) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	event := stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
	})
	require.NoError(t, err)
	return event, payload
}

func premiumPlan() *models.Plan {
	return &models.Plan{
		ID:            "11111111-1111-1111-1111-111111111111",
		Name:          "Fortaleza",
		PriceCents:    1990,
		StripePriceID: "price_123",
		GrantedRole:   models.RolePremium,
		IsActive:      true,
	}
}

func premiumSubscription() *models.Subscription {
	return &models.Subscription{
		ID:          1,
		UserUID:     "user-1",
		ExternalID:  "sub_ext_1",
		Status:      models.StatusActive,
		CurrentRole: models.RolePremium,
		PlanID:      "11111111-1111-1111-1111-111111111111",
	}
}

func TestProcessEvent_CheckoutCompleted(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_1", gateway.EventCheckoutCompleted, map[string]any{
		"id":           "cs_1",
		"subscription": "sub_ext_1",
		"metadata": map[string]string{
			"internal_user_id": "user-1",
			"internal_plan_id": "11111111-1111-1111-1111-111111111111",
		},
	})

	repo.On("GetUser", mock.Anything, "user-1").Return(&models.User{UUID: "user-1"}, nil)
	repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.EventID == "evt_1" &&
			tr.Outcome == models.OutcomeProcessed &&
			tr.Status == models.StatusActive &&
			tr.Role == models.RolePremium &&
			tr.ExternalID == "sub_ext_1" &&
			tr.CreateIfAbsent &&
			tr.CurrentPeriodEnd != nil
	})).Return(true, nil)
	cache.On("Invalidate", "subscription:status:user-1").Return(nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestProcessEvent_DuplicateIsNoop(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_dup", gateway.EventInvoicePaid, map[string]any{
		"id":           "in_1",
		"subscription": "sub_ext_1",
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(premiumSubscription(), nil)
	repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
	repo.On("ApplyTransition", mock.Anything, mock.Anything).Return(false, nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	// Дубликат не должен трогать кеш
	cache.AssertNotCalled(t, "Invalidate", mock.Anything)
}

func TestProcessEvent_UnknownUserRecordsFailure(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_ghost", gateway.EventCheckoutCompleted, map[string]any{
		"id":           "cs_2",
		"subscription": "sub_ext_2",
		"metadata": map[string]string{
			"internal_user_id": "ghost",
			"internal_plan_id": "11111111-1111-1111-1111-111111111111",
		},
	})

	repo.On("GetUser", mock.Anything, "ghost").Return(nil, sql.ErrNoRows)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.EventID == "evt_ghost" &&
			tr.Outcome == models.OutcomeFailed &&
			tr.UserUID == "" &&
			!tr.CreateIfAbsent
	})).Return(true, nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	cache.AssertNotCalled(t, "Invalidate", mock.Anything)
}

func TestProcessEvent_InvoicePaidExtendsPeriod(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	periodEnd := time.Now().AddDate(0, 1, 0).Unix()
	event, payload := makeEvent(t, "evt_paid", gateway.EventInvoicePaid, map[string]any{
		"id":           "in_2",
		"subscription": "sub_ext_1",
		"period_end":   periodEnd,
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(premiumSubscription(), nil)
	repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.Status == models.StatusActive &&
			tr.Role == models.RolePremium &&
			tr.CurrentPeriodEnd != nil &&
			tr.CurrentPeriodEnd.Unix() == periodEnd &&
			tr.CanceledAt == nil
	})).Return(true, nil)
	cache.On("Invalidate", "subscription:status:user-1").Return(nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProcessEvent_InvoiceFailedKeepsRole(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_fail", gateway.EventInvoiceFailed, map[string]any{
		"id":           "in_3",
		"subscription": "sub_ext_1",
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(premiumSubscription(), nil)
	repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		// Льготный период: статус past_due, но роль плана сохраняется
		return tr.Status == models.StatusPastDue && tr.Role == models.RolePremium
	})).Return(true, nil)
	cache.On("Invalidate", "subscription:status:user-1").Return(nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProcessEvent_SubscriptionDeletedDropsRole(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_del", gateway.EventSubscriptionDeleted, map[string]any{
		"id":     "sub_ext_1",
		"status": "canceled",
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(premiumSubscription(), nil)
	repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.Status == models.StatusInactive && tr.Role == models.RoleBasic
	})).Return(true, nil)
	cache.On("Invalidate", "subscription:status:user-1").Return(nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProcessEvent_SubscriptionUpdatedStatementOfState(t *testing.T) {
	tests := []struct {
		name           string
		gatewayStatus  string
		expectedStatus models.SubscriptionStatus
		expectedRole   models.Role
	}{
		{"trialing выдает роль плана", "trialing", models.StatusTrialing, models.RolePremium},
		{"active выдает роль плана", "active", models.StatusActive, models.RolePremium},
		{"past_due сохраняет роль плана", "past_due", models.StatusPastDue, models.RolePremium},
		{"canceled понижает до basic", "canceled", models.StatusCanceled, models.RoleBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			cache := new(MockCache)
			svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

			event, payload := makeEvent(t, "evt_upd_"+tt.gatewayStatus, gateway.EventSubscriptionUpdated, map[string]any{
				"id":     "sub_ext_1",
				"status": tt.gatewayStatus,
			})

			repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(premiumSubscription(), nil)
			repo.On("FindPlan", mock.Anything, "11111111-1111-1111-1111-111111111111").Return(premiumPlan(), nil)
			repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
				return tr.Status == tt.expectedStatus && tr.Role == tt.expectedRole
			})).Return(true, nil)
			cache.On("Invalidate", "subscription:status:user-1").Return(nil)

			err := svc.ProcessEvent(context.Background(), event, payload)
			assert.NoError(t, err)
			repo.AssertExpectations(t)
		})
	}
}

func TestProcessEvent_UnknownSubscriptionRecordsFailure(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	svc := New(newTestLogger(), repo, new(MockGateway), cache, nil, "http://client")

	event, payload := makeEvent(t, "evt_orphan", gateway.EventInvoicePaid, map[string]any{
		"id":           "in_4",
		"subscription": "sub_unknown",
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_unknown").Return(nil, sql.ErrNoRows)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.Outcome == models.OutcomeFailed
	})).Return(true, nil)

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProcessEvent_UnknownEventTypeIgnored(t *testing.T) {
	repo := new(MockRepository)
	svc := New(newTestLogger(), repo, new(MockGateway), new(MockCache), nil, "http://client")

	event, payload := makeEvent(t, "evt_misc", "charge.refunded", map[string]any{"id": "ch_1"})

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything)
}

func TestProcessEvent_StorageErrorIsTransient(t *testing.T) {
	repo := new(MockRepository)
	svc := New(newTestLogger(), repo, new(MockGateway), new(MockCache), nil, "http://client")

	event, payload := makeEvent(t, "evt_db_down", gateway.EventInvoicePaid, map[string]any{
		"id":           "in_5",
		"subscription": "sub_ext_1",
	})

	repo.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").Return(nil, errors.New("connection refused"))

	err := svc.ProcessEvent(context.Background(), event, payload)
	assert.Error(t, err)
}
