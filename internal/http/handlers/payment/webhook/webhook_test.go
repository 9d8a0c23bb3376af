package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v82"
)

const testSecret = "whsec_test_secret"

// MockService реализует интерфейс webhook.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) ProcessEvent(ctx context.Context, event stripe.Event, payload []byte) error {
	args := m.Called(ctx, event, payload)
	return args.Error(0)
}

// signPayload формирует заголовок Stripe-Signature так же, как это
// делает шлюз: HMAC-SHA256 от "<timestamp>.<payload>".
func signPayload(payload string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	payload := `{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1","subscription":"sub_1"}}}`

	tests := []struct {
		name           string
		signature      string
		setupMock      func(*MockService)
		expectedStatus int
	}{
		{
			name:      "валидная подпись, событие обработано",
			signature: signPayload(payload, time.Now()),
			setupMock: func(m *MockService) {
				m.On("ProcessEvent", mock.Anything, mock.MatchedBy(func(e stripe.Event) bool {
					return e.ID == "evt_1" && string(e.Type) == "invoice.paid"
				}), []byte(payload)).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "отсутствующая подпись отклоняется",
			signature:      "",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "подпись чужим секретом отклоняется",
			signature:      "t=1700000000,v1=deadbeef",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "устаревшая подпись отклоняется",
			signature:      signPayload(payload, time.Now().Add(-time.Hour)),
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:      "транзиентный сбой возвращает 500",
			signature: signPayload(payload, time.Now()),
			setupMock: func(m *MockService) {
				m.On("ProcessEvent", mock.Anything, mock.Anything, mock.Anything).
					Return(errors.New("storage unavailable"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService, testSecret)

			req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set("Stripe-Signature", tt.signature)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

// Изменённое после подписания тело не должно пройти проверку.
func TestWebhookHandler_TamperedBody(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	payload := `{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`
	tampered := strings.Replace(payload, "evt_1", "evt_2", 1)

	mockService := new(MockService)
	handler := New(logger, mockService, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(tampered))
	req.Header.Set("Stripe-Signature", signPayload(payload, time.Now()))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything, mock.Anything)
}
