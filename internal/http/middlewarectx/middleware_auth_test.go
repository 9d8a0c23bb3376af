package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/inovexa/billing-gateway/internal/models"
)

// MockTokenValidator реализует интерфейс middlewarectx.TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	if res := args.Get(0); res != nil {
		return res.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestJWTMiddleware(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name           string
		authHeader     string
		setupMock      func(*MockTokenValidator)
		expectedStatus int
		expectNext     bool
	}{
		{
			name:       "валидный токен пропускается",
			authHeader: "Bearer good-token",
			setupMock: func(m *MockTokenValidator) {
				m.On("ValidateToken", mock.Anything, "good-token").Return(&models.User{
					Username: "testuser",
					Role:     models.RolePremium,
					UUID:     "uid-1",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectNext:     true,
		},
		{
			name:           "отсутствующий заголовок отклоняется",
			authHeader:     "",
			setupMock:      func(_ *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "заголовок без Bearer отклоняется",
			authHeader:     "Token abc",
			setupMock:      func(_ *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "невалидный токен отклоняется",
			authHeader: "Bearer bad-token",
			setupMock: func(m *MockTokenValidator) {
				m.On("ValidateToken", mock.Anything, "bad-token").
					Return(nil, errors.New("token is expired"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := new(MockTokenValidator)
			tt.setupMock(validator)

			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				assert.Equal(t, "testuser", r.Context().Value(User))
				assert.Equal(t, "premium", r.Context().Value(Role))
				assert.Equal(t, "uid-1", r.Context().Value(UserUID))
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/payments/status", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()

			JWTMiddleware(validator, logger)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectNext, nextCalled)
			validator.AssertExpectations(t)
		})
	}
}

func TestPremiumOnlyMiddleware(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name           string
		role           string
		expectedStatus int
	}{
		{"premium пропускается", "premium", http.StatusOK},
		{"admin пропускается", "admin", http.StatusOK},
		{"basic получает 403", "basic", http.StatusForbidden},
		{"без роли 401", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.role != "" {
				req = req.WithContext(context.WithValue(req.Context(), Role, tt.role))
			}
			w := httptest.NewRecorder()

			PremiumOnlyMiddleware(logger)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
