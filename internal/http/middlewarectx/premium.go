package middlewarectx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/inovexa/billing-gateway/internal/http/response"
	"github.com/inovexa/billing-gateway/internal/models"
)

// PremiumOnlyMiddleware пропускает только пользователей с платной ролью.
// Роль берётся из контекста, положенного JWTMiddleware: она отражает
// состояние на момент выдачи токена, актуальное состояние хранит база.
func PremiumOnlyMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := r.Context().Value(Role).(string)
			if !ok || role == "" {
				log.Error("user role missing in context")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("user identification missing"))
				return
			}
			if role != string(models.RolePremium) && role != string(models.RoleAdmin) {
				log.Warn("premium access denied", slog.String("role", role))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("premium subscription required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
