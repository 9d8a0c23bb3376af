package billinggateway

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/inovexa/billing-gateway/internal/config"
	"github.com/inovexa/billing-gateway/internal/http/handlers/auth/login"
	"github.com/inovexa/billing-gateway/internal/http/handlers/auth/register"
	"github.com/inovexa/billing-gateway/internal/http/handlers/health"
	"github.com/inovexa/billing-gateway/internal/http/handlers/payment/checkout"
	"github.com/inovexa/billing-gateway/internal/http/handlers/payment/status"
	"github.com/inovexa/billing-gateway/internal/http/handlers/payment/webhook"
	planlist "github.com/inovexa/billing-gateway/internal/http/handlers/plan/list"
	"github.com/inovexa/billing-gateway/internal/http/middlewarectx"
	authservice "github.com/inovexa/billing-gateway/internal/services/auth"
	paymentservice "github.com/inovexa/billing-gateway/internal/services/payment"
	"github.com/inovexa/billing-gateway/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, db *repository.Storage, authService *authservice.Service, paymentService *paymentservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	limiter := rate.NewLimiter(rate.Limit(10), 30)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Post("/register", register.New(logger, authService).ServeHTTP)
			r.Post("/login", login.New(logger, authService).ServeHTTP)
			r.Get("/plans", planlist.New(logger, db).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(authService, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Post("/payments/checkout", checkout.New(logger, paymentService).ServeHTTP)
			r.Get("/payments/status", status.New(logger, paymentService).ServeHTTP)
		})

		// Проверка платного доступа для смежных сервисов: тот же ответ,
		// что и /payments/status, но за premium-гейтом.
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(authService, logger))
			r.Use(middlewarectx.PremiumOnlyMiddleware(logger))
			r.Get("/premium/verify", status.New(logger, paymentService).ServeHTTP)
		})

		// Webhook endpoint: без аутентификации и без лимита запросов,
		// подлинность события подтверждает подпись шлюза.
		r.Post("/payments/webhook", webhook.New(logger, paymentService, cfg.Stripe.WebhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
