// Package billinggateway собирает сервис биллингового шлюза: хранилище,
// кеш, клиент платёжного шлюза, публикацию уведомлений и HTTP-сервер.
package billinggateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/inovexa/billing-gateway/internal/cache"
	"github.com/inovexa/billing-gateway/internal/config"
	"github.com/inovexa/billing-gateway/internal/gateway"
	"github.com/inovexa/billing-gateway/internal/lib/jwt"
	"github.com/inovexa/billing-gateway/internal/lib/rabbitmq"
	"github.com/inovexa/billing-gateway/internal/lib/sl"
	"github.com/inovexa/billing-gateway/internal/migrations"
	authservice "github.com/inovexa/billing-gateway/internal/services/auth"
	paymentservice "github.com/inovexa/billing-gateway/internal/services/payment"
	"github.com/inovexa/billing-gateway/internal/storage/repository"
)

// App держит ресурсы работающего сервиса.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *repository.Storage
	rabbitmq *amqpResources
}

type amqpResources struct {
	conn      closer
	publisher closer
}

type closer interface {
	Close() error
}

// New инициализирует все зависимости сервиса и возвращает готовое
// к запуску приложение. Миграции применяются до открытия порта.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	var amqp *amqpResources
	var notifier paymentservice.Notifier
	if cfg.RabbitURL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitURL)
		if err != nil {
			return nil, err
		}
		publisher, err := rabbitmq.NewPublisher(conn, rabbitmq.PaymentsExchange)
		if err != nil {
			return nil, err
		}
		amqp = &amqpResources{conn: conn, publisher: publisher}
		notifier = publisher
	} else {
		logger.Warn("rabbit_url is empty, payment notifications disabled")
	}

	gatewayClient := gateway.NewClient(cfg.Stripe.SecretKey, "", cfg.Stripe.RequestTimeout)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	authService := authservice.New(db, jwtMaker)
	paymentService := paymentservice.New(logger, db, gatewayClient, cacheRedis, notifier, cfg.Stripe.ClientURL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, db, authService, paymentService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		rabbitmq: amqp,
	}, nil
}

// Run запускает HTTP-сервер и блокируется до отмены контекста или
// фатальной ошибки сервера. При отмене выполняется graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.rabbitmq != nil {
		if err := a.rabbitmq.publisher.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq publisher", sl.Err(err))
		}
		if err := a.rabbitmq.conn.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq connection", sl.Err(err))
		}
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Warn("failed to close database", sl.Err(err))
	}
}
