// Package billing собирает платёжный движок: хранилище, миграции, кеш,
// брокер уведомлений, клиент платёжного провайдера, сервисы и HTTP-сервер.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/tradervault/billing-engine/internal/cache"
	"github.com/tradervault/billing-engine/internal/config"
	"github.com/tradervault/billing-engine/internal/lib/jwt"
	"github.com/tradervault/billing-engine/internal/lib/rabbitmq"
	"github.com/tradervault/billing-engine/internal/migrations"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
	contractservice "github.com/tradervault/billing-engine/internal/services/contract"
	entitlementservice "github.com/tradervault/billing-engine/internal/services/entitlement"
	reconcilerservice "github.com/tradervault/billing-engine/internal/services/reconciler"
	recoveryservice "github.com/tradervault/billing-engine/internal/services/recovery"
	sessionservice "github.com/tradervault/billing-engine/internal/services/session"
	statusservice "github.com/tradervault/billing-engine/internal/services/status"
	webhookservice "github.com/tradervault/billing-engine/internal/services/webhook"
	"github.com/tradervault/billing-engine/internal/storage/repository"
)

const (
	rabbitRetries = 5
	rabbitDelay   = 3 * time.Second
)

// App инкапсулирует HTTP-сервер и ресурсы платёжного движка.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
}

// New собирает приложение из конфигурации.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	rabbitConn, err := rabbitmq.Connect(cfg.RabbitURL, rabbitRetries, rabbitDelay)
	if err != nil {
		return nil, err
	}
	publisher, err := rabbitmq.NewPublisher(rabbitConn, cfg.RabbitExchange)
	if err != nil {
		return nil, err
	}

	providerClient := paymentprovider.NewClient(cfg.PaymentProvider)
	tokenMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	reconciler := reconcilerservice.New(db, publisher, cacheRedis, logger)
	sessionSvc := sessionservice.New(db, providerClient, cfg.PaymentProvider, cfg.SessionTTL, logger)
	webhookSvc := webhookservice.New(db, reconciler, logger)
	statusSvc := statusservice.New(db, providerClient, reconciler, logger)
	contractSvc := contractservice.New(db, cacheRedis, logger)
	entitlementSvc := entitlementservice.New(db, cacheRedis, cfg.GracePeriodDays, logger)
	recoverySvc := recoveryservice.New(db, webhookSvc, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, tokenMaker, Services{
		Session:     sessionSvc,
		Webhook:     webhookSvc,
		Status:      statusSvc,
		Contract:    contractSvc,
		Entitlement: entitlementSvc,
		Recovery:    recoverySvc,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его при отмене контекста.
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
		a.db.DB.Close()
		return err
	}
}
