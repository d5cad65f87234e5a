// Package billing предоставляет маршруты платёжного движка.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	contractsign "github.com/tradervault/billing-engine/internal/http/handlers/contract/sign"
	"github.com/tradervault/billing-engine/internal/http/handlers/health"
	"github.com/tradervault/billing-engine/internal/http/handlers/payment/paymentlist"
	"github.com/tradervault/billing-engine/internal/http/handlers/payment/sessioncreate"
	"github.com/tradervault/billing-engine/internal/http/handlers/payment/sessionstatus"
	"github.com/tradervault/billing-engine/internal/http/handlers/payment/webhook"
	"github.com/tradervault/billing-engine/internal/http/handlers/recovery/reprocess"
	subcancel "github.com/tradervault/billing-engine/internal/http/handlers/subscription/cancel"
	substatus "github.com/tradervault/billing-engine/internal/http/handlers/subscription/status"
	"github.com/tradervault/billing-engine/internal/http/middlewarectx"
	contractservice "github.com/tradervault/billing-engine/internal/services/contract"
	entitlementservice "github.com/tradervault/billing-engine/internal/services/entitlement"
	recoveryservice "github.com/tradervault/billing-engine/internal/services/recovery"
	sessionservice "github.com/tradervault/billing-engine/internal/services/session"
	statusservice "github.com/tradervault/billing-engine/internal/services/status"
	webhookservice "github.com/tradervault/billing-engine/internal/services/webhook"
)

// Services сервисы, необходимые маршрутам.
type Services struct {
	Session     *sessionservice.Service
	Webhook     *webhookservice.Service
	Status      *statusservice.Service
	Contract    *contractservice.Service
	Entitlement *entitlementservice.Service
	Recovery    *recoveryservice.Service
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, tokenParser middlewarectx.TokenParser, svc Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	sessionLimiter := rate.NewLimiter(rate.Limit(5), 10)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки: создание сессии доступно анонимно,
		// вебхук приходит от провайдера без JWT, статус опрашивает
		// страница возврата до авторизации.
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.OptionalJWTMiddleware(tokenParser, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, sessionLimiter))
			r.Post("/payments/session", sessioncreate.New(logger, svc.Session).ServeHTTP)
		})
		r.Post("/payments/webhook", webhook.New(logger, svc.Webhook).ServeHTTP)
		r.Get("/payments/session/status", sessionstatus.New(logger, svc.Status).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(tokenParser, logger))
			r.Post("/contract/sign", contractsign.New(logger, svc.Contract).ServeHTTP)
			r.Get("/subscription/status", substatus.New(logger, svc.Entitlement).ServeHTTP)
			r.Post("/subscription/cancel", subcancel.New(logger, svc.Entitlement).ServeHTTP)

			// Конечные точки, требующие активного права доступа
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.EntitlementMiddleware(svc.Entitlement, logger))
				r.Get("/payments/list", paymentlist.New(logger, svc.Entitlement).ServeHTTP)
			})

			// Административная группа
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.AdminOnlyMiddleware(logger))
				r.Post("/admin/reprocess", reprocess.New(logger, svc.Recovery).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
