package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tradervault/billing-engine/internal/http/response"
	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/subscription"
)

// EntitlementService отдаёт снимок права доступа пользователя.
type EntitlementService interface {
	GetEntitlement(ctx context.Context, userUID string) (*subscription.Entitlement, error)
}

// EntitlementMiddleware — маршрутный гвард оплаченной зоны. Клиентские
// копии состояния подписки — только подсказка: право доступа всегда
// перепроверяется по серверному снимку. Неподписанный договор и
// истёкший льготный период отклоняются с кодами, по которым UI уводит
// пользователя на подписание либо обновление платёжных данных.
func EntitlementMiddleware(service EntitlementService, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.EntitlementMiddleware"
			log := log.With(slog.String("op", op))

			userUID, ok := r.Context().Value(UserUID).(string)
			if !ok || userUID == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}

			ent, err := service.GetEntitlement(r.Context(), userUID)
			if err != nil {
				log.Error("failed to compute entitlement", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal error"))
				return
			}

			if !ent.ContractSigned {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ErrorWithCode("contract is not signed", "contract_not_signed"))
				return
			}
			if !ent.IsActive {
				code := "subscription_expired"
				if ent.RequiresPaymentUpdate {
					code = "payment_update_required"
				}
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ErrorWithCode("subscription is not active", code))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
