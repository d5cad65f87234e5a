// Package sessionstatus реализует браузерную проверку статуса платёжной
// сессии после возврата с платёжной страницы. Параметры redirect-а —
// подсказка, а не истина: клиент обязан спросить этот endpoint, прежде
// чем менять состояние UI.
package sessionstatus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/tradervault/billing-engine/internal/http/response"
	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/services/status"
)

// Service описывает проверку статуса сессии.
type Service interface {
	CheckStatus(ctx context.Context, sessionID, lowProfileID string) (*status.Result, error)
}

// Handler обрабатывает запросы статуса платёжной сессии.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Проверить статус платёжной сессии
// @Description Возвращает авторитетный статус по session_id либо low_profile_id. Терминальный статус — сигнал прекратить опрос.
// @Tags Payments
// @Produce  json
// @Param session_id query string false "Внутренний идентификатор сессии"
// @Param low_profile_id query string false "Low-profile id провайдера"
// @Success 200 {object} status.Result "Статус сессии"
// @Failure 404 {object} response.ErrorResponse "Сессия не найдена"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /payments/session/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.sessionstatus"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	sessionID := r.URL.Query().Get("session_id")
	lowProfileID := r.URL.Query().Get("low_profile_id")
	if sessionID == "" && lowProfileID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("session_id or low_profile_id is required"))
		return
	}

	result, err := h.service.CheckStatus(r.Context(), sessionID, lowProfileID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			log.Error("session not found", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("session not found", "session_not_found"))
			return
		}
		log.Error("failed to check session status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check session status"))
		return
	}

	render.JSON(w, r, response.OKWithData(result))
}
