// Package sessioncreate реализует HTTP-обработчик создания платёжной сессии.
//
// Handler принимает JSON-запрос с планом и контактами, валидирует его,
// вызывает менеджер сессий и возвращает URL платёжной страницы провайдера.
// Для авторизованных запросов uid пользователя берётся из контекста,
// анонимные используют ключ клиента.
package sessioncreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/tradervault/billing-engine/internal/http/middlewarectx"
	"github.com/tradervault/billing-engine/internal/http/response"
	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/services/session"
)

// Request структура запроса на создание платёжной сессии.
type Request struct {
	PlanID       string `json:"plan_id" validate:"required"`
	AnonymousKey string `json:"anonymous_key,omitempty" validate:"omitempty,uuid"`
	Email        string `json:"email" validate:"required,email"`
	FullName     string `json:"full_name" validate:"required"`
}

// Service описывает интерфейс менеджера платёжных сессий.
type Service interface {
	CreateSession(ctx context.Context, req session.Request) (*session.Handle, error)
}

// Handler управляет HTTP-запросами на создание платёжных сессий.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики создания сессий
	validate *validator.Validate // Валидатор структуры входящих данных
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать платёжную сессию
// @Description Открывает платёжную попытку у провайдера и возвращает URL платёжной страницы. Незавершённая сессия того же плана переиспользуется.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Данные платёжной сессии"
// @Success 200 {object} map[string]any "Сессия создана"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /payments/session [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.sessioncreate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	// Uid присутствует только у авторизованных запросов: сессия может
	// начаться до создания учётной записи.
	userUID, _ := r.Context().Value(middlewarectx.UserUID).(string)

	handle, err := h.service.CreateSession(r.Context(), session.Request{
		PlanID:       req.PlanID,
		UserUID:      userUID,
		AnonymousKey: req.AnonymousKey,
		Email:        req.Email,
		FullName:     req.FullName,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownPlan):
			log.Error("unknown plan", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ErrorWithCode("unknown plan", "unknown_plan"))
		case errors.Is(err, models.ErrProviderUnavailable):
			log.Error("payment provider unavailable", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.ErrorWithCode("payment provider is unavailable, try again", "provider_unavailable"))
		default:
			log.Error("failed to create payment session", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not create payment session"))
		}
		return
	}

	log.Info("payment session ready",
		slog.String("session_id", handle.SessionID), slog.Bool("reused", handle.Reused))
	render.JSON(w, r, response.OKWithData(handle))
}
