// Package reprocess реализует административный HTTP-обработчик
// восстановления платежей из сохраненных вебхуков.
package reprocess

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/tradervault/billing-engine/internal/http/response"
	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/services/recovery"
)

// Request структура запроса на восстановление. Запуск возможен по
// email пользователя, по low-profile id сессии либо по обоим сразу.
type Request struct {
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	LowProfileID string `json:"low_profile_id,omitempty"`
}

// Service описывает сервис восстановления.
type Service interface {
	Reprocess(ctx context.Context, req recovery.Request) (*recovery.Report, error)
}

// Handler управляет административными HTTP-запросами восстановления.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис восстановления
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
// @Summary Восстановить платежи по email или low-profile id
// @Description Повторно проводит необработанные вебхуки через штатный путь сверки. Идемпотентно: уже проведенные платежи помечаются как дубликаты.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body Request true "Email пользователя и/или low-profile id сессии (хотя бы одно)"
// @Success 200 {object} recovery.Report "Отчет о восстановлении"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден по email"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/reprocess [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recovery.reprocess"
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
	if req.Email == "" && req.LowProfileID == "" {
		log.Error("neither email nor low_profile_id provided")
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ErrorWithCode("email or low_profile_id is required", "missing_target"))
		return
	}

	report, err := h.service.Reprocess(r.Context(), recovery.Request{
		Email:        req.Email,
		LowProfileID: req.LowProfileID,
	})
	if err != nil {
		if errors.Is(err, models.ErrUserNotResolved) {
			log.Error("user not resolved by email", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.ErrorWithCode("no user found for email", "user_not_resolved"))
			return
		}
		log.Error("failed to reprocess events", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reprocess events"))
		return
	}

	log.Info("reprocess completed",
		slog.String("email", req.Email),
		slog.Int("events", len(report.Results)))
	render.JSON(w, r, response.OKWithData(report))
}
