// Package sign реализует HTTP-обработчик подписания договора.
//
// Handler принимает полный пакет подписания (снимок HTML договора,
// изображение подписи, оба согласия), валидирует его и фиксирует
// юридически значимую запись через гейт договора.
package sign

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
	"github.com/tradervault/billing-engine/internal/services/contract"
)

// Request структура запроса на подписание договора.
type Request struct {
	PlanID          string `json:"plan_id" validate:"required"`
	FullName        string `json:"full_name" validate:"required"`
	IDNumber        string `json:"id_number" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	ContractHTML    string `json:"contract_html" validate:"required"`
	SignatureImage  string `json:"signature_image" validate:"required"`
	AgreedTerms     bool   `json:"agreed_terms"`
	AgreedPrivacy   bool   `json:"agreed_privacy"`
	ContractVersion string `json:"contract_version" validate:"required"`
}

// Service описывает интерфейс гейта договора.
type Service interface {
	Sign(ctx context.Context, req contract.SignRequest) (int, error)
}

// Handler управляет HTTP-запросами на подписание договора.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис гейта договора
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
// @Summary Подписать договор
// @Description Фиксирует подписание договора со снимком текста и обоими согласиями. Возвращает ID записи.
// @Tags Contract
// @Accept  json
// @Produce  json
// @Param request body Request true "Пакет подписания"
// @Success 200 {object} map[string]any "Договор подписан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или нет согласий"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /contract/sign [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.contract.sign"
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

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user UID not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	id, err := h.service.Sign(r.Context(), contract.SignRequest{
		UserUID:         userUID,
		PlanID:          req.PlanID,
		FullName:        req.FullName,
		IDNumber:        req.IDNumber,
		Email:           req.Email,
		ContractHTML:    req.ContractHTML,
		SignatureImage:  req.SignatureImage,
		AgreedTerms:     req.AgreedTerms,
		AgreedPrivacy:   req.AgreedPrivacy,
		IPAddress:       clientIP(r),
		UserAgent:       r.UserAgent(),
		ContractVersion: req.ContractVersion,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConsentRequired):
			log.Error("consents missing", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ErrorWithCode("both consents are required", "consent_required"))
		case errors.Is(err, models.ErrUnknownPlan):
			log.Error("unknown plan", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ErrorWithCode("unknown plan", "unknown_plan"))
		default:
			log.Error("failed to sign contract", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not sign contract"))
		}
		return
	}

	log.Info("contract signed", slog.Int("signature_id", id))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"signature_id": id,
	}))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
