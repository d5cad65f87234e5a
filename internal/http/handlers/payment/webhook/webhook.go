// Package webhook реализует входную точку уведомлений платёжного
// провайдера. Единственный контракт с провайдером: как только тело
// надёжно сохранено, ответ всегда 200 — сбои дальнейшей обработки
// решает сервис восстановления, а не повторы провайдера.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/tradervault/billing-engine/internal/http/response"
	"github.com/tradervault/billing-engine/internal/lib/sl"
)

// Service описывает приём уведомления провайдера.
type Service interface {
	Ingest(ctx context.Context, raw []byte) error
}

// Handler обрабатывает входящие webhook-уведомления.
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
// @Summary Принять уведомление провайдера
// @Description Сохраняет уведомление и запускает реконсиляцию. Отвечает 200 даже при сбое обработки, если тело сохранено.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Success 200 {object} response.Response "Уведомление принято"
// @Failure 500 {object} response.ErrorResponse "Уведомление не удалось сохранить"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if err := h.service.Ingest(r.Context(), body); err != nil {
		// Единственный случай, когда провайдер должен повторить
		// доставку: событие не попало в журнал.
		log.Error("failed to store webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, response.OKWithData(nil))
}
