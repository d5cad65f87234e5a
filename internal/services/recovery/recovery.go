// Package recovery реализует операторскую повторную обработку
// webhook-событий, которые не удалось сопоставить с сессией или
// пользователем при живой доставке. Восстановление входит в тот же
// идемпотентный путь реконсиляции, что и живые уведомления, поэтому
// повторный запуск оператором безопасен.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
	"github.com/tradervault/billing-engine/internal/services/reconciler"
)

// Repository описывает операции хранилища для восстановления.
type Repository interface {
	ListUnprocessedWebhookEvents(ctx context.Context, lowProfileID string) ([]*models.WebhookEvent, error)
	FindUserUIDByEmail(ctx context.Context, email string) (string, bool, error)
	GetSessionByProviderID(ctx context.Context, lowProfileID string) (*models.PaymentSession, error)
	GetSessionByReturnValue(ctx context.Context, returnValue string) (*models.PaymentSession, error)
	AttachSessionUser(ctx context.Context, id, userUID string) error
	CreateSession(ctx context.Context, sess models.PaymentSession) error
	CountPaymentRecords(ctx context.Context, sessionID string) (int, error)
}

// Ingestor повторно применяет сохранённое событие через webhook-путь.
type Ingestor interface {
	ReconcileEvent(ctx context.Context, ev *models.WebhookEvent, result *paymentprovider.LowProfileResult, sess *models.PaymentSession) (*reconciler.Result, error)
}

// Request — параметры операторского запуска: email пользователя либо
// low-profile id конкретной сессии.
type Request struct {
	Email        string
	LowProfileID string
}

// EventResult — итог повторной обработки одного события.
type EventResult struct {
	EventID      int64  `json:"event_id"`
	LowProfileID string `json:"low_profile_id,omitempty"`
	Outcome      string `json:"outcome"` // reconciled, duplicate, skipped, failed
	Detail       string `json:"detail,omitempty"`
	UserUID      string `json:"user_uid,omitempty"`
}

// Report — сводка операторского запуска.
type Report struct {
	Results     []EventResult `json:"results"`
	ResolvedUID string        `json:"resolved_uid,omitempty"`
}

// Service реализует повторную обработку.
type Service struct {
	repo     Repository
	ingestor Ingestor
	log      *slog.Logger
	now      func() time.Time
}

// New создает новый Service.
func New(repo Repository, ingestor Ingestor, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		ingestor: ingestor,
		log:      log,
		now:      time.Now,
	}
}

// Reprocess повторно обрабатывает необработанные события. При запуске
// по email пользователь переопределяется в копии исходного payload,
// как если бы уведомление пришло заново с верным uid. Каждая попытка
// логируется; повторный запуск по уже сведённому событию — no-op.
func (s *Service) Reprocess(ctx context.Context, req Request) (*Report, error) {
	const op = "recovery.Reprocess"
	log := s.log.With(slog.String("op", op))

	report := &Report{}

	if req.Email != "" {
		userUID, found, err := s.repo.FindUserUIDByEmail(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !found {
			return nil, fmt.Errorf("%s: %w: %s", op, models.ErrUserNotResolved, req.Email)
		}
		report.ResolvedUID = userUID
	}

	events, err := s.repo.ListUnprocessedWebhookEvents(ctx, req.LowProfileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, ev := range events {
		res := s.reprocessEvent(ctx, ev, report.ResolvedUID, req.Email)
		log.Info("reprocessed webhook event",
			slog.Int64("event_id", ev.ID),
			slog.String("outcome", res.Outcome),
			slog.String("detail", res.Detail))
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (s *Service) reprocessEvent(ctx context.Context, ev *models.WebhookEvent, userUID, email string) EventResult {
	res := EventResult{EventID: ev.ID, LowProfileID: ev.LowProfileID, UserUID: userUID}

	var result paymentprovider.LowProfileResult
	if err := json.Unmarshal(ev.RawPayload, &result); err != nil {
		res.Outcome = "skipped"
		res.Detail = "unreadable payload"
		return res
	}

	sess, err := s.resolveSession(ctx, ev, &result, userUID, email)
	if err != nil {
		res.Outcome = "skipped"
		res.Detail = err.Error()
		return res
	}

	outcome, err := s.ingestor.ReconcileEvent(ctx, ev, &result, sess)
	if err != nil {
		s.log.Error("recovery reconcile failed", sl.Err(err))
		res.Outcome = "failed"
		res.Detail = err.Error()
		return res
	}
	if outcome.Duplicate {
		res.Outcome = "duplicate"
		res.Detail = outcome.Status
		// Разрешённая сессия без строк журнала — дрейф
		// "платёж прошёл, а подписка не обновлена".
		if sess.Operation != models.OperationCreateTokenOnly {
			if count, err := s.repo.CountPaymentRecords(ctx, sess.ID); err == nil && count == 0 {
				res.Detail = "drift: resolved session has no ledger rows"
			}
		}
	} else {
		res.Outcome = "reconciled"
		res.Detail = outcome.Status
	}
	res.UserUID = outcome.UserUID
	return res
}

// errEmailMismatch — событие доказуемо не принадлежит пользователю,
// для которого запущено восстановление.
var errEmailMismatch = errors.New("event does not match requested user email")

// resolveSession находит сессию события. Сессия с анонимным владельцем
// переатрибутируется на разрешённого пользователя; если сессии нет
// вовсе (корреляция потеряна), она реконструируется из payload.
// Переатрибуция и реконструкция требуют совпадения email: в журнале
// могут лежать застрявшие события разных анонимных покупателей, и
// запуск по email не должен зачесть чужой платёж.
func (s *Service) resolveSession(ctx context.Context, ev *models.WebhookEvent, result *paymentprovider.LowProfileResult, userUID, email string) (*models.PaymentSession, error) {
	sess, err := s.lookupSession(ctx, result)
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}

	if sess != nil {
		if sess.UserUID == "" && userUID != "" {
			if !sessionMatchesEmail(sess, result, email) {
				return nil, errEmailMismatch
			}
			if err := s.repo.AttachSessionUser(ctx, sess.ID, userUID); err != nil {
				return nil, err
			}
			sess.UserUID = userUID
		}
		return sess, nil
	}

	if userUID == "" {
		return nil, models.ErrSessionNotFound
	}
	if !payloadMatchesEmail(result, email) {
		return nil, errEmailMismatch
	}
	return s.rebuildSession(ctx, ev, result, userUID)
}

// sessionMatchesEmail сверяет событие с email восстановления: либо
// email, указанный при создании сессии, либо email владельца карты
// из payload провайдера.
func sessionMatchesEmail(sess *models.PaymentSession, result *paymentprovider.LowProfileResult, email string) bool {
	return emailsEqual(sess.Email, email) || payloadMatchesEmail(result, email)
}

func payloadMatchesEmail(result *paymentprovider.LowProfileResult, email string) bool {
	return result.TokenInfo != nil && emailsEqual(result.TokenInfo.CardOwnerEmail, email)
}

func emailsEqual(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (s *Service) lookupSession(ctx context.Context, result *paymentprovider.LowProfileResult) (*models.PaymentSession, error) {
	if result.LowProfileID != "" {
		sess, err := s.repo.GetSessionByProviderID(ctx, result.LowProfileID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
	}
	if result.ReturnValue != "" {
		return s.repo.GetSessionByReturnValue(ctx, result.ReturnValue)
	}
	return nil, models.ErrSessionNotFound
}

// rebuildSession восстанавливает строку сессии из payload события:
// план берётся из корреляционного токена, сумма — из транзакции.
func (s *Service) rebuildSession(ctx context.Context, ev *models.WebhookEvent, result *paymentprovider.LowProfileResult, userUID string) (*models.PaymentSession, error) {
	planID := planFromReturnValue(result.ReturnValue)
	plan, ok := models.PlanByID(planID)
	if !ok {
		return nil, fmt.Errorf("%w: cannot derive plan from return value", models.ErrSessionNotFound)
	}

	amount := plan.Price
	if result.TranzactionInfo != nil && result.TranzactionInfo.Amount > 0 {
		amount = result.TranzactionInfo.Amount
	}

	now := s.now()
	sess := models.PaymentSession{
		ID:                uuid.NewString(),
		ProviderSessionID: result.LowProfileID,
		UserUID:           userUID,
		PlanID:            plan.ID,
		Amount:            amount,
		Operation:         plan.Operation,
		Status:            models.SessionStatusInitiated,
		ReturnValue:       result.ReturnValue,
		CreatedAt:         ev.ReceivedAt,
		ExpiresAt:         now.Add(models.SessionTTL),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Info("rebuilt session from webhook payload",
		slog.String("session_id", sess.ID), slog.String("user_uid", userUID))
	return &sess, nil
}

// planFromReturnValue извлекает план из токена вида "plan:owner:unix".
func planFromReturnValue(returnValue string) string {
	parts := strings.SplitN(returnValue, ":", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
