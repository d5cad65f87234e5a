// Package webhook реализует приём уведомлений провайдера: сырое тело
// сохраняется безусловно, затем событие сопоставляется с платёжной
// сессией и передаётся реконсилятору. Несопоставленные события и сбои
// реконсиляции остаются в журнале с processed=false для сервиса
// восстановления — провайдеру они никогда не возвращаются как ошибка.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
	"github.com/tradervault/billing-engine/internal/services/reconciler"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Inbound provider webhook events by result.",
	}, []string{"result"})
)

// Число попыток реконсиляции и стартовая задержка между ними.
// После исчерпания попыток событие помечается для восстановления.
const (
	reconcileAttempts = 3
	reconcileBackoff  = 200 * time.Millisecond
)

// Repository описывает операции хранилища для приёма уведомлений.
type Repository interface {
	InsertWebhookEvent(ctx context.Context, lowProfileID, returnValue string, raw []byte) (int64, error)
	MarkWebhookEvent(ctx context.Context, id int64, processed bool, reason string, at time.Time) error
	GetSessionByProviderID(ctx context.Context, lowProfileID string) (*models.PaymentSession, error)
	GetSessionByReturnValue(ctx context.Context, returnValue string) (*models.PaymentSession, error)
}

// Reconciler применяет итог провайдера к сессии.
type Reconciler interface {
	Reconcile(ctx context.Context, sess *models.PaymentSession, result *paymentprovider.LowProfileResult) (*reconciler.Result, error)
}

// Service реализует приём и обработку уведомлений.
type Service struct {
	repo       Repository
	reconciler Reconciler
	log        *slog.Logger
	now        func() time.Time
}

// New создает новый Service.
func New(repo Repository, rec Reconciler, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		reconciler: rec,
		log:        log,
		now:        time.Now,
	}
}

// Ingest обрабатывает одно уведомление провайдера. Ошибка возвращается
// только если событие не удалось сохранить: лишь в этом случае
// провайдер должен повторить доставку. Всё остальное — обязанность
// восстановления, а не провайдера.
func (s *Service) Ingest(ctx context.Context, raw []byte) error {
	const op = "webhook.Ingest"
	log := s.log.With(slog.String("op", op))

	var result paymentprovider.LowProfileResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		// Нечитаемое тело всё равно сохраняем: терять уведомление нельзя.
		result = paymentprovider.LowProfileResult{}
	}

	eventID, err := s.repo.InsertWebhookEvent(ctx, result.LowProfileID, result.ReturnValue, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	webhookEventsTotal.WithLabelValues("received").Inc()
	log = log.With(slog.Int64("event_id", eventID),
		slog.String("low_profile_id", result.LowProfileID))

	sess, err := s.matchSession(ctx, &result)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			log.Warn("webhook did not match any session, stored for recovery")
			webhookEventsTotal.WithLabelValues("unmatched").Inc()
			s.mark(ctx, log, eventID, false, models.WebhookReasonUnmatched)
			return nil
		}
		s.mark(ctx, log, eventID, false, models.WebhookReasonReconcileFailed)
		return nil
	}

	outcome, err := s.reconcileWithRetry(ctx, sess, &result)
	if err != nil {
		log.Error("reconciliation failed after retries, flagged for recovery", sl.Err(err))
		webhookEventsTotal.WithLabelValues("reconcile_failed").Inc()
		s.mark(ctx, log, eventID, false, models.WebhookReasonReconcileFailed)
		return nil
	}

	if outcome.Duplicate {
		webhookEventsTotal.WithLabelValues("duplicate").Inc()
	} else {
		webhookEventsTotal.WithLabelValues("processed").Inc()
	}
	s.mark(ctx, log, eventID, true, outcome.Status)
	log.Info("webhook processed",
		slog.String("status", outcome.Status), slog.Bool("duplicate", outcome.Duplicate))
	return nil
}

// ReconcileEvent повторно обрабатывает сохранённое событие. Вход для
// сервиса восстановления: путь тот же, что у живой доставки, поэтому
// replay и live не могут разойтись.
func (s *Service) ReconcileEvent(ctx context.Context, ev *models.WebhookEvent, result *paymentprovider.LowProfileResult, sess *models.PaymentSession) (*reconciler.Result, error) {
	const op = "webhook.ReconcileEvent"

	outcome, err := s.reconcileWithRetry(ctx, sess, result)
	if err != nil {
		s.mark(ctx, s.log, ev.ID, false, models.WebhookReasonReconcileFailed)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mark(ctx, s.log, ev.ID, true, outcome.Status)
	return outcome, nil
}

func (s *Service) matchSession(ctx context.Context, result *paymentprovider.LowProfileResult) (*models.PaymentSession, error) {
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

func (s *Service) reconcileWithRetry(ctx context.Context, sess *models.PaymentSession, result *paymentprovider.LowProfileResult) (*reconciler.Result, error) {
	backoff := reconcileBackoff
	var lastErr error
	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		outcome, err := s.reconciler.Reconcile(ctx, sess, result)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		s.log.Warn("reconcile attempt failed",
			slog.Int("attempt", attempt), sl.Err(err))
		if attempt == reconcileAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (s *Service) mark(ctx context.Context, log *slog.Logger, eventID int64, processed bool, reason string) {
	if err := s.repo.MarkWebhookEvent(ctx, eventID, processed, reason, s.now()); err != nil {
		log.Error("failed to mark webhook event", sl.Err(err))
	}
}
