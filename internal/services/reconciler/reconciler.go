// Package reconciler идемпотентно применяет итог платёжной сессии к
// подписке и журналу платежей. Это ядро платёжного цикла: уведомления
// провайдера приходят минимум один раз, возможно не по порядку и с
// дублями, а подписка обязана сойтись к согласованному состоянию.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
)

var reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "billing_reconciliations_total",
	Help: "Reconciliation outcomes by result.",
}, []string{"outcome"})

// Repository описывает операции хранилища, нужные реконсилятору.
type Repository interface {
	ResolveSession(ctx context.Context, id, status, transactionID string, payload []byte, resolvedAt time.Time) (bool, error)
	InsertPaymentRecord(ctx context.Context, rec models.PaymentRecord) (int, bool, error)
	GetSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error)
	UpsertPaymentMethod(ctx context.Context, userUID, planType, token, lastFour, expiry string, trialEndsAt time.Time) error
	ActivateSubscription(ctx context.Context, userUID, planType string, periodEndsAt, nextChargeDate *time.Time) error
	RecordPaymentFailure(ctx context.Context, userUID, reason string, failedAt time.Time) (bool, error)
}

// Notifier публикует события об итогах платежей для внешнего
// сервиса рассылки писем.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// Cache описывает инвалидацию кеша снимков права доступа.
type Cache interface {
	Invalidate(key string) error
}

// Result — итог реконсиляции одной доставки.
type Result struct {
	SessionID     string `json:"session_id"`
	UserUID       string `json:"user_uid,omitempty"`
	PlanID        string `json:"plan_id"`
	Status        string `json:"status"` // completed или failed
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"duplicate"` // Повторная доставка уже применённого итога
}

// Service реализует реконсиляцию.
type Service struct {
	repo     Repository
	notifier Notifier
	cache    Cache
	log      *slog.Logger
	now      func() time.Time
}

// New создает новый Service.
func New(repo Repository, notifier Notifier, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
}

// Reconcile применяет итог провайдера к сессии ровно один раз.
// Идемпотентность двухуровневая: условное разрешение сессии выигрывает
// ровно одна доставка, а уникальность (session_id, transaction_id) в
// журнале страхует от двойного зачисления.
func (s *Service) Reconcile(ctx context.Context, sess *models.PaymentSession, result *paymentprovider.LowProfileResult) (*Result, error) {
	const op = "reconciler.Reconcile"
	log := s.log.With(slog.String("op", op), slog.String("session_id", sess.ID))

	if sess.IsResolved() {
		log.Info("session already resolved, replay is a no-op",
			slog.String("status", sess.Status))
		reconciliationsTotal.WithLabelValues("duplicate").Inc()
		return s.priorResult(sess), nil
	}

	plan, ok := models.PlanByID(sess.PlanID)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, models.ErrUnknownPlan, sess.PlanID)
	}

	outcome := s.classify(sess, result)

	payload := sess.ProviderPayload
	if raw, err := marshalResult(result); err == nil {
		payload = raw
	}

	resolved, err := s.repo.ResolveSession(ctx, sess.ID, outcome.Status,
		result.TransactionID(), payload, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !resolved {
		// Конкурентная доставка успела раньше.
		log.Info("session resolved concurrently, dropping duplicate",
			sl.Err(models.ErrDuplicateReconciliation))
		reconciliationsTotal.WithLabelValues("duplicate").Inc()
		outcome.Duplicate = true
		return outcome, nil
	}

	if outcome.Status == models.PaymentStatusCompleted {
		err = s.applySuccess(ctx, sess, plan, result, outcome)
	} else {
		err = s.applyFailure(ctx, sess, outcome)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if sess.UserUID != "" {
		if err := s.cache.Invalidate("entitlement:" + sess.UserUID); err != nil {
			log.Warn("failed to invalidate entitlement cache", sl.Err(err))
		}
	}
	reconciliationsTotal.WithLabelValues(outcome.Status).Inc()
	s.notify(outcome)
	return outcome, nil
}

// classify переводит ответ провайдера в исход completed/failed.
// Единственная конвенция успеха — ResponseCode 0, но для токенизации
// дополнительно требуется непустой токен: "успех" без токена нечем
// финансировать будущие списания.
func (s *Service) classify(sess *models.PaymentSession, result *paymentprovider.LowProfileResult) *Result {
	out := &Result{
		SessionID:     sess.ID,
		UserUID:       sess.UserUID,
		PlanID:        sess.PlanID,
		TransactionID: result.TransactionID(),
	}
	if !result.Succeeded() {
		out.Status = models.PaymentStatusFailed
		out.Reason = DeclineReason(result.ResponseCode, result.Description)
		return out
	}
	needsToken := sess.Operation == models.OperationCreateTokenOnly ||
		sess.Operation == models.OperationChargeAndCreateToken
	if needsToken && (result.TokenInfo == nil || result.TokenInfo.Token == "") {
		out.Status = models.PaymentStatusFailed
		out.Reason = "token missing"
		return out
	}
	out.Status = models.PaymentStatusCompleted
	return out
}

func (s *Service) applySuccess(ctx context.Context, sess *models.PaymentSession, plan models.Plan, result *paymentprovider.LowProfileResult, out *Result) error {
	if result.TokenInfo != nil && result.TokenInfo.Token != "" && sess.UserUID != "" {
		trialEndsAt := s.now().AddDate(0, 0, plan.TrialDays)
		if err := s.repo.UpsertPaymentMethod(ctx, sess.UserUID, plan.Type,
			result.TokenInfo.Token, result.TokenInfo.CardLastFour,
			result.TokenInfo.TokenExpiry, trialEndsAt); err != nil {
			return err
		}
	}

	// Токенизация без списания не двигает статус подписки: она
	// финансирует будущие списания пробного плана.
	if sess.Operation == models.OperationCreateTokenOnly {
		return nil
	}

	rec := models.PaymentRecord{
		UserUID:       sess.UserUID,
		SessionID:     sess.ID,
		TransactionID: out.TransactionID,
		PlanID:        sess.PlanID,
		Amount:        sess.Amount,
		Status:        models.PaymentStatusCompleted,
	}
	if _, inserted, err := s.repo.InsertPaymentRecord(ctx, rec); err != nil {
		return err
	} else if !inserted {
		out.Duplicate = true
		return nil
	}

	var periodEndsAt, nextChargeDate *time.Time
	if plan.HasPeriodEnd() {
		end := s.now().AddDate(0, plan.PeriodMonths, 0)
		periodEndsAt = &end
		nextChargeDate = &end
	}
	return s.repo.ActivateSubscription(ctx, sess.UserUID, plan.Type, periodEndsAt, nextChargeDate)
}

func (s *Service) applyFailure(ctx context.Context, sess *models.PaymentSession, out *Result) error {
	rec := models.PaymentRecord{
		UserUID:       sess.UserUID,
		SessionID:     sess.ID,
		TransactionID: out.TransactionID,
		PlanID:        sess.PlanID,
		Amount:        sess.Amount,
		Status:        models.PaymentStatusFailed,
		Reason:        out.Reason,
	}
	if _, inserted, err := s.repo.InsertPaymentRecord(ctx, rec); err != nil {
		return err
	} else if !inserted {
		out.Duplicate = true
		return nil
	}

	if sess.UserUID == "" {
		return nil
	}
	// Подписка создаётся только успешным платежом; неудача первого
	// платежа пользователя без подписки оставляет лишь строку журнала.
	_, found, err := s.repo.GetSubscription(ctx, sess.UserUID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if _, err := s.repo.RecordPaymentFailure(ctx, sess.UserUID, out.Reason, s.now()); err != nil {
		return err
	}
	return nil
}

func marshalResult(result *paymentprovider.LowProfileResult) ([]byte, error) {
	return json.Marshal(result)
}

// priorResult восстанавливает итог уже разрешённой сессии.
func (s *Service) priorResult(sess *models.PaymentSession) *Result {
	return &Result{
		SessionID:     sess.ID,
		UserUID:       sess.UserUID,
		PlanID:        sess.PlanID,
		Status:        sessionToPaymentStatus(sess.Status),
		TransactionID: sess.TransactionID,
		Duplicate:     true,
	}
}

func (s *Service) notify(out *Result) {
	if s.notifier == nil || out.UserUID == "" {
		return
	}
	routingKey := "payment.succeeded"
	if out.Status == models.PaymentStatusFailed {
		routingKey = "payment.failed"
	}
	if err := s.notifier.Publish(routingKey, out); err != nil {
		s.log.Warn("failed to publish payment event", sl.Err(err))
	}
}

func sessionToPaymentStatus(sessionStatus string) string {
	if sessionStatus == models.SessionStatusCompleted {
		return models.PaymentStatusCompleted
	}
	return models.PaymentStatusFailed
}
