// Package status реализует серверную проверку статуса платёжной
// сессии для вернувшегося из платёжной страницы браузера. Параметры
// redirect-а — только подсказка: сначала читается локальная запись,
// при неразрешённой сессии итог запрашивается у провайдера и, если он
// терминальный, применяется тем же реконсилятором, что и webhook.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
	"github.com/tradervault/billing-engine/internal/services/reconciler"
)

// Repository описывает чтение сессий из хранилища.
type Repository interface {
	GetSessionByID(ctx context.Context, id string) (*models.PaymentSession, error)
	GetSessionByProviderID(ctx context.Context, lowProfileID string) (*models.PaymentSession, error)
}

// ProviderClient описывает запрос итога сессии у провайдера.
type ProviderClient interface {
	GetLowProfileResult(ctx context.Context, lowProfileID string) (*paymentprovider.LowProfileResult, error)
}

// Reconciler применяет терминальный итог провайдера к сессии.
type Reconciler interface {
	Reconcile(ctx context.Context, sess *models.PaymentSession, result *paymentprovider.LowProfileResult) (*reconciler.Result, error)
}

// Result — ответ проверки статуса. Терминальный статус — сигнал
// клиенту прекратить опрос.
type Result struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // pending, completed, failed или expired
	Reason    string `json:"reason,omitempty"`
	CardLast4 string `json:"card_last_four,omitempty"`
}

// Service реализует проверку статуса сессии.
type Service struct {
	repo       Repository
	provider   ProviderClient
	reconciler Reconciler
	log        *slog.Logger
	now        func() time.Time
}

// New создает новый Service.
func New(repo Repository, provider ProviderClient, rec Reconciler, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		provider:   provider,
		reconciler: rec,
		log:        log,
		now:        time.Now,
	}
}

// CheckStatus возвращает авторитетный статус сессии по внутреннему id
// либо low-profile id. Никогда не доверяет данным клиента: состояние
// всегда перечитывается из хранилища, а при необходимости — у провайдера.
func (s *Service) CheckStatus(ctx context.Context, sessionID, lowProfileID string) (*Result, error) {
	const op = "status.CheckStatus"
	log := s.log.With(slog.String("op", op))

	var sess *models.PaymentSession
	var err error
	switch {
	case sessionID != "":
		sess, err = s.repo.GetSessionByID(ctx, sessionID)
	case lowProfileID != "":
		sess, err = s.repo.GetSessionByProviderID(ctx, lowProfileID)
	default:
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if sess.IsResolved() {
		return s.resolvedResult(sess), nil
	}
	if sess.IsExpired(s.now()) {
		return &Result{SessionID: sess.ID, Status: models.SessionStatusExpired}, nil
	}

	// Локально сессия не разрешена: webhook мог ещё не дойти.
	// Спрашиваем провайдера напрямую.
	providerResult, err := s.provider.GetLowProfileResult(ctx, sess.ProviderSessionID)
	if err != nil {
		log.Warn("provider status check failed, reporting pending",
			slog.String("session_id", sess.ID))
		return &Result{SessionID: sess.ID, Status: models.SessionStatusPending}, nil
	}
	if providerResult.LowProfileID == "" && providerResult.TranzactionInfo == nil &&
		providerResult.ResponseCode == paymentprovider.ResponseCodeOK {
		// Пустой успешный ответ: провайдер ещё не знает итога.
		return &Result{SessionID: sess.ID, Status: models.SessionStatusPending}, nil
	}

	outcome, err := s.reconciler.Reconcile(ctx, sess, providerResult)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := &Result{
		SessionID: sess.ID,
		Status:    paymentToSessionStatus(outcome.Status),
		Reason:    outcome.Reason,
	}
	if providerResult.TokenInfo != nil {
		res.CardLast4 = providerResult.TokenInfo.CardLastFour
	}
	return res, nil
}

func (s *Service) resolvedResult(sess *models.PaymentSession) *Result {
	return &Result{
		SessionID: sess.ID,
		Status:    sess.Status,
	}
}

func paymentToSessionStatus(paymentStatus string) string {
	if paymentStatus == models.PaymentStatusCompleted {
		return models.SessionStatusCompleted
	}
	return models.SessionStatusFailed
}
