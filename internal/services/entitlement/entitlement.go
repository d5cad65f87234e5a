// Package entitlement отдаёт снимок права доступа пользователя для
// маршрутных гвардов и UI, кешируя его ненадолго в Redis, а также
// выполняет мягкую отмену подписки. Любая мутация подписки проходит
// через инвалидацию кеша.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/subscription"
)

const cacheTTL = time.Minute

// Repository описывает операции хранилища подписок и журнала платежей.
type Repository interface {
	GetSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error)
	CancelSubscription(ctx context.Context, userUID string, cancelledAt time.Time) (bool, error)
	ListPaymentRecords(ctx context.Context, userUID string, limit, offset int) ([]*models.PaymentRecord, error)
}

// Cache описывает методы для кэширования снимков.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует выдачу снимков права доступа.
type Service struct {
	repo      Repository
	cache     Cache
	graceDays int
	log       *slog.Logger
	now       func() time.Time
}

// New создает новый Service.
func New(repo Repository, cache Cache, graceDays int, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		graceDays: graceDays,
		log:       log,
		now:       time.Now,
	}
}

// GetEntitlement возвращает снимок права доступа пользователя.
// Снимок кешируется на минуту; авторитетное состояние всегда в базе.
func (s *Service) GetEntitlement(ctx context.Context, userUID string) (*subscription.Entitlement, error) {
	const op = "entitlement.GetEntitlement"

	cacheKey := "entitlement:" + userUID
	var cached subscription.Entitlement
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("entitlement cache read failed", sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, ok, err := s.repo.GetSubscription(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		sub = nil
	}
	ent := subscription.ComputeStatus(sub, s.now(), s.graceDays)

	if err := s.cache.Set(cacheKey, ent, cacheTTL); err != nil {
		s.log.Warn("failed to cache entitlement", slog.String("key", cacheKey), sl.Err(err))
	}
	return &ent, nil
}

// Cancel мягко отменяет подписку пользователя. Право доступа
// сохраняется до конца оплаченного периода.
func (s *Service) Cancel(ctx context.Context, userUID string) error {
	const op = "entitlement.Cancel"

	cancelled, err := s.repo.CancelSubscription(ctx, userUID, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !cancelled {
		return fmt.Errorf("%s: %w", op, models.ErrSubscriptionNotFound)
	}

	if err := s.cache.Invalidate("entitlement:" + userUID); err != nil {
		s.log.Warn("failed to invalidate entitlement cache", sl.Err(err))
	}
	s.log.Info("subscription cancelled", slog.String("user_uid", userUID))
	return nil
}

// ListPayments возвращает журнал платежей пользователя.
func (s *Service) ListPayments(ctx context.Context, userUID string, limit, offset int) ([]*models.PaymentRecord, error) {
	return s.repo.ListPaymentRecords(ctx, userUID, limit, offset)
}
