package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradervault/billing-engine/internal/models"
)

const subscriptionColumns = `user_uid, plan_type, status, trial_ends_at,
	current_period_ends_at, next_charge_date, card_last_four, card_expiry,
	provider_token, contract_signed, contract_signed_at, failure_reason,
	failure_at, cancelled_at, created_at, updated_at`

// GetSubscription возвращает подписку пользователя. Второе значение —
// признак наличия записи: отсутствие подписки не является ошибкой.
func (s *Storage) GetSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error) {
	const op = "storage.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_uid = $1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var sub models.Subscription
	var trialEndsAt, periodEndsAt, nextCharge, signedAt, failureAt, cancelledAt sql.NullTime
	var cardLastFour, cardExpiry, providerToken, failureReason sql.NullString

	if err := row.Scan(&sub.UserUID, &sub.PlanType, &sub.Status, &trialEndsAt,
		&periodEndsAt, &nextCharge, &cardLastFour, &cardExpiry, &providerToken,
		&sub.ContractSigned, &signedAt, &failureReason, &failureAt, &cancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	sub.CardLastFour = cardLastFour.String
	sub.CardExpiry = cardExpiry.String
	sub.ProviderToken = providerToken.String
	sub.FailureReason = failureReason.String
	if trialEndsAt.Valid {
		sub.TrialEndsAt = &trialEndsAt.Time
	}
	if periodEndsAt.Valid {
		sub.CurrentPeriodEndsAt = &periodEndsAt.Time
	}
	if nextCharge.Valid {
		sub.NextChargeDate = &nextCharge.Time
	}
	if signedAt.Valid {
		sub.ContractSignedAt = &signedAt.Time
	}
	if failureAt.Valid {
		sub.FailureAt = &failureAt.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	return &sub, true, nil
}

// UpsertPaymentMethod сохраняет платёжный метод (токен и реквизиты
// карты). Если подписки ещё нет, создаётся запись со статусом trial:
// токенизация финансирует будущие списания и сама по себе не активирует
// подписку.
func (s *Storage) UpsertPaymentMethod(ctx context.Context, userUID, planType, token, lastFour, expiry string, trialEndsAt time.Time) error {
	const op = "storage.UpsertPaymentMethod"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, plan_type, status, trial_ends_at,
		      provider_token, card_last_four, card_expiry, created_at, updated_at)
			  VALUES ($1, $2, 'trial', $3, $4, $5, $6, NOW(), NOW())
			  ON CONFLICT (user_uid) DO UPDATE
			  SET provider_token = EXCLUDED.provider_token,
			      card_last_four = EXCLUDED.card_last_four,
			      card_expiry = EXCLUDED.card_expiry,
			      updated_at = NOW()`
	if _, err := s.DB.ExecContext(ctx, query,
		userUID, planType, trialEndsAt, token, lastFour, expiry); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ActivateSubscription переводит подписку в статус active после
// успешного списания, сдвигает окончание периода и очищает отметку
// о неудачной оплате. Создаёт запись при первом платеже пользователя.
func (s *Storage) ActivateSubscription(ctx context.Context, userUID, planType string, periodEndsAt, nextChargeDate *time.Time) error {
	const op = "storage.ActivateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, plan_type, status,
		      current_period_ends_at, next_charge_date, created_at, updated_at)
			  VALUES ($1, $2, 'active', $3, $4, NOW(), NOW())
			  ON CONFLICT (user_uid) DO UPDATE
			  SET plan_type = EXCLUDED.plan_type,
			      status = 'active',
			      current_period_ends_at = EXCLUDED.current_period_ends_at,
			      next_charge_date = EXCLUDED.next_charge_date,
			      failure_reason = NULL,
			      failure_at = NULL,
			      updated_at = NOW()`
	if _, err := s.DB.ExecContext(ctx, query,
		userUID, planType, periodEndsAt, nextChargeDate); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordPaymentFailure отмечает неудачную оплату. Окончание текущего
// периода не трогаем: льготный период считается от него, ранняя неудача
// не должна украсть оплаченный остаток.
func (s *Storage) RecordPaymentFailure(ctx context.Context, userUID, reason string, failedAt time.Time) (bool, error) {
	const op = "storage.RecordPaymentFailure"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'failed', failure_reason = $1, failure_at = $2, updated_at = NOW()
			  WHERE user_uid = $3 AND status IN ('trial', 'active', 'failed')`
	result, err := s.DB.ExecContext(ctx, query, reason, failedAt, userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// SetContractSigned фиксирует подписание договора. Для пользователей,
// подписавших договор до первого платежа, создаётся запись-заглушка.
func (s *Storage) SetContractSigned(ctx context.Context, userUID, planType string, signedAt time.Time) error {
	const op = "storage.SetContractSigned"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, plan_type, status, contract_signed,
		      contract_signed_at, created_at, updated_at)
			  VALUES ($1, $2, 'trial', TRUE, $3, NOW(), NOW())
			  ON CONFLICT (user_uid) DO UPDATE
			  SET contract_signed = TRUE,
			      contract_signed_at = EXCLUDED.contract_signed_at,
			      updated_at = NOW()`
	if _, err := s.DB.ExecContext(ctx, query, userUID, planType, signedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CancelSubscription мягко отменяет подписку. Право доступа сохраняется
// до конца оплаченного периода, запись не удаляется.
func (s *Storage) CancelSubscription(ctx context.Context, userUID string, cancelledAt time.Time) (bool, error) {
	const op = "storage.CancelSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'cancelled', cancelled_at = $1, updated_at = NOW()
			  WHERE user_uid = $2 AND status NOT IN ('cancelled', 'expired')`
	result, err := s.DB.ExecContext(ctx, query, cancelledAt, userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}
