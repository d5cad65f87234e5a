package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradervault/billing-engine/internal/models"
)

const sessionColumns = `id, provider_session_id, user_uid, anonymous_key, plan_id, amount,
	operation, status, return_value, email, full_name, payment_url, transaction_id,
	provider_payload, created_at, expires_at, resolved_at`

// CreateSession вставляет новую платёжную сессию.
func (s *Storage) CreateSession(ctx context.Context, sess models.PaymentSession) error {
	const op = "storage.CreateSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payment_sessions (id, provider_session_id, user_uid, anonymous_key,
		      plan_id, amount, operation, status, return_value, email, full_name,
		      payment_url, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.DB.ExecContext(ctx, query,
		sess.ID, nullString(sess.ProviderSessionID), nullString(sess.UserUID),
		nullString(sess.AnonymousKey), sess.PlanID, sess.Amount, sess.Operation,
		sess.Status, sess.ReturnValue, sess.Email, sess.FullName, sess.PaymentURL,
		sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindOutstandingSession ищет неразрешённую и непросроченную сессию
// владельца (uid пользователя либо анонимный ключ) по плану. Нужна для
// идемпотентного создания сессий: повторный клик возвращает ту же сессию.
func (s *Storage) FindOutstandingSession(ctx context.Context, ownerKey, planID string, now time.Time) (*models.PaymentSession, bool, error) {
	const op = "storage.FindOutstandingSession"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + sessionColumns + `
			  FROM payment_sessions
			  WHERE (user_uid = $1 OR anonymous_key = $1)
			    AND plan_id = $2
			    AND status IN ('initiated', 'pending')
			    AND expires_at > $3
			  ORDER BY created_at DESC
			  LIMIT 1`
	sess, err := s.scanSession(s.DB.QueryRowContext(ctx, query, ownerKey, planID, now))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sess, true, nil
}

// GetSessionByID возвращает сессию по внутреннему идентификатору.
func (s *Storage) GetSessionByID(ctx context.Context, id string) (*models.PaymentSession, error) {
	const op = "storage.GetSessionByID"
	return s.getSession(ctx, op, `id = $1`, id)
}

// GetSessionByProviderID возвращает сессию по low-profile id провайдера.
func (s *Storage) GetSessionByProviderID(ctx context.Context, lowProfileID string) (*models.PaymentSession, error) {
	const op = "storage.GetSessionByProviderID"
	return s.getSession(ctx, op, `provider_session_id = $1`, lowProfileID)
}

// GetSessionByReturnValue возвращает сессию по корреляционному токену.
func (s *Storage) GetSessionByReturnValue(ctx context.Context, returnValue string) (*models.PaymentSession, error) {
	const op = "storage.GetSessionByReturnValue"
	return s.getSession(ctx, op, `return_value = $1`, returnValue)
}

func (s *Storage) getSession(ctx context.Context, op, where string, arg any) (*models.PaymentSession, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE ` + where
	sess, err := s.scanSession(s.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// ResolveSession переводит сессию в терминальный статус. Условие
// "status IN ('initiated','pending')" — сериализующий примитив: из двух
// конкурентных доставок одного webhook выиграет ровно одна, вторая
// получит resolved=false и вернёт прежний результат.
func (s *Storage) ResolveSession(ctx context.Context, id, status, transactionID string, payload []byte, resolvedAt time.Time) (bool, error) {
	const op = "storage.ResolveSession"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payment_sessions
			  SET status = $1, transaction_id = $2, provider_payload = $3, resolved_at = $4
			  WHERE id = $5 AND status IN ('initiated', 'pending')`
	result, err := s.DB.ExecContext(ctx, query,
		status, nullString(transactionID), payload, resolvedAt, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// AttachSessionUser проставляет uid пользователя у сессии, созданной
// до появления учётной записи. Используется сервисом восстановления.
func (s *Storage) AttachSessionUser(ctx context.Context, id, userUID string) error {
	const op = "storage.AttachSessionUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payment_sessions SET user_uid = $1 WHERE id = $2`
	if _, err := s.DB.ExecContext(ctx, query, userUID, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) scanSession(row *sql.Row) (*models.PaymentSession, error) {
	var sess models.PaymentSession
	var providerSessionID, userUID, anonymousKey, transactionID sql.NullString
	var payload []byte
	var resolvedAt sql.NullTime

	if err := row.Scan(&sess.ID, &providerSessionID, &userUID, &anonymousKey,
		&sess.PlanID, &sess.Amount, &sess.Operation, &sess.Status, &sess.ReturnValue,
		&sess.Email, &sess.FullName, &sess.PaymentURL, &transactionID, &payload,
		&sess.CreatedAt, &sess.ExpiresAt, &resolvedAt); err != nil {
		return nil, err
	}

	sess.ProviderSessionID = providerSessionID.String
	sess.UserUID = userUID.String
	sess.AnonymousKey = anonymousKey.String
	sess.TransactionID = transactionID.String
	sess.ProviderPayload = payload
	if resolvedAt.Valid {
		sess.ResolvedAt = &resolvedAt.Time
	}
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
