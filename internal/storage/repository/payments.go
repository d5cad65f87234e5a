package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tradervault/billing-engine/internal/models"
)

// InsertPaymentRecord добавляет строку в журнал платежей. Журнал
// append-only; уникальный индекс (session_id, transaction_id) — второй
// рубеж идемпотентности: повторная вставка того же результата молча
// пропускается, возвращается (0, false).
func (s *Storage) InsertPaymentRecord(ctx context.Context, rec models.PaymentRecord) (int, bool, error) {
	const op = "storage.InsertPaymentRecord"
	select {
	case <-ctx.Done():
		return 0, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payment_history (user_uid, session_id, transaction_id,
		      plan_id, amount, status, reason, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			  ON CONFLICT (session_id, transaction_id) DO NOTHING
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		rec.UserUID, rec.SessionID, rec.TransactionID, rec.PlanID,
		rec.Amount, rec.Status, nullString(rec.Reason)).Scan(&newID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return newID, true, nil
}

// ListPaymentRecords возвращает журнал платежей пользователя с пагинацией.
func (s *Storage) ListPaymentRecords(ctx context.Context, userUID string, limit, offset int) ([]*models.PaymentRecord, error) {
	const op = "storage.ListPaymentRecords"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, session_id, transaction_id, plan_id, amount,
		      status, COALESCE(reason, ''), created_at
			  FROM payment_history
			  WHERE user_uid = $1
			  ORDER BY created_at DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.PaymentRecord
	for rows.Next() {
		var rec models.PaymentRecord
		if err := rows.Scan(&rec.ID, &rec.UserUID, &rec.SessionID, &rec.TransactionID,
			&rec.PlanID, &rec.Amount, &rec.Status, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountPaymentRecords считает строки журнала по сессии. Используется
// сервисом восстановления для поиска расхождений "платёж прошёл, а
// подписка не обновлена".
func (s *Storage) CountPaymentRecords(ctx context.Context, sessionID string) (int, error) {
	const op = "storage.CountPaymentRecords"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var count int
	query := `SELECT COUNT(*) FROM payment_history WHERE session_id = $1`
	if err := s.DB.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
