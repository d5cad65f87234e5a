package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tradervault/billing-engine/internal/models"
)

// InsertWebhookEvent безусловно сохраняет входящее уведомление
// провайдера с сырым телом. Это единственная операция вебхука, отказ
// которой отдаётся провайдеру как ошибка: потерять уведомление молча —
// недопустимый режим отказа.
func (s *Storage) InsertWebhookEvent(ctx context.Context, lowProfileID, returnValue string, raw []byte) (int64, error) {
	const op = "storage.InsertWebhookEvent"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO webhook_events (low_profile_id, return_value, raw_payload,
		      processed, received_at)
			  VALUES ($1, $2, $3, FALSE, NOW())
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		nullString(lowProfileID), nullString(returnValue), raw).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// MarkWebhookEvent выставляет итог обработки события.
func (s *Storage) MarkWebhookEvent(ctx context.Context, id int64, processed bool, reason string, at time.Time) error {
	const op = "storage.MarkWebhookEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE webhook_events
			  SET processed = $1, process_reason = $2, processed_at = $3
			  WHERE id = $4`
	if _, err := s.DB.ExecContext(ctx, query, processed, reason, at, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListUnprocessedWebhookEvents возвращает необработанные события в
// порядке получения. Непустой lowProfileID сужает выборку до одной
// low-profile сессии.
func (s *Storage) ListUnprocessedWebhookEvents(ctx context.Context, lowProfileID string) ([]*models.WebhookEvent, error) {
	const op = "storage.ListUnprocessedWebhookEvents"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, COALESCE(low_profile_id, ''), COALESCE(return_value, ''),
		      raw_payload, processed, COALESCE(process_reason, ''), received_at, processed_at
			  FROM webhook_events
			  WHERE processed = FALSE
			    AND ($1 = '' OR low_profile_id = $1)
			  ORDER BY received_at`
	rows, err := s.DB.QueryContext(ctx, query, lowProfileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.WebhookEvent
	for rows.Next() {
		var ev models.WebhookEvent
		var processedAt *time.Time
		if err := rows.Scan(&ev.ID, &ev.LowProfileID, &ev.ReturnValue, &ev.RawPayload,
			&ev.Processed, &ev.ProcessReason, &ev.ReceivedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.ProcessedAt = processedAt
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
