package models

import (
	"encoding/json"
	"time"
)

// Причины, с которыми событие остаётся необработанным.
const (
	WebhookReasonUnmatched       = "unmatched"
	WebhookReasonReconcileFailed = "reconcile failed"
)

// WebhookEvent — строка журнала входящих уведомлений провайдера.
// Каждое уведомление сохраняется с сырым телом независимо от того,
// удалось ли вывести из него изменение подписки: именно это делает
// возможным повторную обработку после исправления ошибки.
type WebhookEvent struct {
	ID            int64
	LowProfileID  string          // Low-profile id из тела уведомления
	ReturnValue   string          // Корреляционный токен из тела уведомления
	RawPayload    json.RawMessage // Сырое тело уведомления
	Processed     bool
	ProcessReason string // Причина, если Processed=false, либо итог обработки
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}
