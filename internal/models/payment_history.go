package models

import "time"

// Статусы записей журнала платежей.
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// PaymentRecord — строка журнала платежей. Журнал append-only: одна
// строка на разрешённую попытку (успех или отказ), записи не меняются.
// Служит для аудита и для поиска расхождений сервисом восстановления.
type PaymentRecord struct {
	ID            int
	UserUID       string
	SessionID     string // Внутренний идентификатор платёжной сессии
	TransactionID string // Идентификатор транзакции провайдера
	PlanID        string
	Amount        int
	Status        string // completed или failed
	Reason        string // Причина отказа (пусто при успехе)
	CreatedAt     time.Time
}
