// Package models содержит доменные структуры платёжного цикла:
// платёжные сессии, подписки, журнал платежей, подписанные договоры
// и журнал входящих webhook-уведомлений провайдера.
package models

import (
	"encoding/json"
	"time"
)

// Возможные операции платёжной сессии у провайдера.
const (
	OperationChargeOnly           = "ChargeOnly"           // Только списание
	OperationCreateTokenOnly      = "CreateTokenOnly"      // Только токенизация карты
	OperationChargeAndCreateToken = "ChargeAndCreateToken" // Списание с сохранением токена
)

// Статусы платёжной сессии.
const (
	SessionStatusInitiated = "initiated"
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
	SessionStatusExpired   = "expired"
)

// SessionTTL — время жизни неразрешённой платёжной сессии.
const SessionTTL = 30 * time.Minute

// PaymentSession представляет одну попытку списания или токенизации карты.
// ProviderSessionID (low-profile id) присваивается провайдером и пуст,
// пока провайдер не ответил. UserUID может быть пустым: сессия может
// начаться до создания учётной записи, тогда заполняется AnonymousKey.
type PaymentSession struct {
	ID                string          // Внутренний идентификатор сессии
	ProviderSessionID string          // Low-profile id провайдера
	UserUID           string          // Идентификатор пользователя (может быть пустым)
	AnonymousKey      string          // Ключ анонимного посетителя (может быть пустым)
	PlanID            string          // Идентификатор тарифного плана
	Amount            int             // Сумма списания
	Operation         string          // Операция у провайдера
	Status            string          // Текущий статус сессии
	ReturnValue       string          // Корреляционный токен, прокидываемый через провайдера
	Email             string          // Контактный email плательщика
	FullName          string          // Имя плательщика
	PaymentURL        string          // URL платёжной страницы провайдера
	TransactionID     string          // Идентификатор транзакции провайдера (после разрешения)
	ProviderPayload   json.RawMessage // Последний сырой ответ провайдера
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ResolvedAt        *time.Time
}

// IsResolved сообщает, что сессия уже разрешена и повторная
// реконсиляция по ней должна быть no-op.
func (s *PaymentSession) IsResolved() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// IsExpired сообщает, что срок жизни сессии истёк.
func (s *PaymentSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DedupKey возвращает ключ владельца сессии: uid пользователя либо
// анонимный ключ. Используется при поиске незавершённой сессии.
func (s *PaymentSession) DedupKey() string {
	if s.UserUID != "" {
		return s.UserUID
	}
	return s.AnonymousKey
}
