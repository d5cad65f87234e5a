package models

import "time"

// Статусы подписки.
const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusFailed    = "failed"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription — единственная запись на пользователя, источник истины
// о его праве доступа. Создаётся реконсилятором при первом успешном
// платеже либо гейтом договора (заглушка до первого платежа).
// Никогда не удаляется, отмена — мягкая (CancelledAt).
type Subscription struct {
	UserUID             string     // Уникальный идентификатор пользователя
	PlanType            string     // monthly, annual или vip
	Status              string     // Текущий статус подписки
	TrialEndsAt         *time.Time // Окончание пробного периода
	CurrentPeriodEndsAt *time.Time // Окончание оплаченного периода (nil для vip)
	NextChargeDate      *time.Time // Дата следующего списания
	CardLastFour        string     // Последние 4 цифры карты
	CardExpiry          string     // Срок действия карты (MMYY)
	ProviderToken       string     // Токен платёжного метода у провайдера
	ContractSigned      bool       // Подписан ли договор
	ContractSignedAt    *time.Time
	FailureReason       string     // Причина последней неудачной оплаты
	FailureAt           *time.Time // Время последней неудачной оплаты
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPaymentFailure сообщает о наличии незакрытой неудачной оплаты.
func (s *Subscription) HasPaymentFailure() bool {
	return s.FailureAt != nil
}
