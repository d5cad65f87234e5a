// Package subscription содержит чистую машину состояний подписки.
// ComputeStatus не делает I/O и вычисляет внешне видимый статус из
// сохранённых дат и флагов, поэтому одна и та же логика вызывается из
// HTTP-обработчиков, middleware контроля доступа и batch-восстановления
// без дублирования ветвлений.
package subscription

import (
	"time"

	"github.com/tradervault/billing-engine/internal/models"
)

// DefaultGracePeriodDays — льготный период после неудачного списания,
// в течение которого право доступа сохраняется.
const DefaultGracePeriodDays = 7

// Entitlement — снимок права доступа пользователя на момент времени.
type Entitlement struct {
	Status                string `json:"status"`                  // Производный статус подписки
	IsActive              bool   `json:"is_active"`               // Есть ли право доступа сейчас
	RequiresPaymentUpdate bool   `json:"requires_payment_update"` // Нужно ли обновить платёжные данные
	GraceDaysRemaining    int    `json:"grace_days_remaining"`    // Остаток дней до конца льготного периода
	ContractSigned        bool   `json:"contract_signed"`         // Подписан ли договор
}

// ComputeStatus вычисляет право доступа по записи подписки.
// Неподписанный договор блокирует доступ независимо от статуса оплаты.
// Неудачная оплата даёт льготный период, отсчитываемый от конца
// оплаченного периода, а не от момента неудачи: ранняя неудача не
// крадёт оплаченный остаток. У vip-плана окончания периода нет.
func ComputeStatus(sub *models.Subscription, now time.Time, graceDays int) Entitlement {
	if graceDays <= 0 {
		graceDays = DefaultGracePeriodDays
	}
	if sub == nil {
		return Entitlement{Status: models.SubscriptionStatusExpired}
	}

	ent := Entitlement{
		Status:         sub.Status,
		ContractSigned: sub.ContractSigned,
	}

	switch sub.Status {
	case models.SubscriptionStatusTrial:
		ent.IsActive = sub.TrialEndsAt != nil && now.Before(*sub.TrialEndsAt)
		if !ent.IsActive {
			ent.Status = models.SubscriptionStatusExpired
		}

	case models.SubscriptionStatusActive, models.SubscriptionStatusFailed:
		if sub.HasPaymentFailure() {
			ent.RequiresPaymentUpdate = true
			deadline := graceDeadline(sub, graceDays)
			if deadline == nil {
				// vip без окончания периода: неудача регулярного
				// списания невозможна, доступ сохраняется.
				ent.IsActive = true
				break
			}
			ent.IsActive = now.Before(*deadline)
			if ent.IsActive {
				ent.GraceDaysRemaining = daysUntil(now, *deadline)
			} else {
				ent.Status = models.SubscriptionStatusExpired
			}
			break
		}
		if sub.PlanType == models.PlanTypeVIP || sub.CurrentPeriodEndsAt == nil {
			ent.IsActive = true
			break
		}
		ent.IsActive = now.Before(*sub.CurrentPeriodEndsAt)
		if !ent.IsActive {
			ent.Status = models.SubscriptionStatusExpired
		}

	case models.SubscriptionStatusCancelled:
		// Отменённая подписка сохраняет доступ до конца оплаченного периода.
		ent.IsActive = sub.CurrentPeriodEndsAt != nil && now.Before(*sub.CurrentPeriodEndsAt)

	case models.SubscriptionStatusExpired:
		ent.IsActive = false
	}

	// Неподписанный договор — абсолютный блокировщик доступа.
	if !sub.ContractSigned {
		ent.IsActive = false
	}
	return ent
}

// graceDeadline возвращает момент окончания льготного периода:
// конец оплаченного периода плюс graceDays. Если периода нет, но есть
// пробный, льгота считается от конца пробного периода.
func graceDeadline(sub *models.Subscription, graceDays int) *time.Time {
	base := sub.CurrentPeriodEndsAt
	if base == nil {
		base = sub.TrialEndsAt
	}
	if base == nil {
		return nil
	}
	d := base.AddDate(0, 0, graceDays)
	return &d
}

// daysUntil возвращает число оставшихся дней, округляя вверх:
// неполный день считается целым.
func daysUntil(now, deadline time.Time) int {
	diff := deadline.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}
