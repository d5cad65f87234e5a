package models

import "errors"

// Ошибки платёжного цикла. Все слои сравнивают их через errors.Is,
// HTTP-обработчики переводят в пользовательские сообщения и коды.
var (
	// ErrProviderUnavailable — сеть/таймаут при обращении к провайдеру.
	// Повтор — ответственность вызывающей стороны, не этого сервиса.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrSessionExpired — TTL сессии истёк, платёж нужно начать заново.
	ErrSessionExpired = errors.New("payment session expired")
	// ErrSessionNotFound — сессия не найдена по корреляционным данным.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrDuplicateReconciliation — повторная доставка уже применённого
	// результата. Безобидна: логируется, наружу не отдаётся.
	ErrDuplicateReconciliation = errors.New("duplicate reconciliation")
	// ErrContractNotSigned — отказ контроля доступа, а не ошибка платежа.
	ErrContractNotSigned = errors.New("contract not signed")
	// ErrConsentRequired — не проставлены оба обязательных согласия.
	ErrConsentRequired = errors.New("both consents are required")
	// ErrUnknownPlan — запрошен неизвестный тарифный план.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrSubscriptionNotFound — у пользователя нет записи подписки.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrUserNotResolved — email не удалось сопоставить пользователю.
	ErrUserNotResolved = errors.New("user not resolved by email")
)
