package reconciler

import "fmt"

// Коды отказа провайдера, которым соответствует действие пользователя.
var declineReasons = map[int]string{
	33:  "card declined",
	36:  "card expired",
	51:  "insufficient funds",
	57:  "card declined",
	101: "card declined",
	125: "session cancelled by user",
	700: "session expired at provider",
}

// DeclineReason переводит код отказа провайдера в действие для
// пользователя. Описание провайдера сохраняется для диагностики.
func DeclineReason(code int, description string) string {
	if reason, ok := declineReasons[code]; ok {
		return reason
	}
	if description != "" {
		return fmt.Sprintf("payment failed: %s (code %d)", description, code)
	}
	return fmt.Sprintf("payment failed (code %d)", code)
}
