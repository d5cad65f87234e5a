package models

// Типы тарифных планов.
const (
	PlanTypeMonthly = "monthly"
	PlanTypeAnnual  = "annual"
	PlanTypeVIP     = "vip"
)

// Plan описывает тарифный план: сумму первого платежа, операцию у
// провайдера и длину оплачиваемого периода. Пробные планы списывают 0
// и только токенизируют карту — списания начнутся после пробного периода.
type Plan struct {
	ID            string // Идентификатор плана
	Type          string // Тип: monthly, annual, vip
	Name          string // Название, отображаемое на платёжной странице
	Price         int    // Сумма первого платежа
	Operation     string // Операция у провайдера
	TrialDays     int    // Длина пробного периода (0 — без пробного периода)
	PeriodMonths  int    // Длина оплачиваемого периода в месяцах (0 — бессрочно)
	RecurringCost int    // Сумма регулярного списания
}

// HasPeriodEnd сообщает, ограничен ли оплаченный период по времени.
// У vip-плана окончания периода нет: разовый платёж даёт доступ навсегда.
func (p Plan) HasPeriodEnd() bool {
	return p.PeriodMonths > 0
}

var plans = map[string]Plan{
	"monthly": {
		ID:            "monthly",
		Type:          PlanTypeMonthly,
		Name:          "Trading Journal Monthly",
		Price:         0,
		Operation:     OperationCreateTokenOnly,
		TrialDays:     14,
		PeriodMonths:  1,
		RecurringCost: 337,
	},
	"annual": {
		ID:            "annual",
		Type:          PlanTypeAnnual,
		Name:          "Trading Journal Annual",
		Price:         3371,
		Operation:     OperationChargeAndCreateToken,
		PeriodMonths:  12,
		RecurringCost: 3371,
	},
	"vip": {
		ID:        "vip",
		Type:      PlanTypeVIP,
		Name:      "Trading Journal VIP Lifetime",
		Price:     8900,
		Operation: OperationChargeOnly,
	},
}

// PlanByID возвращает план по идентификатору.
func PlanByID(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}
