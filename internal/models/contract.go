package models

import "time"

// ContractSignature — неизменяемая запись о подписании договора.
// Хранит полный снимок HTML договора, показанного пользователю:
// юридическая запись должна пережить будущие правки шаблона.
// У пользователя может быть несколько записей (переподписание при
// смене плана), авторитетна всегда последняя.
type ContractSignature struct {
	ID              int
	UserUID         string
	PlanID          string
	FullName        string
	IDNumber        string // Номер удостоверения личности
	Email           string
	ContractHTML    string // Снимок текста договора на момент подписания
	SignatureImage  string // Изображение подписи (data-url)
	AgreedTerms     bool   // Согласие с условиями
	AgreedPrivacy   bool   // Согласие с политикой конфиденциальности
	IPAddress       string
	UserAgent       string
	ContractVersion string
	SignedAt        time.Time
}
