package paymentprovider

// ResponseCodeOK — единственный код успеха провайдера. Все остальные
// коды трактуются как отказ, описание сохраняется для диагностики.
const ResponseCodeOK = 0

// CreateLowProfileRequest — запрос на открытие hosted-платёжной
// страницы (low-profile сессии) у провайдера.
type CreateLowProfileRequest struct {
	TerminalNumber string `json:"TerminalNumber"`
	APIName        string `json:"ApiName"`
	Operation      string `json:"Operation"`
	Amount         int    `json:"Amount"`
	ProductName    string `json:"ProductName"`
	ReturnValue    string `json:"ReturnValue"`
	SuccessURL     string `json:"SuccessRedirectUrl"`
	FailedURL      string `json:"FailedRedirectUrl"`
	WebHookURL     string `json:"WebHookUrl"`
	Language       string `json:"Language,omitempty"`
}

// CreateLowProfileResponse — ответ провайдера на открытие сессии.
type CreateLowProfileResponse struct {
	ResponseCode int    `json:"ResponseCode"`
	Description  string `json:"Description"`
	LowProfileID string `json:"LowProfileId"`
	URL          string `json:"Url"`
}

// TokenInfo — данные сохранённого платёжного метода. Сырой номер
// карты в систему не попадает, только токен и последние 4 цифры.
type TokenInfo struct {
	Token          string `json:"Token"`
	CardLastFour   string `json:"CardLast4Digits"`
	TokenExpiry    string `json:"TokenExDate"`
	CardOwnerEmail string `json:"CardOwnerEmail,omitempty"`
}

// TranzactionInfo — данные проведённой транзакции.
type TranzactionInfo struct {
	TranzactionID int64  `json:"TranzactionId"`
	Amount        int    `json:"Amount"`
	CardLastFour  string `json:"Last4CardDigits"`
	CardExpiry    string `json:"CardValidityDate"`
}

// LowProfileResult — итог low-profile сессии. Та же структура приходит
// в webhook-уведомлении и возвращается методом GetLowProfileResult.
type LowProfileResult struct {
	ResponseCode    int              `json:"ResponseCode"`
	Description     string           `json:"Description"`
	LowProfileID    string           `json:"LowProfileId"`
	ReturnValue     string           `json:"ReturnValue"`
	Operation       string           `json:"Operation"`
	TokenInfo       *TokenInfo       `json:"TokenInfo,omitempty"`
	TranzactionInfo *TranzactionInfo `json:"TranzactionInfo,omitempty"`
}

// Succeeded сообщает, что провайдер счёл операцию успешной.
func (r *LowProfileResult) Succeeded() bool {
	return r.ResponseCode == ResponseCodeOK
}

// TransactionID возвращает строковый идентификатор транзакции либо
// пустую строку, когда транзакции не было (например, токенизация).
func (r *LowProfileResult) TransactionID() string {
	if r.TranzactionInfo == nil || r.TranzactionInfo.TranzactionID == 0 {
		return ""
	}
	return formatInt64(r.TranzactionInfo.TranzactionID)
}
