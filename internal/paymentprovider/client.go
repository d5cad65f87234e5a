// Package paymentprovider реализует клиент low-profile API платёжного
// провайдера: открытие hosted-платёжной страницы и запрос итога сессии.
// Провайдер — внешняя система, все вызовы ограничены таймаутом.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tradervault/billing-engine/internal/config"
	"github.com/tradervault/billing-engine/internal/models"
)

// Client клиент low-profile API провайдера.
type Client struct {
	apiURL         string
	terminalNumber string
	apiName        string
	apiPassword    string
	httpClient     *http.Client
}

// NewClient создаёт новый клиент провайдера с настройками из конфига.
func NewClient(cfg config.PaymentProvider) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiURL:         cfg.APIURL,
		terminalNumber: cfg.TerminalNumber,
		apiName:        cfg.APIName,
		apiPassword:    cfg.APIPassword,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", models.ErrProviderUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrProviderUnavailable, err)
	}
	return nil
}

// CreateLowProfile открывает low-profile сессию и возвращает URL
// платёжной страницы. Реквизиты терминала подставляются из конфига.
func (c *Client) CreateLowProfile(ctx context.Context, req CreateLowProfileRequest) (*CreateLowProfileResponse, error) {
	const op = "paymentprovider.CreateLowProfile"

	req.TerminalNumber = c.terminalNumber
	req.APIName = c.apiName

	var resp CreateLowProfileResponse
	if err := c.post(ctx, "/api/v11/LowProfile/Create", req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resp, nil
}

// GetLowProfileResult запрашивает у провайдера итог сессии по её
// low-profile id. Используется поллером статуса, когда локальная
// запись ещё не разрешена.
func (c *Client) GetLowProfileResult(ctx context.Context, lowProfileID string) (*LowProfileResult, error) {
	const op = "paymentprovider.GetLowProfileResult"

	body := map[string]string{
		"TerminalNumber": c.terminalNumber,
		"ApiName":        c.apiName,
		"ApiPassword":    c.apiPassword,
		"LowProfileId":   lowProfileID,
	}
	var resp LowProfileResult
	if err := c.post(ctx, "/api/v11/LowProfile/GetLpResult", body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &resp, nil
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}
