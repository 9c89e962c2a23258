package paygatehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Client — HTTP-клиент платёжного шлюза (эмулятор или настоящий gateway).
// Идемпотентность обеспечивает сам шлюз по заголовку Idempotency-Key.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type gatewayReq struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type gatewayResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) Charge(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	return c.post(ctx, "/v1/charges", idemKey, payerID, amount)
}

func (c *Client) Payout(ctx context.Context, idemKey string, payeeID uuid.UUID, amount decimal.Decimal) (string, error) {
	return c.post(ctx, "/v1/payouts", idemKey, payeeID, amount)
}

func (c *Client) Refund(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	return c.post(ctx, "/v1/refunds", idemKey, payerID, amount)
}

func (c *Client) post(ctx context.Context, path, idemKey string, accountID uuid.UUID, amount decimal.Decimal) (string, error) {
	body, err := json.Marshal(gatewayReq{
		AccountID: accountID.String(),
		Amount:    amount.StringFixed(2),
		Currency:  "EUR",
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal gateway request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("payment gateway http %d", resp.StatusCode)
	}

	var r gatewayResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	// Текст ошибки провайдера наружу не отдаём целиком — только статус.
	if r.Status != "succeeded" {
		return "", fmt.Errorf("payment gateway status=%s", r.Status)
	}
	return r.ID, nil
}
