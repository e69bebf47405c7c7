// Package provider is the thin client for the external payment provider.
// The ledger only needs two capabilities from it: submit a request and get a
// provider reference back. Everything else arrives later through webhooks.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeddlyf/EyyBack/internal/config"
)

// TopUpRequest is the provider's answer to an invoice creation: where the
// user pays and the provider-side id the confirmation webhook will carry.
type TopUpRequest struct {
	ProviderID string
	PaymentURL string
}

// Payout is the provider's answer to a disbursement request.
type Payout struct {
	ProviderID  string
	ReferenceID string
}

// BankAccount is the payout destination.
type BankAccount struct {
	BankCode          string `json:"bank_code"`
	AccountNumber     string `json:"account_number"`
	AccountHolderName string `json:"account_holder_name"`
}

// Client is the engine's view of the provider.
type Client interface {
	CreateTopUpRequest(ctx context.Context, referenceID string, amount decimal.Decimal, currency, payerEmail string) (*TopUpRequest, error)
	CreatePayout(ctx context.Context, referenceID string, amount decimal.Decimal, bank BankAccount) (*Payout, error)
}

// HTTPClient talks to a Xendit-style REST API. Every call is bounded by the
// configured timeout; a timed-out call must look to the engine exactly like a
// failed one, so the engine can leave the wallet untouched.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	log     *zap.SugaredLogger
}

func NewHTTPClient(cfg config.ProviderConfig, log *zap.SugaredLogger) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Timeout: cfg.Timeout()},
		log:     log,
	}
}

type invoiceResponse struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

// CreateTopUpRequest opens an invoice the user can pay. The ledger's
// reference id travels as the provider's external_id so callbacks can be
// matched either way.
func (c *HTTPClient) CreateTopUpRequest(ctx context.Context, referenceID string, amount decimal.Decimal, currency, payerEmail string) (*TopUpRequest, error) {
	body := map[string]interface{}{
		"external_id": referenceID,
		"amount":      amount,
		"currency":    currency,
		"payer_email": payerEmail,
	}
	var resp invoiceResponse
	if err := c.post(ctx, "/v2/invoices", body, &resp); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &TopUpRequest{ProviderID: resp.ID, PaymentURL: resp.InvoiceURL}, nil
}

type payoutResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
}

// CreatePayout submits a disbursement. The uuid idempotency header keeps a
// retried HTTP call from creating two payouts on the provider side.
func (c *HTTPClient) CreatePayout(ctx context.Context, referenceID string, amount decimal.Decimal, bank BankAccount) (*Payout, error) {
	body := map[string]interface{}{
		"external_id":         referenceID,
		"amount":              amount,
		"bank_code":           bank.BankCode,
		"account_number":      bank.AccountNumber,
		"account_holder_name": bank.AccountHolderName,
	}
	var resp payoutResponse
	if err := c.post(ctx, "/v2/payouts", body, &resp); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	return &Payout{ProviderID: resp.ID, ReferenceID: resp.ExternalID}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IDEMPOTENCY-KEY", uuid.NewString())
	req.SetBasicAuth(c.apiKey, "")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.Debugf("provider %s %d %s", path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
