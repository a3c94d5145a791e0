package billing

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/squadbasehq/squadbase/internal/pkg/env"
)

const defaultAbacateAPIBaseURL = "https://api.abacatepay.com/v1"

// Provider billing statuses as reported by AbacatePay.
const (
	AbacateStatusPending   = "PENDING"
	AbacateStatusPaid      = "PAID"
	AbacateStatusExpired   = "EXPIRED"
	AbacateStatusCancelled = "CANCELLED"
	AbacateStatusRefunded  = "REFUNDED"
)

// Provider is the payment-provider surface the orchestrator and
// reconciliation code depend on. AbacateClient is the real implementation;
// tests substitute a fake.
type Provider interface {
	CreateCustomer(ctx context.Context, params AbacateCustomerParams) (string, error)
	CreateBilling(ctx context.Context, params AbacateBillingParams) (*AbacateBilling, error)
	ListBillings(ctx context.Context) ([]AbacateBilling, error)
}

// AbacateCustomerParams are the billing profile fields AbacatePay requires
// to create a customer.
type AbacateCustomerParams struct {
	Name      string
	Cellphone string
	TaxID     string
	Email     string
}

// AbacateBillingParams describe one billing to create.
type AbacateBillingParams struct {
	Frequency     string // ONE_TIME or MULTIPLE_PAYMENTS
	CustomerID    string
	ExternalID    string // local idempotency key
	ProductName   string
	AmountCents   int64
	ReturnURL     string
	CompletionURL string
}

// AbacateBilling is the provider's view of a billing.
type AbacateBilling struct {
	ID              string
	URL             string
	Status          string
	AmountCents     int64
	PaidAmountCents int64
	Currency        string
	ExternalID      string
}

type AbacateClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewAbacateClientFromEnv() *AbacateClient {
	return &AbacateClient{
		APIKey:     strings.TrimSpace(env.GetEnv("ABACATEPAY_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("ABACATEPAY_API_BASE_URL", defaultAbacateAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type abacateEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type abacateProductJSON struct {
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price"`
}

type abacateBillingJSON struct {
	ID         string               `json:"id"`
	URL        string               `json:"url"`
	Amount     int64                `json:"amount"`
	PaidAmount int64                `json:"paidAmount"`
	Status     string               `json:"status"`
	Frequency  string               `json:"frequency"`
	Products   []abacateProductJSON `json:"products"`
}

func (b abacateBillingJSON) toBilling() AbacateBilling {
	out := AbacateBilling{
		ID:              b.ID,
		URL:             b.URL,
		Status:          strings.ToUpper(strings.TrimSpace(b.Status)),
		AmountCents:     b.Amount,
		PaidAmountCents: b.PaidAmount,
		Currency:        "BRL",
	}
	if len(b.Products) > 0 {
		out.ExternalID = b.Products[0].ExternalID
	}
	return out
}

func (c *AbacateClient) doJSON(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("ABACATEPAY_API_KEY is not configured")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("abacatepay %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	var envl abacateEnvelope
	if err := json.Unmarshal(raw, &envl); err != nil {
		return nil, fmt.Errorf("abacatepay %s %s returned invalid json: %w", method, path, err)
	}
	if envl.Error != "" {
		return nil, fmt.Errorf("abacatepay %s %s returned error: %s", method, path, envl.Error)
	}
	return envl.Data, nil
}

// CreateCustomer provisions a provider customer and returns its id.
func (c *AbacateClient) CreateCustomer(ctx context.Context, params AbacateCustomerParams) (string, error) {
	payload := map[string]string{
		"name":      strings.TrimSpace(params.Name),
		"cellphone": strings.TrimSpace(params.Cellphone),
		"taxId":     strings.TrimSpace(params.TaxID),
		"email":     strings.TrimSpace(params.Email),
	}

	data, err := c.doJSON(ctx, http.MethodPost, "/customer/create", payload)
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("abacatepay customer create returned empty id")
	}
	return out.ID, nil
}

// CreateBilling creates a billing and returns the provider's id, url and
// status.
func (c *AbacateClient) CreateBilling(ctx context.Context, params AbacateBillingParams) (*AbacateBilling, error) {
	frequency := params.Frequency
	if frequency == "" {
		frequency = "ONE_TIME"
	}

	payload := map[string]any{
		"frequency":  frequency,
		"methods":    []string{"PIX"},
		"customerId": params.CustomerID,
		"products": []abacateProductJSON{
			{
				ExternalID: params.ExternalID,
				Name:       params.ProductName,
				Quantity:   1,
				Price:      params.AmountCents,
			},
		},
		"returnUrl":     params.ReturnURL,
		"completionUrl": params.CompletionURL,
	}

	data, err := c.doJSON(ctx, http.MethodPost, "/billing/create", payload)
	if err != nil {
		return nil, err
	}

	var out abacateBillingJSON
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("abacatepay billing create returned empty id")
	}
	billing := out.toBilling()
	return &billing, nil
}

// ListBillings returns all billings visible to the API key. AbacatePay has
// no billing-by-id endpoint; reconciliation filters the list locally.
func (c *AbacateClient) ListBillings(ctx context.Context) ([]AbacateBilling, error) {
	data, err := c.doJSON(ctx, http.MethodGet, "/billing/list", nil)
	if err != nil {
		return nil, err
	}

	var raw []abacateBillingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make([]AbacateBilling, 0, len(raw))
	for _, b := range raw {
		out = append(out, b.toBilling())
	}
	return out, nil
}

// VerifyWebhookSecret compares the secret AbacatePay appends to webhook
// deliveries against the configured one in constant time.
func VerifyWebhookSecret(provided, expected string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
