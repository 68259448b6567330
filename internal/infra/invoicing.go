package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// VATRate is the fixed rate already included in every movement's gross amount.
var VATRate = decimal.NewFromFloat(0.21)

// InvoicePayload is sent to the external invoice issuer.
type InvoicePayload struct {
	MovementID    string          `json:"movement_id"`
	StoreID       string          `json:"store_id"`
	Kind          string          `json:"kind"`
	PaymentMethod string          `json:"payment_method"`
	Net           decimal.Decimal `json:"net"`
	VAT           decimal.Decimal `json:"vat"`
	Gross         decimal.Decimal `json:"gross"`
}

// InvoiceResponse is what the issuer returns on success.
type InvoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"number,omitempty"`
}

// ErrIssuerRejected is a 4xx answer from the issuer; retrying will not help.
var ErrIssuerRejected = errors.New("invoice issuer rejected the request")

// SplitVAT derives the display net and VAT parts of a gross amount.
// net + vat == gross always holds after rounding.
func SplitVAT(gross decimal.Decimal) (net, vat decimal.Decimal) {
	net = gross.Div(decimal.NewFromInt(1).Add(VATRate)).Round(2)
	vat = gross.Sub(net)
	return net, vat
}

// InvoiceClient calls the issuer over HTTP behind a circuit breaker so an
// unavailable issuer fails fast instead of tying up workers.
type InvoiceClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewInvoiceClient(baseURL string) *InvoiceClient {
	return &InvoiceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "invoice-issuer",
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// Rejections are the caller's fault, not the issuer's.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrIssuerRejected)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state change")
			},
		}),
	}
}

// State reports the breaker state for /health.
func (c *InvoiceClient) State() string { return c.breaker.State().String() }

// Issue sends the payload to the issuer and returns the issued invoice id.
func (c *InvoiceClient) Issue(ctx context.Context, payload InvoicePayload) (*InvoiceResponse, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.issue(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return out.(*InvoiceResponse), nil
}

func (c *InvoiceClient) issue(ctx context.Context, payload InvoicePayload) (*InvoiceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invoice: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.MovementID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoice: issuer unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", ErrIssuerRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("invoice: issuer returned %d", resp.StatusCode)
	}

	var result InvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invoice: decode response: %w", err)
	}
	if result.InvoiceID == "" {
		return nil, fmt.Errorf("invoice: issuer returned empty invoice id")
	}
	return &result, nil
}
