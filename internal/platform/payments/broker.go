// Package payments brokers payment intents with the external payment
// processor. The broker only obtains authorization tokens; it never writes
// the bill ledger. Captures are observed through the processor's webhook and
// recorded by the workflow layer.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/platform/auth"
)

// PaymentError reports a failed intent creation. No partial state exists on
// failure; the caller may retry with the same or a different amount.
type PaymentError struct {
	Status int
	Msg    string
	Err    error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment intent failed: %v", e.Err)
	}
	return fmt.Sprintf("payment intent failed (status %d): %s", e.Status, e.Msg)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Intent is an authorization token for a specific amount. It becomes a
// recorded payment only after the processor confirms capture.
type Intent struct {
	ClientSecret string  `json:"client_secret"`
	Amount       float64 `json:"amount"`
}

// Broker requests payment authorizations from the processor.
type Broker interface {
	CreateIntent(ctx context.Context, billID uuid.UUID, amount float64) (*Intent, error)
}

// HTTPBroker is the production Broker backed by the processor's REST API.
type HTTPBroker struct {
	baseURL string
	http    *http.Client
	creds   auth.CredentialProvider
}

func NewHTTPBroker(baseURL string, creds auth.CredentialProvider) *HTTPBroker {
	return &HTTPBroker{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		creds:   creds,
	}
}

type intentRequest struct {
	BillID string  `json:"bill_id"`
	Amount float64 `json:"amount"`
}

// CreateIntent requests an authorization for the given amount. The amount
// must be positive but is deliberately not clamped to the bill's remaining
// balance: overpaying or paying a negotiated settlement is the user's call.
func (b *HTTPBroker) CreateIntent(ctx context.Context, billID uuid.UUID, amount float64) (*Intent, error) {
	if amount <= 0 {
		return nil, &PaymentError{Msg: "amount must be greater than zero"}
	}

	payload, err := json.Marshal(intentRequest{BillID: billID.String(), Amount: amount})
	if err != nil {
		return nil, &PaymentError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/payment-intents", bytes.NewReader(payload))
	if err != nil {
		return nil, &PaymentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := b.creds.Token(ctx)
	if err != nil {
		return nil, &PaymentError{Err: fmt.Errorf("credentials: %w", err)}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, &PaymentError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &PaymentError{Status: resp.StatusCode, Msg: string(msg)}
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, &PaymentError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &intent, nil
}
