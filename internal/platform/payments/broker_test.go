package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/platform/auth"
)

func TestCreateIntent(t *testing.T) {
	billID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment-intents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("expected bearer credential, got %q", got)
		}
		var req intentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.BillID != billID.String() || req.Amount != 150 {
			t.Errorf("unexpected request %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Intent{ClientSecret: "cs_test_123", Amount: req.Amount})
	}))
	defer srv.Close()

	b := NewHTTPBroker(srv.URL, auth.StaticCredential("sk_test"))
	intent, err := b.CreateIntent(context.Background(), billID, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ClientSecret != "cs_test_123" || intent.Amount != 150 {
		t.Errorf("unexpected intent %+v", intent)
	}
}

func TestCreateIntent_NonPositiveAmountFailsBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	b := NewHTTPBroker(srv.URL, auth.StaticCredential(""))
	for _, amount := range []float64{0, -25} {
		_, err := b.CreateIntent(context.Background(), uuid.New(), amount)
		var payErr *PaymentError
		if !errors.As(err, &payErr) {
			t.Fatalf("amount %v: expected payment error, got %v", amount, err)
		}
	}
	if called {
		t.Error("non-positive amounts must not reach the processor")
	}
}

func TestCreateIntent_ProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "card declined", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	b := NewHTTPBroker(srv.URL, auth.StaticCredential(""))
	_, err := b.CreateIntent(context.Background(), uuid.New(), 50)
	var payErr *PaymentError
	if !errors.As(err, &payErr) {
		t.Fatalf("expected payment error, got %v", err)
	}
	if payErr.Status != http.StatusPaymentRequired {
		t.Errorf("expected status 402, got %d", payErr.Status)
	}
}
