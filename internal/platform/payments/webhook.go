package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Payment-Signature"

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrBadPayload   = errors.New("webhook payload malformed")
)

// CaptureEvent is the processor's out-of-band notification that an intent
// was captured. Recording the corresponding payment is the caller's job.
type CaptureEvent struct {
	Type          string    `json:"type"`
	BillID        string    `json:"bill_id"`
	Amount        float64   `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	CapturedAt    time.Time `json:"captured_at"`
}

// VerifyAndParse checks the webhook signature against the shared secret and
// decodes the capture event.
func VerifyAndParse(body []byte, signature string, secret []byte) (*CaptureEvent, error) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	got, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrBadSignature
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return nil, ErrBadSignature
	}

	var evt CaptureEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, ErrBadPayload
	}
	if evt.BillID == "" || evt.Amount <= 0 {
		return nil, ErrBadPayload
	}
	return &evt, nil
}

// Sign computes the signature for a webhook body. Used by tests and by the
// sandbox processor emulator.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
