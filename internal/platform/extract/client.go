// Package extract holds the clients for the external document-understanding
// services: extraction (staged pages -> structured bill fields) and analysis
// (one document -> itemized error/overcharge findings).
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medvault/medvault/internal/platform/auth"
)

// DocumentRef points the service at a previously uploaded document.
type DocumentRef struct {
	StorageKey  string `json:"storage_key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
}

// DraftBillFields is the sparse extraction result. A nil field means the
// service could not confidently read it; callers must preserve whatever value
// they already hold for that field.
type DraftBillFields struct {
	BillerName       *string `json:"biller_name,omitempty"`
	BillerAddress    *string `json:"biller_address,omitempty"`
	BillerPhone      *string `json:"biller_phone,omitempty"`
	BillerWebsite    *string `json:"biller_website,omitempty"`
	PaymentPortalURL *string `json:"payment_portal_url,omitempty"`

	GuarantorName *string `json:"guarantor_name,omitempty"`
	GuarantorID   *string `json:"guarantor_id,omitempty"`
	PortalCode    *string `json:"portal_code,omitempty"`

	ServiceDate   *string `json:"service_date,omitempty"`
	ReceivedDate  *string `json:"received_date,omitempty"`
	StatementDate *string `json:"statement_date,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`

	AmountBilled          *float64 `json:"amount_billed,omitempty"`
	InsurancePaid         *float64 `json:"insurance_paid,omitempty"`
	InsuranceAdjusted     *float64 `json:"insurance_adjusted,omitempty"`
	PatientResponsibility *float64 `json:"patient_responsibility,omitempty"`

	Notes *string `json:"notes,omitempty"`
}

// ExtractionError reports a failed extraction call. Staged documents are
// preserved by the caller; the user may retry.
type ExtractionError struct {
	Status int
	Msg    string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %v", e.Err)
	}
	return fmt.Sprintf("extraction failed (status %d): %s", e.Status, e.Msg)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Client talks to the extraction/analysis service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	creds   auth.CredentialProvider
}

func NewClient(baseURL string, creds auth.CredentialProvider) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
		creds:   creds,
	}
}

type extractRequest struct {
	Documents []DocumentRef `json:"documents"`
}

// Extract submits all staged documents as pages of one bill and returns the
// fields the service could read. Input must be non-empty.
func (c *Client) Extract(ctx context.Context, docs []DocumentRef) (*DraftBillFields, error) {
	if len(docs) == 0 {
		return nil, &ExtractionError{Msg: "at least one document is required"}
	}

	var fields DraftBillFields
	if err := c.post(ctx, "/v1/bills/extract", extractRequest{Documents: docs}, &fields); err != nil {
		if ee, ok := err.(*ExtractionError); ok {
			return nil, ee
		}
		return nil, &ExtractionError{Err: err}
	}
	return &fields, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ExtractionError{Status: resp.StatusCode, Msg: string(msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
