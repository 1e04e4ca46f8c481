package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Finding is one billing error identified by the analysis service.
type Finding struct {
	Type                string  `json:"type"`
	Description         string  `json:"description"`
	EstimatedOvercharge float64 `json:"estimated_overcharge"`
}

// ReportTotals are the reviewed amounts in an analysis report.
type ReportTotals struct {
	AmountBilled            float64 `json:"amount_billed"`
	InsurancePaid           float64 `json:"insurance_paid"`
	Adjustments             float64 `json:"adjustments"`
	FairPriceTotal          float64 `json:"fair_price_total"`
	PatientBalance          float64 `json:"patient_balance"`
	EstimatedSavings        float64 `json:"estimated_savings"`
	RecommendedPatientOffer float64 `json:"recommended_patient_offer"`
}

// AnalysisReport is the full result of analyzing one document.
type AnalysisReport struct {
	Summary           string       `json:"summary"`
	ErrorsFound       []Finding    `json:"errors_found"`
	Totals            ReportTotals `json:"totals"`
	DisputeLetterText *string      `json:"dispute_letter_text,omitempty"`
	AnalyzedAt        time.Time    `json:"analyzed_at"`
}

// AnalysisError reports a failed analysis. Analysis failures are non-fatal
// to the rest of the workflow; callers continue with a nil report.
type AnalysisError struct {
	Status int
	Msg    string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %v", e.Err)
	}
	return fmt.Sprintf("analysis failed (status %d): %s", e.Status, e.Msg)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

type analyzeRequest struct {
	Document DocumentRef `json:"document"`
}

// Analyze reviews a single document for billing errors and overcharges. The
// document must already have a durable storage key; a missing key is a
// precondition failure reported before any network call.
func (c *Client) Analyze(ctx context.Context, doc DocumentRef) (*AnalysisReport, error) {
	if doc.StorageKey == "" {
		return nil, &AnalysisError{Msg: "document has no storage key"}
	}

	payload, err := json.Marshal(analyzeRequest{Document: doc})
	if err != nil {
		return nil, &AnalysisError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/bills/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, &AnalysisError{Err: fmt.Errorf("credentials: %w", err)}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AnalysisError{Status: resp.StatusCode, Msg: string(msg)}
	}

	var report AnalysisReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, &AnalysisError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if report.AnalyzedAt.IsZero() {
		report.AnalyzedAt = time.Now().UTC()
	}
	return &report, nil
}
