package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medvault/medvault/internal/platform/auth"
)

func testDocs() []DocumentRef {
	return []DocumentRef{
		{StorageKey: "key-1", FileName: "page1.pdf", ContentType: "application/pdf"},
		{StorageKey: "key-2", FileName: "page2.pdf", ContentType: "application/pdf"},
	}
}

func TestExtract(t *testing.T) {
	var gotAuth string
	var gotReq extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/bills/extract" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		name := "General Hospital"
		amount := 512.40
		json.NewEncoder(w).Encode(DraftBillFields{BillerName: &name, AmountBilled: &amount})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential("sk_test"))
	fields, err := c.Extract(context.Background(), testDocs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("expected bearer credential, got %q", gotAuth)
	}
	if len(gotReq.Documents) != 2 {
		t.Errorf("expected both pages sent, got %d", len(gotReq.Documents))
	}
	if fields.BillerName == nil || *fields.BillerName != "General Hospital" {
		t.Errorf("unexpected biller name %v", fields.BillerName)
	}
	if fields.GuarantorName != nil {
		t.Error("absent fields must stay nil")
	}
}

func TestExtract_EmptyInputFailsBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential(""))
	_, err := c.Extract(context.Background(), nil)
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if called {
		t.Error("empty input must not reach the service")
	}
}

func TestExtract_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential(""))
	_, err := c.Extract(context.Background(), testDocs())
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if exErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", exErr.Status)
	}
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/bills/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Document.StorageKey != "key-1" {
			t.Errorf("unexpected document %+v", req.Document)
		}
		letter := "To whom it may concern..."
		json.NewEncoder(w).Encode(AnalysisReport{
			Summary: "one duplicate charge",
			ErrorsFound: []Finding{
				{Type: "duplicate", Description: "CT scan billed twice", EstimatedOvercharge: 300},
			},
			Totals:            ReportTotals{AmountBilled: 1200, PatientBalance: 400, EstimatedSavings: 300},
			DisputeLetterText: &letter,
			AnalyzedAt:        time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential("sk_test"))
	report, err := c.Analyze(context.Background(), DocumentRef{StorageKey: "key-1", FileName: "page1.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary != "one duplicate charge" || len(report.ErrorsFound) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.DisputeLetterText == nil {
		t.Error("expected dispute letter")
	}
}

func TestAnalyze_RequiresStorageKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential(""))
	_, err := c.Analyze(context.Background(), DocumentRef{FileName: "page1.pdf"})
	var anErr *AnalysisError
	if !errors.As(err, &anErr) {
		t.Fatalf("expected analysis error, got %v", err)
	}
	if called {
		t.Error("a document without a storage key must not reach the service")
	}
}

func TestAnalyze_DefaultsAnalyzedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AnalysisReport{Summary: "all clear"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.StaticCredential(""))
	report, err := c.Analyze(context.Background(), DocumentRef{StorageKey: "key-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AnalyzedAt.IsZero() {
		t.Error("expected analyzed_at defaulted")
	}
}
