package bills

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
)

func newTestHandler() (*Handler, *echo.Echo) {
	repo := newMockBillRepo()
	blobs := blobstore.NewInMemoryStore()
	svc := NewService(repo, blobs, zerolog.Nop())
	return NewHandler(svc, blobs), echo.New()
}

func authedContext(e *echo.Echo, req *http.Request, owner uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	auth.SetUserID(c, owner)
	return c, rec
}

func TestHandler_CreateBill(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	body := `{"biller":{"name":"General Hospital"},"totals":{"patient_responsibility":120}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := authedContext(e, req, owner)

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OwnerID != owner {
		t.Error("expected owner taken from the authenticated identity")
	}
}

func TestHandler_CreateBill_MissingBiller(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, _ := authedContext(e, req, uuid.New())

	err := h.CreateBill(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetBill_OtherOwnerHidden(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c, _ := authedContext(e, req, uuid.New()) // different user
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.GetBill(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign bill, got %v", err)
	}
}

func TestHandler_UpdateBill(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := `{"status":"disputed"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.UpdateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusDisputed {
		t.Errorf("expected status disputed, got %s", got.Status)
	}
}

func TestHandler_ListBills(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		if err := h.svc.Create(context.Background(), newBill(owner)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := h.svc.Create(context.Background(), newBill(uuid.New())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c, rec := authedContext(e, req, owner)

	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected 3 owned bills, got %d", resp.Total)
	}
}

func multipartFile(t *testing.T, field, name, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + name + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHandler_AddDocument(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf, ctype := multipartFile(t, "file", "page1.pdf", "application/pdf", []byte("pdf bytes"))
	req := httptest.NewRequest(http.MethodPost, "/", buf)
	req.Header.Set(echo.HeaderContentType, ctype)
	c, rec := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.AddDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var doc BillDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.StorageKey == "" {
		t.Error("expected a storage key from the upload")
	}
}

func TestHandler_AddDocument_RejectsUnsupportedType(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf, ctype := multipartFile(t, "file", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/", buf)
	req.Header.Set(echo.HeaderContentType, ctype)
	c, _ := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.AddDocument(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %v", err)
	}
}

func TestHandler_AddPayment(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := `{"amount":75.25,"method":"credit_card"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.AddPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_AddPayment_ZeroAmount(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, _ := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.AddPayment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %v", err)
	}
}

func TestHandler_DeleteBill(t *testing.T) {
	h, e := newTestHandler()
	owner := uuid.New()
	b := newBill(owner)
	if err := h.svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	c, rec := authedContext(e, req, owner)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.DeleteBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
