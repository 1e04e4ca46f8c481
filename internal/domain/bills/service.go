package bills

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/platform/blobstore"
)

var validStatuses = map[string]bool{
	StatusUnpaid: true, StatusPartiallyPaid: true, StatusPaid: true,
	StatusDisputed: true, StatusInReview: true, StatusResolved: true,
}

var validMethods = map[string]bool{
	MethodCash: true, MethodCheck: true, MethodCreditCard: true,
	MethodDebitCard: true, MethodBankTransfer: true, MethodOnlinePortal: true,
	MethodMoneyOrder: true, MethodStripe: true, MethodOther: true,
}

// Service is the bill ledger: it owns validation and the derived-balance
// rules, and delegates persistence to a BillRepository. Stored-bytes cleanup
// on document removal is best-effort and never fails the ledger operation.
type Service struct {
	bills  BillRepository
	blobs  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo BillRepository, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{bills: repo, blobs: blobs, logger: logger}
}

// Create validates and persists a new bill together with any documents and
// analysis snapshot already attached to it. Validation failures happen before
// any write.
func (s *Service) Create(ctx context.Context, b *Bill) error {
	if err := validateBill(b); err != nil {
		return err
	}
	if b.OwnerID == uuid.Nil {
		return &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	for _, p := range b.Payments {
		if err := validatePayment(p); err != nil {
			return err
		}
	}
	if err := s.bills.Create(ctx, b); err != nil {
		return &PersistenceError{Op: "create bill", Err: err}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return s.bills.ListByOwner(ctx, ownerID, limit, offset)
}

// UpdateInput carries a partial update. Each top-level field group present is
// replaced as a whole sub-object; absent groups are left untouched. This
// matches the draft-form model, which edits a group at a time.
type UpdateInput struct {
	Biller  *Biller  `json:"biller,omitempty"`
	Account *Account `json:"account,omitempty"`
	Totals  *Totals  `json:"totals,omitempty"`

	ServiceDate   *time.Time `json:"service_date,omitempty"`
	ReceivedDate  *time.Time `json:"received_date,omitempty"`
	StatementDate *time.Time `json:"statement_date,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`

	FamilyMemberID *uuid.UUID `json:"family_member_id,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Biller != nil {
		b.Biller = *in.Biller
	}
	if in.Account != nil {
		b.Account = *in.Account
	}
	if in.Totals != nil {
		b.Totals = *in.Totals
	}
	if in.ServiceDate != nil {
		b.ServiceDate = in.ServiceDate
	}
	if in.ReceivedDate != nil {
		b.ReceivedDate = in.ReceivedDate
	}
	if in.StatementDate != nil {
		b.StatementDate = in.StatementDate
	}
	if in.DueDate != nil {
		b.DueDate = in.DueDate
	}
	if in.FamilyMemberID != nil {
		b.FamilyMemberID = in.FamilyMemberID
	}
	if in.Status != nil {
		b.Status = *in.Status
	}
	if in.Notes != nil {
		b.Notes = in.Notes
	}
	if err := validateBill(b); err != nil {
		return nil, err
	}
	if err := s.bills.Update(ctx, b); err != nil {
		return nil, &PersistenceError{Op: "update bill", Err: err}
	}
	return b, nil
}

// Delete removes the bill and all child records, then attempts to release the
// stored bytes of each document. Storage cleanup failures are logged, never
// surfaced; the ledger is the source of truth.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.bills.Delete(ctx, id); err != nil {
		return &PersistenceError{Op: "delete bill", Err: err}
	}
	for _, d := range b.Documents {
		s.deleteBlob(ctx, d.StorageKey)
	}
	return nil
}

func (s *Service) AddDocument(ctx context.Context, d *BillDocument) error {
	if d.BillID == uuid.Nil {
		return &ValidationError{Field: "bill_id", Reason: "is required"}
	}
	if d.FileName == "" {
		return &ValidationError{Field: "file_name", Reason: "is required"}
	}
	if d.StorageKey == "" {
		return &ValidationError{Field: "storage_key", Reason: "is required"}
	}
	if err := s.bills.AddDocument(ctx, d); err != nil {
		return &PersistenceError{Op: "add document", Err: err}
	}
	return nil
}

// GetDocument returns a single document attached to the bill.
func (s *Service) GetDocument(ctx context.Context, billID, docID uuid.UUID) (*BillDocument, error) {
	return s.bills.GetDocument(ctx, billID, docID)
}

// RemoveDocument removes the document record and then requests deletion of
// the underlying stored bytes. The ledger removal succeeds even when the
// bytes deletion fails.
func (s *Service) RemoveDocument(ctx context.Context, billID, docID uuid.UUID) error {
	d, err := s.bills.GetDocument(ctx, billID, docID)
	if err != nil {
		return err
	}
	if err := s.bills.RemoveDocument(ctx, billID, docID); err != nil {
		return &PersistenceError{Op: "remove document", Err: err}
	}
	s.deleteBlob(ctx, d.StorageKey)
	return nil
}

func (s *Service) AddPayment(ctx context.Context, p *Payment) error {
	if p.BillID == uuid.Nil {
		return &ValidationError{Field: "bill_id", Reason: "is required"}
	}
	if err := validatePayment(p); err != nil {
		return err
	}
	if p.Date.IsZero() {
		p.Date = time.Now().UTC()
	}
	if err := s.bills.AddPayment(ctx, p); err != nil {
		return &PersistenceError{Op: "add payment", Err: err}
	}
	return nil
}

// RemovePayment hard-deletes a payment. The only downstream effect is the
// derived remaining balance; no other bill field is touched.
func (s *Service) RemovePayment(ctx context.Context, billID, paymentID uuid.UUID) error {
	if err := s.bills.RemovePayment(ctx, billID, paymentID); err != nil {
		return &PersistenceError{Op: "remove payment", Err: err}
	}
	return nil
}

// SetAnalysis replaces the bill's analysis snapshot wholesale.
func (s *Service) SetAnalysis(ctx context.Context, a *AiAnalysisSnapshot) error {
	if a.BillID == uuid.Nil {
		return &ValidationError{Field: "bill_id", Reason: "is required"}
	}
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now().UTC()
	}
	if err := s.bills.SetAnalysis(ctx, a); err != nil {
		return &PersistenceError{Op: "set analysis", Err: err}
	}
	return nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("storage_key", key).Msg("blob cleanup failed")
	}
}

func validateBill(b *Bill) error {
	if b.Biller.Name == "" {
		return &ValidationError{Field: "biller.name", Reason: "is required"}
	}
	b.Totals.Coerce()
	if b.Totals.AmountBilled < 0 || b.Totals.InsurancePaid < 0 ||
		b.Totals.InsuranceAdjusted < 0 || b.Totals.PatientResponsibility < 0 {
		return &ValidationError{Field: "totals", Reason: "amounts must be non-negative"}
	}
	if b.Status == "" {
		b.Status = StatusUnpaid
	}
	if !validStatuses[b.Status] {
		return &ValidationError{Field: "status", Reason: "invalid status: " + b.Status}
	}
	return nil
}

func validatePayment(p *Payment) error {
	if p.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if p.Method == "" {
		p.Method = MethodOther
	}
	if !validMethods[p.Method] {
		return &ValidationError{Field: "method", Reason: "invalid method: " + p.Method}
	}
	return nil
}
