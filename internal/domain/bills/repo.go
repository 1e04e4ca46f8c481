package bills

import (
	"context"

	"github.com/google/uuid"
)

// BillRepository is the persistence contract for the bill aggregate. Each
// call is individually atomic; there is no batch/transaction primitive and no
// optimistic locking — a bill is single-owner and single-session in practice,
// and callers re-fetch after out-of-band mutations.
type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error)

	AddDocument(ctx context.Context, d *BillDocument) error
	GetDocument(ctx context.Context, billID, docID uuid.UUID) (*BillDocument, error)
	RemoveDocument(ctx context.Context, billID, docID uuid.UUID) error

	AddPayment(ctx context.Context, p *Payment) error
	RemovePayment(ctx context.Context, billID, paymentID uuid.UUID) error

	SetAnalysis(ctx context.Context, a *AiAnalysisSnapshot) error
}
