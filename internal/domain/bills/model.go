package bills

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Bill statuses. Status is advisory metadata chosen by the user or workflow;
// it is never derived from the payment math (a bill can be marked paid while
// a written-off remainder is still outstanding).
const (
	StatusUnpaid        = "unpaid"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusDisputed      = "disputed"
	StatusInReview      = "in_review"
	StatusResolved      = "resolved"
)

// Payment methods.
const (
	MethodCash         = "cash"
	MethodCheck        = "check"
	MethodCreditCard   = "credit_card"
	MethodDebitCard    = "debit_card"
	MethodBankTransfer = "bank_transfer"
	MethodOnlinePortal = "online_portal"
	MethodMoneyOrder   = "money_order"
	MethodStripe       = "stripe"
	MethodOther        = "other"
)

// Biller identifies who issued the bill. Name is the only required field.
type Biller struct {
	Name             string  `db:"biller_name" json:"name"`
	Address          *string `db:"biller_address" json:"address,omitempty"`
	Phone            *string `db:"biller_phone" json:"phone,omitempty"`
	Website          *string `db:"biller_website" json:"website,omitempty"`
	PaymentPortalURL *string `db:"payment_portal_url" json:"payment_portal_url,omitempty"`
}

// Account holds free-text account identifiers from the statement.
type Account struct {
	GuarantorName *string `db:"guarantor_name" json:"guarantor_name,omitempty"`
	GuarantorID   *string `db:"guarantor_id" json:"guarantor_id,omitempty"`
	PortalCode    *string `db:"portal_code" json:"portal_code,omitempty"`
}

// Totals are the statement amounts. All values are non-negative; absent
// values default to zero on save.
type Totals struct {
	AmountBilled          float64 `db:"amount_billed" json:"amount_billed"`
	InsurancePaid         float64 `db:"insurance_paid" json:"insurance_paid"`
	InsuranceAdjusted     float64 `db:"insurance_adjusted" json:"insurance_adjusted"`
	PatientResponsibility float64 `db:"patient_responsibility" json:"patient_responsibility"`
}

// Coerce replaces NaN and infinite values with zero.
func (t *Totals) Coerce() {
	t.AmountBilled = coerceAmount(t.AmountBilled)
	t.InsurancePaid = coerceAmount(t.InsurancePaid)
	t.InsuranceAdjusted = coerceAmount(t.InsuranceAdjusted)
	t.PatientResponsibility = coerceAmount(t.PatientResponsibility)
}

func coerceAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Bill is the aggregate root for one medical statement and its lifecycle.
type Bill struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OwnerID        uuid.UUID  `db:"owner_id" json:"owner_id"`
	FamilyMemberID *uuid.UUID `db:"family_member_id" json:"family_member_id,omitempty"`

	Biller  Biller  `json:"biller"`
	Account Account `json:"account"`

	ServiceDate   *time.Time `db:"service_date" json:"service_date,omitempty"`
	ReceivedDate  *time.Time `db:"received_date" json:"received_date,omitempty"`
	StatementDate *time.Time `db:"statement_date" json:"statement_date,omitempty"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`

	Totals Totals  `json:"totals"`
	Status string  `db:"status" json:"status"`
	Notes  *string `db:"notes" json:"notes,omitempty"`

	Documents []*BillDocument     `json:"documents"`
	Payments  []*Payment          `json:"payments"`
	Analysis  *AiAnalysisSnapshot `json:"analysis,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Remaining is the derived outstanding balance: patient responsibility minus
// recorded payments, floored at zero.
func (b *Bill) Remaining() float64 {
	var paid float64
	for _, p := range b.Payments {
		paid += p.Amount
	}
	r := b.Totals.PatientResponsibility - paid
	if r < 0 {
		return 0
	}
	return r
}

// BillDocument is a persisted scanned page owned by exactly one bill. The
// storage key is immutable once set.
type BillDocument struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BillID      uuid.UUID `db:"bill_id" json:"bill_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size" json:"size"`
	StorageKey  string    `db:"storage_key" json:"storage_key"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// Payment is one recorded payment against a bill, entered manually or via a
// completed payment-intent capture.
type Payment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BillID      uuid.UUID `db:"bill_id" json:"bill_id"`
	Amount      float64   `db:"amount" json:"amount"`
	Date        time.Time `db:"date" json:"date"`
	Method      string    `db:"method" json:"method"`
	Reference   *string   `db:"reference" json:"reference,omitempty"`
	IntentTxnID *string   `db:"intent_txn_id" json:"intent_txn_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ErrorFinding is one itemized billing error or overcharge from analysis.
type ErrorFinding struct {
	Type                string  `json:"type"`
	Description         string  `json:"description"`
	EstimatedOvercharge float64 `json:"estimated_overcharge"`
}

// AnalysisTotals are the reviewed amounts from the analysis service.
type AnalysisTotals struct {
	AmountBilled            float64 `json:"amount_billed"`
	InsurancePaid           float64 `json:"insurance_paid"`
	Adjustments             float64 `json:"adjustments"`
	FairPriceTotal          float64 `json:"fair_price_total"`
	PatientBalance          float64 `json:"patient_balance"`
	EstimatedSavings        float64 `json:"estimated_savings"`
	RecommendedPatientOffer float64 `json:"recommended_patient_offer"`
}

// AiAnalysisSnapshot is the most recent analysis result for a bill. A new
// analysis replaces the snapshot wholesale; finding lists are never merged
// across runs.
type AiAnalysisSnapshot struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	BillID        uuid.UUID      `db:"bill_id" json:"bill_id"`
	Summary       string         `db:"summary" json:"summary"`
	Findings      []ErrorFinding `json:"findings"`
	Totals        AnalysisTotals `json:"totals"`
	DisputeLetter *string        `db:"dispute_letter" json:"dispute_letter,omitempty"`
	AnalyzedAt    time.Time      `db:"analyzed_at" json:"analyzed_at"`
}
