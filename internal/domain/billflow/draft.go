package billflow

import (
	"time"

	"github.com/medvault/medvault/internal/domain/bills"
	"github.com/medvault/medvault/internal/platform/extract"
)

// Draft is the editable in-session bill before it is committed to the
// ledger. Extraction results merge into it; user edits replace it wholesale
// through the draft endpoint.
type Draft struct {
	Biller        bills.Biller  `json:"biller"`
	Account       bills.Account `json:"account"`
	ServiceDate   *time.Time    `json:"service_date,omitempty"`
	ReceivedDate  *time.Time    `json:"received_date,omitempty"`
	StatementDate *time.Time    `json:"statement_date,omitempty"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	Totals        bills.Totals  `json:"totals"`
	Status        string        `json:"status,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
}

// Merge applies extracted fields onto the draft. Only fields the extractor
// returned overwrite; absent fields keep whatever the draft already holds,
// so a partial extraction never erases user input.
func (d *Draft) Merge(f *extract.DraftBillFields) {
	if f == nil {
		return
	}
	if f.BillerName != nil {
		d.Biller.Name = *f.BillerName
	}
	if f.BillerAddress != nil {
		d.Biller.Address = f.BillerAddress
	}
	if f.BillerPhone != nil {
		d.Biller.Phone = f.BillerPhone
	}
	if f.BillerWebsite != nil {
		d.Biller.Website = f.BillerWebsite
	}
	if f.PaymentPortalURL != nil {
		d.Biller.PaymentPortalURL = f.PaymentPortalURL
	}
	if f.GuarantorName != nil {
		d.Account.GuarantorName = f.GuarantorName
	}
	if f.GuarantorID != nil {
		d.Account.GuarantorID = f.GuarantorID
	}
	if f.PortalCode != nil {
		d.Account.PortalCode = f.PortalCode
	}
	if t := parseDate(f.ServiceDate); t != nil {
		d.ServiceDate = t
	}
	if t := parseDate(f.ReceivedDate); t != nil {
		d.ReceivedDate = t
	}
	if t := parseDate(f.StatementDate); t != nil {
		d.StatementDate = t
	}
	if t := parseDate(f.DueDate); t != nil {
		d.DueDate = t
	}
	if f.AmountBilled != nil {
		d.Totals.AmountBilled = *f.AmountBilled
	}
	if f.InsurancePaid != nil {
		d.Totals.InsurancePaid = *f.InsurancePaid
	}
	if f.InsuranceAdjusted != nil {
		d.Totals.InsuranceAdjusted = *f.InsuranceAdjusted
	}
	if f.PatientResponsibility != nil {
		d.Totals.PatientResponsibility = *f.PatientResponsibility
	}
	if f.Notes != nil {
		d.Notes = f.Notes
	}
	d.Totals.Coerce()
}

// parseDate accepts the extractor's date strings. Unparseable values are
// dropped rather than failing the whole merge.
func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}
