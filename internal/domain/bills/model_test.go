package bills

import (
	"math"
	"testing"
)

func TestRemaining(t *testing.T) {
	b := &Bill{
		Totals: Totals{PatientResponsibility: 250},
		Payments: []*Payment{
			{Amount: 100},
			{Amount: 50},
		},
	}
	if got := b.Remaining(); got != 100 {
		t.Errorf("expected remaining 100, got %v", got)
	}
}

func TestRemaining_NeverNegative(t *testing.T) {
	b := &Bill{
		Totals:   Totals{PatientResponsibility: 100},
		Payments: []*Payment{{Amount: 150}},
	}
	if got := b.Remaining(); got != 0 {
		t.Errorf("expected remaining clamped to 0, got %v", got)
	}
}

func TestRemaining_NoPayments(t *testing.T) {
	b := &Bill{Totals: Totals{PatientResponsibility: 42.50}}
	if got := b.Remaining(); got != 42.50 {
		t.Errorf("expected remaining 42.50, got %v", got)
	}
}

func TestTotalsCoerce(t *testing.T) {
	tt := Totals{
		AmountBilled:          math.NaN(),
		InsurancePaid:         math.Inf(1),
		InsuranceAdjusted:     math.Inf(-1),
		PatientResponsibility: 120,
	}
	tt.Coerce()
	if tt.AmountBilled != 0 || tt.InsurancePaid != 0 || tt.InsuranceAdjusted != 0 {
		t.Errorf("expected non-finite totals coerced to 0, got %+v", tt)
	}
	if tt.PatientResponsibility != 120 {
		t.Errorf("finite value must survive coercion, got %v", tt.PatientResponsibility)
	}
}
