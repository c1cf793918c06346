package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestDeriveObligationStatus(t *testing.T) {
	cases := []struct {
		name        string
		finalAmount string
		amountPaid  string
		want        string
	}{
		{"nothing paid", "100", "0", ObligationStatusPending},
		{"partially paid", "100", "40", ObligationStatusPartial},
		{"exactly paid", "100", "100", ObligationStatusPaid},
		{"overpaid", "100", "120", ObligationStatusPaid},
		{"zero final amount", "0", "0", ObligationStatusPaid},
		{"sub-cent remainder", "100.00", "99.99", ObligationStatusPartial},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveObligationStatus(dec(tc.finalAmount), dec(tc.amountPaid))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecompute_ClampsBalanceAtZero(t *testing.T) {
	o := &Obligation{
		OriginalAmount: dec("100"),
		AmountPaid:     dec("120"),
	}
	o.Recompute()

	assert.True(t, o.Balance.IsZero())
	assert.Equal(t, ObligationStatusPaid, o.Status)
}

func TestRecompute_ClearsOverdueWhenPaid(t *testing.T) {
	o := &Obligation{
		OriginalAmount: dec("100"),
		AmountPaid:     dec("100"),
		IsOverdue:      true,
		OverdueDays:    12,
	}
	o.Recompute()

	assert.False(t, o.IsOverdue)
	assert.Equal(t, 0, o.OverdueDays)
}

func TestApplyPayment(t *testing.T) {
	o := &Obligation{
		OriginalAmount: dec("500"),
		DiscountAmount: dec("100"),
	}
	o.Recompute()
	assert.True(t, o.Balance.Equal(dec("400")))

	paidAt := date(2026, time.January, 15)
	o.ApplyPayment(dec("150"), paidAt)

	assert.True(t, o.AmountPaid.Equal(dec("150")))
	assert.True(t, o.Balance.Equal(dec("250")))
	assert.Equal(t, ObligationStatusPartial, o.Status)
	assert.Equal(t, paidAt, *o.LastPaymentDate)
}

func TestApplyDiscount_WithinBalance(t *testing.T) {
	o := &Obligation{OriginalAmount: dec("1000")}
	o.Recompute()

	excess := o.ApplyDiscount(dec("300"))

	assert.True(t, excess.IsZero())
	assert.True(t, o.FinalAmount.Equal(dec("700")))
	assert.True(t, o.Balance.Equal(dec("700")))
}

func TestApplyDiscount_ExceedsRemainder(t *testing.T) {
	o := &Obligation{
		OriginalAmount: dec("1000"),
		AmountPaid:     dec("600"),
	}
	o.Recompute()

	excess := o.ApplyDiscount(dec("500"))

	assert.True(t, excess.Equal(dec("100")))
	assert.True(t, o.DiscountAmount.Equal(dec("400")))
	assert.True(t, o.FinalAmount.Equal(dec("600")))
	assert.True(t, o.Balance.IsZero())
	assert.Equal(t, ObligationStatusPaid, o.Status)
}

func TestDaysOverdue(t *testing.T) {
	today := date(2026, time.March, 15)

	assert.Equal(t, 14, DaysOverdue(date(2026, time.March, 1), today))
	assert.Equal(t, 0, DaysOverdue(today, today))
	assert.Equal(t, 0, DaysOverdue(date(2026, time.April, 1), today))
}

func TestMarkOverdue_NeverTouchesBalance(t *testing.T) {
	o := &Obligation{
		OriginalAmount: dec("100"),
		DueDate:        date(2026, time.March, 1),
	}
	o.Recompute()

	o.MarkOverdue(date(2026, time.March, 10))

	assert.True(t, o.IsOverdue)
	assert.Equal(t, 9, o.OverdueDays)
	assert.True(t, o.Balance.Equal(dec("100")))
}
