package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ObligationStatusPending = "PENDING"
	ObligationStatusPartial = "PARTIAL"
	ObligationStatusPaid    = "PAID"
)

const (
	OwnerTypeStudent = "STUDENT"
	OwnerTypeBudget  = "BUDGET"
)

// Obligation is a billable line owed by a student (or a budget line for an
// expense category). Its balance only moves through payment application or
// discount application; rows are never hard-deleted.
type Obligation struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID          int64           `gorm:"index:idx_obligation_owner,priority:1;not null" json:"tenant_id"`
	OwnerType         string          `gorm:"type:varchar(16);index:idx_obligation_owner,priority:2;not null" json:"owner_type"`
	OwnerID           int64           `gorm:"index:idx_obligation_owner,priority:3;not null" json:"owner_id"`
	Title             string          `gorm:"type:varchar(128);not null" json:"title"`
	FeeType           string          `gorm:"type:varchar(64)" json:"fee_type"`
	OriginalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"original_amount"`
	DiscountAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	AdditionalCharges decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"additional_charges"`
	FinalAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"final_amount"`
	AmountPaid        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	Balance           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance"`
	DueDate           time.Time       `gorm:"not null;index" json:"due_date"`
	IsOverdue         bool            `gorm:"not null;default:false;index" json:"is_overdue"`
	OverdueDays       int             `gorm:"not null;default:0" json:"overdue_days"`
	Status            string          `gorm:"type:varchar(16);index;not null" json:"status"`
	LastPaymentDate   *time.Time      `json:"last_payment_date"`
	Version           int             `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         *time.Time      `gorm:"index" json:"deleted_at,omitempty"`
}

func (Obligation) TableName() string {
	return "obligation"
}

// DeriveObligationStatus maps (final_amount, amount_paid) to a status.
// PAID iff nothing remains, PARTIAL iff something but not everything was
// paid, PENDING otherwise.
func DeriveObligationStatus(finalAmount, amountPaid decimal.Decimal) string {
	if amountPaid.GreaterThanOrEqual(finalAmount) {
		return ObligationStatusPaid
	}
	if amountPaid.IsPositive() {
		return ObligationStatusPartial
	}
	return ObligationStatusPending
}

// Recompute re-derives final_amount, balance and status from the raw amount
// fields. Balance is clamped at zero: the invariant is
// balance == max(0, final_amount - amount_paid).
func (o *Obligation) Recompute() {
	o.FinalAmount = o.OriginalAmount.Sub(o.DiscountAmount).Add(o.AdditionalCharges)
	o.Balance = o.FinalAmount.Sub(o.AmountPaid)
	if o.Balance.IsNegative() {
		o.Balance = decimal.Zero
	}
	o.Status = DeriveObligationStatus(o.FinalAmount, o.AmountPaid)
	if o.Status == ObligationStatusPaid {
		o.IsOverdue = false
		o.OverdueDays = 0
	}
}

// ApplyPayment applies a positive amount against the obligation and stamps
// the payment date. The caller persists the change.
func (o *Obligation) ApplyPayment(amount decimal.Decimal, paidAt time.Time) {
	o.AmountPaid = o.AmountPaid.Add(amount)
	o.LastPaymentDate = &paidAt
	o.Recompute()
}

// ApplyDiscount raises the discount and re-derives the dependent fields.
// The discount absorbed is capped at the unpaid remainder, so final_amount
// never drops below amount_paid. Returns the excess that did not fit (zero
// when the discount fit), so callers can report over-discounting.
func (o *Obligation) ApplyDiscount(amount decimal.Decimal) decimal.Decimal {
	headroom := o.OriginalAmount.Add(o.AdditionalCharges).Sub(o.DiscountAmount).Sub(o.AmountPaid)
	if headroom.IsNegative() {
		headroom = decimal.Zero
	}
	applied := decimal.Min(amount, headroom)
	o.DiscountAmount = o.DiscountAmount.Add(applied)
	o.Recompute()
	return amount.Sub(applied)
}

// MarkOverdue sets the overdue bookkeeping fields. It never touches the
// balance and never un-marks an obligation.
func (o *Obligation) MarkOverdue(today time.Time) {
	o.IsOverdue = true
	o.OverdueDays = DaysOverdue(o.DueDate, today)
}

// DaysOverdue returns the whole days elapsed since due, never negative.
func DaysOverdue(due, today time.Time) int {
	days := int(today.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
