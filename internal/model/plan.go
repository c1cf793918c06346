package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusCompleted = "COMPLETED"
	PlanStatusDefaulted = "DEFAULTED"
)

const (
	FrequencyWeekly    = "WEEKLY"
	FrequencyBiWeekly  = "BI_WEEKLY"
	FrequencyMonthly   = "MONTHLY"
	FrequencyQuarterly = "QUARTERLY"
)

// PaymentPlan spreads a student's remaining amount over a fixed schedule of
// installments. Aggregate fields (amount_paid, balance, installments_paid,
// installments_overdue) move in lockstep with the installment rows.
type PaymentPlan struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID             int64           `gorm:"index;not null" json:"tenant_id"`
	PlanNo               string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"plan_no"`
	StudentID            int64           `gorm:"index;not null" json:"student_id"`
	TotalAmount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	DownPayment          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"down_payment"`
	RemainingAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"remaining_amount"`
	NumberOfInstallments int             `gorm:"not null" json:"number_of_installments"`
	InstallmentAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"installment_amount"`
	Frequency            string          `gorm:"type:varchar(16);not null" json:"frequency"`
	StartDate            time.Time       `gorm:"not null" json:"start_date"`
	GracePeriodDays      int             `gorm:"not null;default:0" json:"grace_period_days"`
	AmountPaid           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	Balance              decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance"`
	InstallmentsPaid     int             `gorm:"not null;default:0" json:"installments_paid"`
	InstallmentsOverdue  int             `gorm:"not null;default:0" json:"installments_overdue"`
	Status               string          `gorm:"type:varchar(16);index;not null" json:"status"`
	Version              int             `gorm:"not null;default:0" json:"version"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentPlan) TableName() string {
	return "payment_plan"
}

const (
	InstallmentStatusPending = "PENDING"
	InstallmentStatusPaid    = "PAID"
	InstallmentStatusOverdue = "OVERDUE"
)

// Installment is one scheduled sub-payment of a payment plan, numbered 1..N.
type Installment struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID          int64           `gorm:"index;not null" json:"tenant_id"`
	PaymentPlanID     int64           `gorm:"index;not null" json:"payment_plan_id"`
	InstallmentNumber int             `gorm:"not null" json:"installment_number"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	AmountPaid        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	Balance           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance"`
	DueDate           time.Time       `gorm:"not null;index" json:"due_date"`
	GracePeriodEnd    time.Time       `gorm:"not null;index" json:"grace_period_end"`
	DaysOverdue       int             `gorm:"not null;default:0" json:"days_overdue"`
	Status            string          `gorm:"type:varchar(16);index;not null" json:"status"`
	Version           int             `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Installment) TableName() string {
	return "installment"
}

// NextDueDate advances a due date by one frequency step. Weekly and
// bi-weekly step in whole days; monthly and quarterly step in calendar
// months, so the 15th stays the 15th.
func NextDueDate(current time.Time, frequency string) time.Time {
	switch frequency {
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return current.AddDate(0, 0, 14)
	case FrequencyQuarterly:
		return current.AddDate(0, 3, 0)
	default:
		return current.AddDate(0, 1, 0)
	}
}

// GenerateInstallments produces the plan's full schedule, deterministically
// and without side effects. The first installment is due on the plan start
// date; each later one steps by the plan frequency from the previous due
// date. Per-installment amounts are the remaining amount divided evenly and
// rounded to cents, with the final installment absorbing the rounding
// remainder so the schedule sums exactly to RemainingAmount.
func GenerateInstallments(plan *PaymentPlan) []*Installment {
	n := plan.NumberOfInstallments
	if n <= 0 {
		return nil
	}

	per := plan.RemainingAmount.Div(decimal.NewFromInt(int64(n))).Round(2)
	last := plan.RemainingAmount.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))

	installments := make([]*Installment, 0, n)
	due := plan.StartDate
	for i := 1; i <= n; i++ {
		amount := per
		if i == n {
			amount = last
		}
		installments = append(installments, &Installment{
			TenantID:          plan.TenantID,
			InstallmentNumber: i,
			Amount:            amount,
			Balance:           amount,
			DueDate:           due,
			GracePeriodEnd:    due.AddDate(0, 0, plan.GracePeriodDays),
			Status:            InstallmentStatusPending,
		})
		due = NextDueDate(due, frequencyOrMonthly(plan.Frequency))
	}
	return installments
}

func frequencyOrMonthly(frequency string) string {
	switch frequency {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyQuarterly:
		return frequency
	default:
		return FrequencyMonthly
	}
}

// ApplyPayment applies a positive amount to the installment, marking it PAID
// once nothing remains.
func (i *Installment) ApplyPayment(amount decimal.Decimal) {
	i.AmountPaid = i.AmountPaid.Add(amount)
	i.Balance = i.Amount.Sub(i.AmountPaid)
	if i.Balance.IsNegative() {
		i.Balance = decimal.Zero
	}
	if i.Balance.IsZero() {
		i.Status = InstallmentStatusPaid
		i.DaysOverdue = 0
	}
}

// ApplyInstallmentDelta propagates an installment payment to the plan
// aggregates. installmentSettled reports whether this payment brought the
// installment to zero.
func (p *PaymentPlan) ApplyInstallmentDelta(amount decimal.Decimal, installmentSettled bool) {
	p.AmountPaid = p.AmountPaid.Add(amount)
	p.Balance = p.RemainingAmount.Sub(p.AmountPaid)
	if p.Balance.IsNegative() {
		p.Balance = decimal.Zero
	}
	if installmentSettled {
		p.InstallmentsPaid++
	}
	if p.Balance.IsZero() {
		p.Status = PlanStatusCompleted
	}
}
