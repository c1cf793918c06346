package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAmounts is the per-category breakdown of a budget's actual spend.
// It lives as a typed value in business logic and is serialized to json only
// at the storage boundary.
type CategoryAmounts map[string]decimal.Decimal

func (c CategoryAmounts) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *CategoryAmounts) Scan(value interface{}) error {
	if value == nil {
		*c = CategoryAmounts{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CategoryAmounts", value)
	}
	if len(raw) == 0 {
		*c = CategoryAmounts{}
		return nil
	}
	return json.Unmarshal(raw, c)
}

// Budget tracks an approved spending envelope. TotalActualAmount and the
// fields derived from it are recomputed in full on every reconciliation,
// never maintained incrementally.
type Budget struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID            int64           `gorm:"index;not null" json:"tenant_id"`
	Name                string          `gorm:"type:varchar(128);not null" json:"name"`
	FiscalYear          int             `gorm:"not null" json:"fiscal_year"`
	TotalBudgetedAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_budgeted_amount"`
	TotalActualAmount   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_actual_amount"`
	VarianceAmount      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"variance_amount"`
	VariancePercentage  decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"variance_percentage"`
	UtilizationRate     decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"utilization_rate"`
	AlertThreshold      decimal.Decimal `gorm:"type:decimal(8,2);not null;default:80" json:"alert_threshold"`
	ActualByCategory    CategoryAmounts `gorm:"type:text" json:"actual_by_category"`
	LastReconciledAt    *time.Time      `json:"last_reconciled_at,omitempty"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Budget) TableName() string {
	return "budget"
}

// Reconcile recomputes the derived aggregates from a fresh actuals total.
// Idempotent: the same inputs always produce the same derived fields.
// Returns true when the utilization rate exceeds the alert threshold.
func (b *Budget) Reconcile(actual decimal.Decimal, byCategory CategoryAmounts, at time.Time) bool {
	b.TotalActualAmount = actual
	b.VarianceAmount = b.TotalBudgetedAmount.Sub(actual)
	if b.TotalBudgetedAmount.IsPositive() {
		hundred := decimal.NewFromInt(100)
		b.UtilizationRate = actual.Div(b.TotalBudgetedAmount).Mul(hundred).Round(2)
		b.VariancePercentage = b.VarianceAmount.Div(b.TotalBudgetedAmount).Mul(hundred).Round(2)
	} else {
		b.UtilizationRate = decimal.Zero
		b.VariancePercentage = decimal.Zero
	}
	b.ActualByCategory = byCategory
	b.LastReconciledAt = &at
	return b.UtilizationRate.GreaterThan(b.AlertThreshold)
}

const (
	ExpenseApprovalPending  = "PENDING"
	ExpenseApprovalApproved = "APPROVED"
	ExpenseApprovalRejected = "REJECTED"

	ExpensePaymentPending = "PENDING"
	ExpensePaymentPaid    = "PAID"
)

// Expense is one expenditure row against a budget. It enters PENDING on
// both axes, is resolved by the approval workflow, then settled by payout;
// reconciliation only reads rows that are both approved and paid.
type Expense struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID         int64           `gorm:"index;not null" json:"tenant_id"`
	BudgetID         int64           `gorm:"index;not null" json:"budget_id"`
	Category         string          `gorm:"type:varchar(64);not null" json:"category"`
	Description      string          `gorm:"type:varchar(256)" json:"description"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	ExpenseReference string          `gorm:"type:varchar(64);index;not null" json:"expense_reference"`
	ApprovalStatus   string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"approval_status"`
	PaymentStatus    string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"payment_status"`
	ExpenseDate      time.Time       `gorm:"not null" json:"expense_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Expense) TableName() string {
	return "expense"
}
