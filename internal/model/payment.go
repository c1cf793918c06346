package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
	PaymentStatusRefunded  = "REFUNDED"
)

var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := ValidPaymentTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodTransfer = "BANK_TRANSFER"
	PaymentMethodGateway  = "GATEWAY"
	PaymentMethodCheque   = "CHEQUE"
)

// Payment records a single received payment. The amount is immutable after
// creation; only verification state and status transition afterwards.
//
// RequestID is the caller's idempotency key. For gateway webhooks it is the
// gateway transaction reference, so a replayed webhook finds the original
// payment instead of creating a second one.
type Payment struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID          int64           `gorm:"uniqueIndex:idx_payment_request,priority:1;not null" json:"tenant_id"`
	PaymentNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	RequestID         string          `gorm:"type:varchar(64);uniqueIndex:idx_payment_request,priority:2;not null" json:"request_id"`
	StudentID         int64           `gorm:"index;not null" json:"student_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	UnallocatedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"unallocated_amount"`
	Method            string          `gorm:"type:varchar(32);not null" json:"method"`
	PaymentDate       time.Time       `gorm:"not null;index" json:"payment_date"`
	PaymentReference  string          `gorm:"type:varchar(64);index;not null" json:"payment_reference"`
	ReceiptNumber     string          `gorm:"type:varchar(64);index;not null" json:"receipt_number"`
	GatewayReference  string          `gorm:"type:varchar(128)" json:"gateway_reference,omitempty"`
	IsVerified        bool            `gorm:"not null;default:false" json:"is_verified"`
	VerifiedBy        *int64          `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"`
	PaymentStatus     string          `gorm:"type:varchar(16);index;not null" json:"payment_status"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}

// PaymentAllocation is the append-only record of applying part of a payment
// to a specific obligation. Never updated, never deleted.
//
// BalanceBefore/BalanceAfter snapshot the obligation balance around the
// application so the audit trail can be verified without replaying.
type PaymentAllocation struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID        int64           `gorm:"index;not null" json:"tenant_id"`
	PaymentID       int64           `gorm:"index;not null" json:"payment_id"`
	ObligationID    int64           `gorm:"index;not null" json:"obligation_id"`
	AllocatedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"allocated_amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentAllocation) TableName() string {
	return "payment_allocation"
}

// DiscountGrant is the append-only audit record of a discount applied to an
// obligation. ClampedAmount is non-zero when the discount exceeded the
// remaining balance and the balance was clamped at zero.
type DiscountGrant struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      int64           `gorm:"index;not null" json:"tenant_id"`
	ObligationID  int64           `gorm:"index;not null" json:"obligation_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	DiscountType  string          `gorm:"type:varchar(32)" json:"discount_type"`
	Reason        string          `gorm:"type:varchar(256)" json:"reason"`
	ApproverID    int64           `gorm:"not null" json:"approver_id"`
	ClampedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"clamped_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (DiscountGrant) TableName() string {
	return "discount_grant"
}
