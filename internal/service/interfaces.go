package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any state is touched.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInstallmentSettled rejects payments against a fully paid installment.
	ErrInstallmentSettled = errors.New("installment already settled")
	// ErrPlanClosed rejects installment payments on a completed or defaulted plan.
	ErrPlanClosed = errors.New("payment plan is not active")
)

// TxRunner is the transaction boundary the engines depend on. *gorm.DB
// satisfies it directly; tests substitute a runner that invokes the
// callback with a nil tx.
type TxRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// The engine components depend on these store interfaces rather than the
// concrete gorm repositories, so the ledger logic runs unchanged against
// the in-memory stores used in tests. The repository types satisfy them
// as-is.

type ObligationStore interface {
	Create(ctx context.Context, tx *gorm.DB, obligation *model.Obligation) error
	GetByID(ctx context.Context, tenantID, id int64) (*model.Obligation, error)
	ListOutstandingForStudent(ctx context.Context, tx *gorm.DB, tenantID, studentID int64) ([]*model.Obligation, error)
	UpdateBalances(ctx context.Context, tx *gorm.DB, obligation *model.Obligation, expectedVersion int) error
	ListDueForSweep(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Obligation, error)
	MarkOverdue(ctx context.Context, tenantID, id int64, overdueDays int) error
}

type PaymentStore interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	GetByID(ctx context.Context, tenantID, id int64) (*model.Payment, error)
	GetByRequestID(ctx context.Context, tenantID int64, requestID string) (*model.Payment, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, tenantID, id int64, fromStatus, toStatus string) error
	MarkVerified(ctx context.Context, tenantID, id, verifiedBy int64) error
	DeductUnallocated(ctx context.Context, tx *gorm.DB, tenantID, id int64, amount decimal.Decimal) error
}

type AllocationStore interface {
	Create(ctx context.Context, tx *gorm.DB, allocation *model.PaymentAllocation) error
	ListByPayment(ctx context.Context, tenantID, paymentID int64) ([]*model.PaymentAllocation, error)
}

type DiscountStore interface {
	Create(ctx context.Context, tx *gorm.DB, grant *model.DiscountGrant) error
}

type PlanStore interface {
	Create(ctx context.Context, tx *gorm.DB, plan *model.PaymentPlan) error
	CreateInstallments(ctx context.Context, tx *gorm.DB, installments []*model.Installment) error
	GetByID(ctx context.Context, tenantID, id int64) (*model.PaymentPlan, error)
	GetInstallmentByID(ctx context.Context, tenantID, id int64) (*model.Installment, error)
	ListInstallments(ctx context.Context, tenantID, planID int64) ([]*model.Installment, error)
	UpdateInstallmentBalances(ctx context.Context, tx *gorm.DB, installment *model.Installment, expectedVersion int) error
	UpdatePlanAggregates(ctx context.Context, tx *gorm.DB, plan *model.PaymentPlan, expectedVersion int) error
	ListInstallmentsPastGrace(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Installment, error)
}

type BudgetStore interface {
	Create(ctx context.Context, tx *gorm.DB, budget *model.Budget) error
	GetByID(ctx context.Context, tenantID, id int64) (*model.Budget, error)
	UpdateAggregates(ctx context.Context, tx *gorm.DB, budget *model.Budget) error
}

type ExpenseStore interface {
	Create(ctx context.Context, tx *gorm.DB, expense *model.Expense) error
	GetByID(ctx context.Context, tenantID, id int64) (*model.Expense, error)
	UpdateApproval(ctx context.Context, tenantID, id int64, status string) error
	MarkPaid(ctx context.Context, tenantID, id int64) error
	SumSettledByBudget(ctx context.Context, tenantID, budgetID int64) (decimal.Decimal, model.CategoryAmounts, error)
	ListByBudget(ctx context.Context, tenantID, budgetID int64, page, pageSize int) ([]*model.Expense, int64, error)
}

type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// LockManager serializes allocation per student. The redis implementation
// lives in internal/infrastructure/lock; tests use a no-op manager.
type LockManager interface {
	AcquireStudentLock(ctx context.Context, tenantID, studentID int64) (release func(), err error)
}

// SequenceService hands out tenant-and-period scoped reference numbers from
// a dedicated counter, so concurrent inserts can never mint duplicates.
type SequenceService interface {
	NextPaymentReference(ctx context.Context, tenantID int64, date time.Time) (string, error)
	NextReceiptNumber(ctx context.Context, tenantID int64, year int) (string, error)
	NextExpenseReference(ctx context.Context, tenantID int64, date time.Time) (string, error)
}
