package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BudgetService reconciles budget actuals against approved-and-paid
// expenses. Reconciliation is a full recompute, so it is idempotent and
// safe to re-run after any expense transition.
type BudgetService struct {
	db        TxRunner
	budgets   BudgetStore
	expenses  ExpenseStore
	outbox    OutboxStore
	sequences SequenceService
	cfg       *config.Config
	log       *logrus.Logger
}

func NewBudgetService(db TxRunner, budgets BudgetStore, expenses ExpenseStore, outbox OutboxStore, sequences SequenceService, cfg *config.Config, log *logrus.Logger) *BudgetService {
	return &BudgetService{
		db:        db,
		budgets:   budgets,
		expenses:  expenses,
		outbox:    outbox,
		sequences: sequences,
		cfg:       cfg,
		log:       log,
	}
}

type CreateBudgetRequest struct {
	TenantID            int64
	Name                string
	FiscalYear          int
	TotalBudgetedAmount decimal.Decimal
	// AlertThreshold is a percentage; zero means the default of 80.
	AlertThreshold decimal.Decimal
}

func (s *BudgetService) CreateBudget(ctx context.Context, req *CreateBudgetRequest) (*model.Budget, error) {
	if !req.TotalBudgetedAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	threshold := req.AlertThreshold
	if threshold.IsZero() {
		threshold = decimal.NewFromInt(80)
	}

	budget := &model.Budget{
		TenantID:            req.TenantID,
		Name:                req.Name,
		FiscalYear:          req.FiscalYear,
		TotalBudgetedAmount: req.TotalBudgetedAmount,
		VarianceAmount:      req.TotalBudgetedAmount,
		VariancePercentage:  decimal.NewFromInt(100),
		AlertThreshold:      threshold,
		ActualByCategory:    model.CategoryAmounts{},
	}
	if err := s.budgets.Create(ctx, nil, budget); err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}
	return budget, nil
}

type RecordExpenseRequest struct {
	TenantID    int64
	BudgetID    int64
	Category    string
	Description string
	Amount      decimal.Decimal
	ExpenseDate time.Time
}

// RecordExpense registers an expenditure against a budget. It enters the
// approval workflow as PENDING/PENDING and only counts toward actuals once
// approved and paid.
func (s *BudgetService) RecordExpense(ctx context.Context, req *RecordExpenseRequest) (*model.Expense, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.budgets.GetByID(ctx, req.TenantID, req.BudgetID); err != nil {
		return nil, err
	}

	expenseDate := req.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = time.Now()
	}
	ref, err := s.sequences.NextExpenseReference(ctx, req.TenantID, expenseDate)
	if err != nil {
		return nil, fmt.Errorf("failed to generate expense reference: %w", err)
	}

	expense := &model.Expense{
		TenantID:         req.TenantID,
		BudgetID:         req.BudgetID,
		Category:         req.Category,
		Description:      req.Description,
		Amount:           req.Amount,
		ExpenseReference: ref,
		ApprovalStatus:   model.ExpenseApprovalPending,
		PaymentStatus:    model.ExpensePaymentPending,
		ExpenseDate:      expenseDate,
	}
	if err := s.expenses.Create(ctx, nil, expense); err != nil {
		return nil, fmt.Errorf("failed to record expense: %w", err)
	}
	return expense, nil
}

// ResolveExpenseApproval moves a pending expense to APPROVED or REJECTED.
// The decision is single-shot; a resolved expense cannot be re-decided.
func (s *BudgetService) ResolveExpenseApproval(ctx context.Context, tenantID, expenseID int64, status string) (*model.Expense, error) {
	if err := s.expenses.UpdateApproval(ctx, tenantID, expenseID, status); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"expense_id": expenseID,
		"status":     status,
	}).Info("expense approval resolved")
	return s.expenses.GetByID(ctx, tenantID, expenseID)
}

// SettleExpense marks an approved expense as paid out, which makes it count
// toward budget actuals on the next reconciliation.
func (s *BudgetService) SettleExpense(ctx context.Context, tenantID, expenseID int64) (*model.Expense, error) {
	if err := s.expenses.MarkPaid(ctx, tenantID, expenseID); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"expense_id": expenseID,
	}).Info("expense settled")
	return s.expenses.GetByID(ctx, tenantID, expenseID)
}

// ListExpenses pages through a budget's expense rows.
func (s *BudgetService) ListExpenses(ctx context.Context, tenantID, budgetID int64, page, pageSize int) ([]*model.Expense, int64, error) {
	if _, err := s.budgets.GetByID(ctx, tenantID, budgetID); err != nil {
		return nil, 0, err
	}
	return s.expenses.ListByBudget(ctx, tenantID, budgetID, page, pageSize)
}

// ReconcileBudget recomputes the budget's actual spend and derived
// variance/utilization figures. When utilization crosses the alert
// threshold, an alert message is written to the outbox in the same
// transaction as the aggregate update.
func (s *BudgetService) ReconcileBudget(ctx context.Context, tenantID, budgetID int64) (*model.Budget, error) {
	budget, err := s.budgets.GetByID(ctx, tenantID, budgetID)
	if err != nil {
		return nil, err
	}

	actual, byCategory, err := s.expenses.SumSettledByBudget(ctx, tenantID, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to total settled expenses: %w", err)
	}

	alert := budget.Reconcile(actual, byCategory, time.Now())

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.budgets.UpdateAggregates(ctx, tx, budget); err != nil {
			return fmt.Errorf("failed to update budget aggregates: %w", err)
		}
		if !alert {
			return nil
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"tenant_id":        budget.TenantID,
			"budget_id":        budget.ID,
			"budget_name":      budget.Name,
			"utilization_rate": budget.UtilizationRate,
			"alert_threshold":  budget.AlertThreshold,
			"actual":           budget.TotalActualAmount,
			"budgeted":         budget.TotalBudgetedAmount,
		})
		msg := &model.OutboxMessage{
			TenantID:   budget.TenantID,
			MessageKey: fmt.Sprintf("budget-%d", budget.ID),
			Topic:      s.cfg.Kafka.Topic.BudgetAlert,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		return s.outbox.Create(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}

	if alert {
		s.log.WithFields(logrus.Fields{
			"tenant_id":   budget.TenantID,
			"budget_id":   budget.ID,
			"utilization": budget.UtilizationRate,
			"threshold":   budget.AlertThreshold,
		}).Warn("budget utilization above alert threshold")
	}

	return budget, nil
}
