package repository

import (
	"context"
	"errors"

	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrBudgetNotFound       = errors.New("budget not found")
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrExpenseStatusInvalid = errors.New("expense status transition not allowed")
)

type BudgetRepository struct {
	db *gorm.DB
}

func NewBudgetRepository(db *gorm.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

func (r *BudgetRepository) Create(ctx context.Context, tx *gorm.DB, budget *model.Budget) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(budget).Error
}

func (r *BudgetRepository) GetByID(ctx context.Context, tenantID, id int64) (*model.Budget, error) {
	var budget model.Budget
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetNotFound
		}
		return nil, err
	}
	return &budget, nil
}

func (r *BudgetRepository) UpdateAggregates(ctx context.Context, tx *gorm.DB, budget *model.Budget) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Budget{}).
		Where("tenant_id = ? AND id = ?", budget.TenantID, budget.ID).
		Updates(map[string]interface{}{
			"total_actual_amount": budget.TotalActualAmount,
			"variance_amount":     budget.VarianceAmount,
			"variance_percentage": budget.VariancePercentage,
			"utilization_rate":    budget.UtilizationRate,
			"actual_by_category":  budget.ActualByCategory,
			"last_reconciled_at":  budget.LastReconciledAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

type ExpenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Create(ctx context.Context, tx *gorm.DB, expense *model.Expense) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(expense).Error
}

func (r *ExpenseRepository) GetByID(ctx context.Context, tenantID, id int64) (*model.Expense, error) {
	var expense model.Expense
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&expense).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExpenseNotFound
		}
		return nil, err
	}
	return &expense, nil
}

// UpdateApproval resolves a pending expense to APPROVED or REJECTED. The
// conditional update makes the approval decision single-shot even when two
// approvers race.
func (r *ExpenseRepository) UpdateApproval(ctx context.Context, tenantID, id int64, status string) error {
	if status != model.ExpenseApprovalApproved && status != model.ExpenseApprovalRejected {
		return ErrExpenseStatusInvalid
	}
	result := r.db.WithContext(ctx).
		Model(&model.Expense{}).
		Where("tenant_id = ? AND id = ? AND approval_status = ?", tenantID, id, model.ExpenseApprovalPending).
		Update("approval_status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tenantID, id); err != nil {
			return err
		}
		return ErrExpenseStatusInvalid
	}
	return nil
}

// MarkPaid settles an approved expense. Only approved-and-unpaid rows
// qualify, so a rejected or already settled expense cannot be paid out.
func (r *ExpenseRepository) MarkPaid(ctx context.Context, tenantID, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Expense{}).
		Where("tenant_id = ? AND id = ? AND approval_status = ? AND payment_status = ?",
			tenantID, id, model.ExpenseApprovalApproved, model.ExpensePaymentPending).
		Update("payment_status", model.ExpensePaymentPaid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tenantID, id); err != nil {
			return err
		}
		return ErrExpenseStatusInvalid
	}
	return nil
}

// SumSettledByBudget totals expenses that are both approved and paid,
// overall and per category. This is the reconciliation source of truth and
// is always a full recompute.
func (r *ExpenseRepository) SumSettledByBudget(ctx context.Context, tenantID, budgetID int64) (decimal.Decimal, model.CategoryAmounts, error) {
	type categorySum struct {
		Category string
		Total    decimal.Decimal
	}
	var sums []categorySum
	err := r.db.WithContext(ctx).
		Model(&model.Expense{}).
		Select("category, SUM(amount) AS total").
		Where("tenant_id = ? AND budget_id = ? AND approval_status = ? AND payment_status = ?",
			tenantID, budgetID, model.ExpenseApprovalApproved, model.ExpensePaymentPaid).
		Group("category").
		Scan(&sums).Error
	if err != nil {
		return decimal.Zero, nil, err
	}

	total := decimal.Zero
	byCategory := model.CategoryAmounts{}
	for _, s := range sums {
		total = total.Add(s.Total)
		byCategory[s.Category] = s.Total
	}
	return total, byCategory, nil
}

func (r *ExpenseRepository) ListByBudget(ctx context.Context, tenantID, budgetID int64, page, pageSize int) ([]*model.Expense, int64, error) {
	var expenses []*model.Expense
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Expense{}).
		Where("tenant_id = ? AND budget_id = ?", tenantID, budgetID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("expense_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&expenses).Error

	return expenses, total, err
}
