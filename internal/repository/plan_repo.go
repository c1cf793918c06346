package repository

import (
	"context"
	"errors"
	"time"

	"schoolledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPlanNotFound        = errors.New("payment plan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Create(ctx context.Context, tx *gorm.DB, plan *model.PaymentPlan) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(plan).Error
}

// CreateInstallments batch-inserts a plan's schedule. Called inside the
// same transaction that creates the plan.
func (r *PlanRepository) CreateInstallments(ctx context.Context, tx *gorm.DB, installments []*model.Installment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&installments).Error
}

func (r *PlanRepository) GetByID(ctx context.Context, tenantID, id int64) (*model.PaymentPlan, error) {
	var plan model.PaymentPlan
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) GetInstallmentByID(ctx context.Context, tenantID, id int64) (*model.Installment, error) {
	var installment model.Installment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&installment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	return &installment, nil
}

func (r *PlanRepository) ListInstallments(ctx context.Context, tenantID, planID int64) ([]*model.Installment, error) {
	var installments []*model.Installment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_plan_id = ?", tenantID, planID).
		Order("installment_number ASC").
		Find(&installments).Error
	return installments, err
}

// UpdateInstallmentBalances persists installment balance fields with an
// optimistic version check, mirroring ObligationRepository.UpdateBalances.
func (r *PlanRepository) UpdateInstallmentBalances(ctx context.Context, tx *gorm.DB, installment *model.Installment, expectedVersion int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Installment{}).
		Where("tenant_id = ? AND id = ? AND version = ?", installment.TenantID, installment.ID, expectedVersion).
		Updates(map[string]interface{}{
			"amount_paid":  installment.AmountPaid,
			"balance":      installment.Balance,
			"status":       installment.Status,
			"days_overdue": installment.DaysOverdue,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetInstallmentByID(ctx, installment.TenantID, installment.ID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}
	installment.Version = expectedVersion + 1
	return nil
}

// UpdatePlanAggregates persists plan aggregate fields with an optimistic
// version check.
func (r *PlanRepository) UpdatePlanAggregates(ctx context.Context, tx *gorm.DB, plan *model.PaymentPlan, expectedVersion int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.PaymentPlan{}).
		Where("tenant_id = ? AND id = ? AND version = ?", plan.TenantID, plan.ID, expectedVersion).
		Updates(map[string]interface{}{
			"amount_paid":          plan.AmountPaid,
			"balance":              plan.Balance,
			"installments_paid":    plan.InstallmentsPaid,
			"installments_overdue": plan.InstallmentsOverdue,
			"status":               plan.Status,
			"version":              gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, plan.TenantID, plan.ID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}
	plan.Version = expectedVersion + 1
	return nil
}

// ListInstallmentsPastGrace returns one id-ordered batch of unpaid
// installments whose grace period has ended, for the overdue sweep. Paged
// the same way as ObligationRepository.ListDueForSweep.
func (r *PlanRepository) ListInstallmentsPastGrace(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Installment, error) {
	var installments []*model.Installment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id > ? AND grace_period_end < ? AND balance > 0 AND status <> ?",
			tenantID, afterID, today, model.InstallmentStatusPaid).
		Order("id ASC").
		Limit(limit).
		Find(&installments).Error
	return installments, err
}

func (r *PlanRepository) ListByStudent(ctx context.Context, tenantID, studentID int64) ([]*model.PaymentPlan, error) {
	var plans []*model.PaymentPlan
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND student_id = ?", tenantID, studentID).
		Order("created_at DESC").
		Find(&plans).Error
	return plans, err
}
