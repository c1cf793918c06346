package repository

import (
	"context"
	"errors"
	"time"

	"schoolledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrObligationNotFound = errors.New("obligation not found")
	ErrOptimisticLock     = errors.New("concurrent modification conflict, retry the operation")
)

type ObligationRepository struct {
	db *gorm.DB
}

func NewObligationRepository(db *gorm.DB) *ObligationRepository {
	return &ObligationRepository{db: db}
}

func (r *ObligationRepository) Create(ctx context.Context, tx *gorm.DB, obligation *model.Obligation) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(obligation).Error
}

func (r *ObligationRepository) GetByID(ctx context.Context, tenantID, id int64) (*model.Obligation, error) {
	var obligation model.Obligation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ? AND deleted_at IS NULL", tenantID, id).
		First(&obligation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrObligationNotFound
		}
		return nil, err
	}
	return &obligation, nil
}

// ListOutstandingForStudent returns the student's obligations with a
// positive balance, already in allocation priority order: overdue first,
// then ascending due date, ties broken by id for determinism.
func (r *ObligationRepository) ListOutstandingForStudent(ctx context.Context, tx *gorm.DB, tenantID, studentID int64) ([]*model.Obligation, error) {
	if tx == nil {
		tx = r.db
	}
	var obligations []*model.Obligation
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND owner_type = ? AND owner_id = ? AND balance > 0 AND deleted_at IS NULL",
			tenantID, model.OwnerTypeStudent, studentID).
		Order("is_overdue DESC, due_date ASC, id ASC").
		Find(&obligations).Error
	return obligations, err
}

// UpdateBalances persists the recomputed balance fields of an obligation
// with an optimistic version check. The obligation must carry the version
// that was read; RowsAffected == 0 means another writer got there first.
func (r *ObligationRepository) UpdateBalances(ctx context.Context, tx *gorm.DB, obligation *model.Obligation, expectedVersion int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Obligation{}).
		Where("tenant_id = ? AND id = ? AND version = ?", obligation.TenantID, obligation.ID, expectedVersion).
		Updates(map[string]interface{}{
			"discount_amount":   obligation.DiscountAmount,
			"final_amount":      obligation.FinalAmount,
			"amount_paid":       obligation.AmountPaid,
			"balance":           obligation.Balance,
			"status":            obligation.Status,
			"is_overdue":        obligation.IsOverdue,
			"overdue_days":      obligation.OverdueDays,
			"last_payment_date": obligation.LastPaymentDate,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, obligation.TenantID, obligation.ID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}
	obligation.Version = expectedVersion + 1
	return nil
}

// ListDueForSweep returns one id-ordered batch of obligations past due with
// a positive balance, excluding settled ones. afterID is the last id of the
// previous batch; callers page with it until a batch comes back short,
// because marking a row overdue does not remove it from this result set.
func (r *ObligationRepository) ListDueForSweep(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Obligation, error) {
	var obligations []*model.Obligation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id > ? AND due_date < ? AND balance > 0 AND status <> ? AND deleted_at IS NULL",
			tenantID, afterID, today, model.ObligationStatusPaid).
		Order("id ASC").
		Limit(limit).
		Find(&obligations).Error
	return obligations, err
}

// MarkOverdue stamps the overdue bookkeeping fields only. Balances are
// never touched on this path.
func (r *ObligationRepository) MarkOverdue(ctx context.Context, tenantID, id int64, overdueDays int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Obligation{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{
			"is_overdue":   true,
			"overdue_days": overdueDays,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrObligationNotFound
	}
	return nil
}

// ListTenantIDs returns every tenant that owns obligations, for batch
// operations that fan out per tenant.
func (r *ObligationRepository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	var tenantIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.Obligation{}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIDs).Error
	return tenantIDs, err
}

func (r *ObligationRepository) ListByOwner(ctx context.Context, tenantID int64, ownerType string, ownerID int64, page, pageSize int) ([]*model.Obligation, int64, error) {
	var obligations []*model.Obligation
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Obligation{}).
		Where("tenant_id = ? AND owner_type = ? AND owner_id = ? AND deleted_at IS NULL", tenantID, ownerType, ownerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("due_date ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&obligations).Error

	return obligations, total, err
}
