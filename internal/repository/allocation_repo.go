package repository

import (
	"context"

	"schoolledger/internal/model"

	"gorm.io/gorm"
)

// AllocationRepository persists the append-only allocation trail. There are
// deliberately no update or delete methods.
type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) Create(ctx context.Context, tx *gorm.DB, allocation *model.PaymentAllocation) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(allocation).Error
}

func (r *AllocationRepository) ListByPayment(ctx context.Context, tenantID, paymentID int64) ([]*model.PaymentAllocation, error) {
	var allocations []*model.PaymentAllocation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

func (r *AllocationRepository) ListByObligation(ctx context.Context, tenantID, obligationID int64) ([]*model.PaymentAllocation, error) {
	var allocations []*model.PaymentAllocation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND obligation_id = ?", tenantID, obligationID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

// DiscountRepository persists discount audit rows, append-only like the
// allocation trail.
type DiscountRepository struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func (r *DiscountRepository) Create(ctx context.Context, tx *gorm.DB, grant *model.DiscountGrant) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(grant).Error
}

func (r *DiscountRepository) ListByObligation(ctx context.Context, tenantID, obligationID int64) ([]*model.DiscountGrant, error) {
	var grants []*model.DiscountGrant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND obligation_id = ?", tenantID, obligationID).
		Order("id ASC").
		Find(&grants).Error
	return grants, err
}
