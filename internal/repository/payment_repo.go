package repository

import (
	"context"
	"errors"

	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentStatusInvalid = errors.New("payment status transition not allowed")
	ErrPaymentExhausted     = errors.New("payment unallocated amount insufficient")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, tenantID, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByRequestID looks a payment up by its idempotency key. Returns
// (nil, nil) when no payment with that key exists yet.
func (r *PaymentRepository) GetByRequestID(ctx context.Context, tenantID int64, requestID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND request_id = ?", tenantID, requestID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus moves a payment between statuses, enforcing the transition
// table with a conditional update so concurrent transitions cannot race.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, tenantID, id int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("tenant_id = ? AND id = ? AND payment_status = ?", tenantID, id, fromStatus).
		Update("payment_status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}
	return nil
}

// DeductUnallocated reserves part of a payment's unallocated remainder for
// an application. The balance guard in the WHERE clause keeps the remainder
// from going negative when two applications race on the same payment.
func (r *PaymentRepository) DeductUnallocated(ctx context.Context, tx *gorm.DB, tenantID, id int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("tenant_id = ? AND id = ? AND unallocated_amount >= ?", tenantID, id, amount).
		Update("unallocated_amount", gorm.Expr("unallocated_amount - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tenantID, id); err != nil {
			return err
		}
		return ErrPaymentExhausted
	}
	return nil
}

func (r *PaymentRepository) MarkVerified(ctx context.Context, tenantID, id, verifiedBy int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{
			"is_verified": true,
			"verified_by": verifiedBy,
			"verified_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) ListByStudent(ctx context.Context, tenantID, studentID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("tenant_id = ? AND student_id = ?", tenantID, studentID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("payment_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
