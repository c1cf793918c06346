package service

import (
	"context"
	"fmt"
	"time"

	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ObligationService owns obligation lifecycle outside of payment
// application: creation when a fee structure is materialized, and discount
// application.
type ObligationService struct {
	db          TxRunner
	obligations ObligationStore
	discounts   DiscountStore
	log         *logrus.Logger
}

func NewObligationService(db TxRunner, obligations ObligationStore, discounts DiscountStore, log *logrus.Logger) *ObligationService {
	return &ObligationService{
		db:          db,
		obligations: obligations,
		discounts:   discounts,
		log:         log,
	}
}

type CreateObligationRequest struct {
	TenantID       int64
	OwnerType      string
	OwnerID        int64
	Title          string
	FeeType        string
	OriginalAmount decimal.Decimal
	DueDate        time.Time
}

func (s *ObligationService) CreateObligation(ctx context.Context, req *CreateObligationRequest) (*model.Obligation, error) {
	if !req.OriginalAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	ownerType := req.OwnerType
	if ownerType == "" {
		ownerType = model.OwnerTypeStudent
	}

	obligation := &model.Obligation{
		TenantID:       req.TenantID,
		OwnerType:      ownerType,
		OwnerID:        req.OwnerID,
		Title:          req.Title,
		FeeType:        req.FeeType,
		OriginalAmount: req.OriginalAmount,
		DueDate:        req.DueDate,
	}
	obligation.Recompute()

	if err := s.obligations.Create(ctx, nil, obligation); err != nil {
		return nil, fmt.Errorf("failed to create obligation: %w", err)
	}
	return obligation, nil
}

type ApplyDiscountRequest struct {
	TenantID     int64
	ObligationID int64
	Amount       decimal.Decimal
	DiscountType string
	Reason       string
	ApproverID   int64
}

// ApplyDiscount raises the obligation discount and records an audit grant
// in the same transaction. If the discount exceeds the remaining balance
// the balance is clamped at zero and the excess is flagged on the grant.
func (s *ObligationService) ApplyDiscount(ctx context.Context, req *ApplyDiscountRequest) (*model.Obligation, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	obligation, err := s.obligations.GetByID(ctx, req.TenantID, req.ObligationID)
	if err != nil {
		return nil, err
	}

	expectedVersion := obligation.Version
	clamped := obligation.ApplyDiscount(req.Amount)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.obligations.UpdateBalances(ctx, tx, obligation, expectedVersion); err != nil {
			return fmt.Errorf("failed to update obligation balances: %w", err)
		}
		grant := &model.DiscountGrant{
			TenantID:      req.TenantID,
			ObligationID:  req.ObligationID,
			Amount:        req.Amount,
			DiscountType:  req.DiscountType,
			Reason:        req.Reason,
			ApproverID:    req.ApproverID,
			ClampedAmount: clamped,
		}
		if err := s.discounts.Create(ctx, tx, grant); err != nil {
			return fmt.Errorf("failed to record discount grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if clamped.IsPositive() {
		s.log.WithFields(logrus.Fields{
			"tenant_id":     req.TenantID,
			"obligation_id": req.ObligationID,
			"clamped":       clamped,
		}).Warn("discount exceeded remaining balance, clamped at zero")
	}

	return obligation, nil
}
