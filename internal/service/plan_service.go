package service

import (
	"context"
	"fmt"
	"time"

	"schoolledger/internal/model"
	"schoolledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PlanService generates installment schedules and applies earmarked
// payments against individual installments.
type PlanService struct {
	db       TxRunner
	plans    PlanStore
	payments PaymentStore
	log      *logrus.Logger
}

func NewPlanService(db TxRunner, plans PlanStore, payments PaymentStore, log *logrus.Logger) *PlanService {
	return &PlanService{
		db:       db,
		plans:    plans,
		payments: payments,
		log:      log,
	}
}

type CreatePlanRequest struct {
	TenantID             int64
	StudentID            int64
	TotalAmount          decimal.Decimal
	DownPayment          decimal.Decimal
	NumberOfInstallments int
	Frequency            string
	StartDate            time.Time
	GracePeriodDays      int
}

type CreatePlanResult struct {
	Plan         *model.PaymentPlan   `json:"plan"`
	Installments []*model.Installment `json:"installments"`
}

// CreatePaymentPlan builds the plan and its full installment schedule and
// persists both in one transaction.
func (s *PlanService) CreatePaymentPlan(ctx context.Context, req *CreatePlanRequest) (*CreatePlanResult, error) {
	if !req.TotalAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.DownPayment.IsNegative() || req.DownPayment.GreaterThanOrEqual(req.TotalAmount) {
		return nil, fmt.Errorf("down payment must be non-negative and below the total amount")
	}
	if req.NumberOfInstallments <= 0 {
		return nil, fmt.Errorf("number of installments must be positive")
	}
	if req.StartDate.IsZero() {
		return nil, fmt.Errorf("start date is required")
	}

	remaining := req.TotalAmount.Sub(req.DownPayment)
	plan := &model.PaymentPlan{
		TenantID:             req.TenantID,
		PlanNo:               idgen.GeneratePlanNo(),
		StudentID:            req.StudentID,
		TotalAmount:          req.TotalAmount,
		DownPayment:          req.DownPayment,
		RemainingAmount:      remaining,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		StartDate:            req.StartDate,
		GracePeriodDays:      req.GracePeriodDays,
		Balance:              remaining,
		Status:               model.PlanStatusActive,
	}

	installments := model.GenerateInstallments(plan)
	plan.InstallmentAmount = installments[0].Amount

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.plans.Create(ctx, tx, plan); err != nil {
			return fmt.Errorf("failed to create payment plan: %w", err)
		}
		for _, installment := range installments {
			installment.PaymentPlanID = plan.ID
		}
		if err := s.plans.CreateInstallments(ctx, tx, installments); err != nil {
			return fmt.Errorf("failed to create installment schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":    plan.TenantID,
		"plan_no":      plan.PlanNo,
		"student_id":   plan.StudentID,
		"installments": len(installments),
	}).Info("payment plan created")

	return &CreatePlanResult{Plan: plan, Installments: installments}, nil
}

type InstallmentPaymentResult struct {
	Installment *model.Installment `json:"installment"`
	Plan        *model.PaymentPlan `json:"plan"`
	// AppliedAmount is the portion of the requested amount actually
	// applied; anything beyond the installment balance is not taken.
	AppliedAmount decimal.Decimal `json:"applied_amount"`
}

// ApplyInstallmentPayment applies an earmarked payment to one installment
// and propagates the delta to the parent plan aggregates in the same
// transaction, so the installment can never be marked paid while the plan
// disagrees. The applied amount is reserved against the payment's
// unallocated remainder inside that transaction, so one payment can never
// back more installment money than it carries.
func (s *PlanService) ApplyInstallmentPayment(ctx context.Context, tenantID, installmentID, paymentID int64, amount decimal.Decimal) (*InstallmentPaymentResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	installment, err := s.plans.GetInstallmentByID(ctx, tenantID, installmentID)
	if err != nil {
		return nil, err
	}
	if installment.Balance.IsZero() {
		return nil, ErrInstallmentSettled
	}

	plan, err := s.plans.GetByID(ctx, tenantID, installment.PaymentPlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != model.PlanStatusActive {
		return nil, ErrPlanClosed
	}

	if _, err := s.payments.GetByID(ctx, tenantID, paymentID); err != nil {
		return nil, err
	}

	applied := decimal.Min(amount, installment.Balance)
	installmentVersion := installment.Version
	planVersion := plan.Version

	wasOverdue := installment.Status == model.InstallmentStatusOverdue
	installment.ApplyPayment(applied)
	settled := installment.Status == model.InstallmentStatusPaid
	plan.ApplyInstallmentDelta(applied, settled)
	if settled && wasOverdue && plan.InstallmentsOverdue > 0 {
		plan.InstallmentsOverdue--
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payments.DeductUnallocated(ctx, tx, tenantID, paymentID, applied); err != nil {
			return err
		}
		if err := s.plans.UpdateInstallmentBalances(ctx, tx, installment, installmentVersion); err != nil {
			return fmt.Errorf("failed to update installment: %w", err)
		}
		if err := s.plans.UpdatePlanAggregates(ctx, tx, plan, planVersion); err != nil {
			return fmt.Errorf("failed to update plan aggregates: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":      tenantID,
		"plan_no":        plan.PlanNo,
		"installment_no": installment.InstallmentNumber,
		"applied":        applied,
		"plan_status":    plan.Status,
	}).Info("installment payment applied")

	return &InstallmentPaymentResult{
		Installment:   installment,
		Plan:          plan,
		AppliedAmount: applied,
	}, nil
}

// GetPlan returns a plan with its schedule.
func (s *PlanService) GetPlan(ctx context.Context, tenantID, planID int64) (*CreatePlanResult, error) {
	plan, err := s.plans.GetByID(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	installments, err := s.plans.ListInstallments(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	return &CreatePlanResult{Plan: plan, Installments: installments}, nil
}
