package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/model"
	"schoolledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PaymentService records payments and applies them to outstanding
// obligations through the allocation engine.
type PaymentService struct {
	db            TxRunner
	obligations   ObligationStore
	payments      PaymentStore
	allocations   AllocationStore
	outbox        OutboxStore
	locks         LockManager
	sequences     SequenceService
	cfg           *config.Config
	log           *logrus.Logger
}

func NewPaymentService(
	db TxRunner,
	obligations ObligationStore,
	payments PaymentStore,
	allocations AllocationStore,
	outbox OutboxStore,
	locks LockManager,
	sequences SequenceService,
	cfg *config.Config,
	log *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		db:          db,
		obligations: obligations,
		payments:    payments,
		allocations: allocations,
		outbox:      outbox,
		locks:       locks,
		sequences:   sequences,
		cfg:         cfg,
		log:         log,
	}
}

type RecordPaymentRequest struct {
	TenantID  int64
	StudentID int64
	Amount    decimal.Decimal
	Method    string
	Date      time.Time
	// RequestID is the caller's idempotency key; for gateway webhooks it
	// is the gateway transaction reference.
	RequestID        string
	GatewayReference string
	// Earmarked skips automatic allocation: the full amount stays
	// unallocated for a later installment application.
	Earmarked bool
}

type RecordPaymentResult struct {
	Payment           *model.Payment             `json:"payment"`
	Allocations       []*model.PaymentAllocation `json:"allocations"`
	UnallocatedAmount decimal.Decimal            `json:"unallocated_amount"`
	// Replayed is true when the request id matched an existing payment
	// and the original result was returned unchanged.
	Replayed bool `json:"replayed"`
}

// RecordPayment creates a payment and applies it to the student's
// outstanding obligations in one atomic transaction. Replaying the same
// request id returns the original payment and allocation set; nothing is
// written twice.
func (s *PaymentService) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*RecordPaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("request id is required")
	}

	existing, err := s.payments.GetByRequestID(ctx, req.TenantID, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment by request id: %w", err)
	}
	if existing != nil {
		return s.replayResult(ctx, existing)
	}

	// Serialize allocation per student; two concurrent payments for the
	// same student must not race over the same obligation balances.
	release, err := s.locks.AcquireStudentLock(ctx, req.TenantID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire allocation lock: %w", err)
	}
	defer release()

	// Re-check under the lock: the same request may have won the lock
	// first on another instance.
	existing, err = s.payments.GetByRequestID(ctx, req.TenantID, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment by request id: %w", err)
	}
	if existing != nil {
		return s.replayResult(ctx, existing)
	}

	paymentRef, err := s.sequences.NextPaymentReference(ctx, req.TenantID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment reference: %w", err)
	}
	receiptNo, err := s.sequences.NextReceiptNumber(ctx, req.TenantID, req.Date.Year())
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt number: %w", err)
	}

	payment := &model.Payment{
		TenantID:         req.TenantID,
		PaymentNo:        idgen.GeneratePaymentNo(),
		RequestID:        req.RequestID,
		StudentID:        req.StudentID,
		Amount:           req.Amount,
		Method:           req.Method,
		PaymentDate:      req.Date,
		PaymentReference: paymentRef,
		ReceiptNumber:    receiptNo,
		GatewayReference: req.GatewayReference,
		IsVerified:       req.GatewayReference != "",
		PaymentStatus:    model.PaymentStatusCompleted,
	}

	var createdAllocations []*model.PaymentAllocation

	err = s.db.Transaction(func(tx *gorm.DB) error {
		remainder := req.Amount
		var planned []PlannedAllocation

		if !req.Earmarked {
			outstanding, err := s.obligations.ListOutstandingForStudent(ctx, tx, req.TenantID, req.StudentID)
			if err != nil {
				return fmt.Errorf("failed to load outstanding obligations: %w", err)
			}
			planned, remainder = PlanAllocations(req.Amount, outstanding)
		}

		payment.UnallocatedAmount = remainder
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		for _, p := range planned {
			obligation := p.Obligation
			expectedVersion := obligation.Version
			obligation.ApplyPayment(p.Amount, req.Date)
			if err := s.obligations.UpdateBalances(ctx, tx, obligation, expectedVersion); err != nil {
				return fmt.Errorf("failed to apply payment to obligation %d: %w", obligation.ID, err)
			}

			allocation := &model.PaymentAllocation{
				TenantID:        req.TenantID,
				PaymentID:       payment.ID,
				ObligationID:    obligation.ID,
				AllocatedAmount: p.Amount,
				BalanceBefore:   p.BalanceBefore,
				BalanceAfter:    p.BalanceAfter,
			}
			if err := s.allocations.Create(ctx, tx, allocation); err != nil {
				return fmt.Errorf("failed to record allocation: %w", err)
			}
			createdAllocations = append(createdAllocations, allocation)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"payment_no":         payment.PaymentNo,
			"tenant_id":          payment.TenantID,
			"student_id":         payment.StudentID,
			"amount":             payment.Amount,
			"unallocated_amount": payment.UnallocatedAmount,
			"allocations":        len(createdAllocations),
			"payment_date":       payment.PaymentDate.Format(time.RFC3339),
		})
		msg := &model.OutboxMessage{
			TenantID:   payment.TenantID,
			MessageKey: payment.PaymentNo,
			Topic:      s.cfg.Kafka.Topic.PaymentRecorded,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outbox.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("failed to write outbox message: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   payment.TenantID,
		"payment_no":  payment.PaymentNo,
		"student_id":  payment.StudentID,
		"amount":      payment.Amount,
		"allocated":   len(createdAllocations),
		"unallocated": payment.UnallocatedAmount,
	}).Info("payment recorded")

	return &RecordPaymentResult{
		Payment:           payment,
		Allocations:       createdAllocations,
		UnallocatedAmount: payment.UnallocatedAmount,
	}, nil
}

func (s *PaymentService) replayResult(ctx context.Context, payment *model.Payment) (*RecordPaymentResult, error) {
	allocations, err := s.allocations.ListByPayment(ctx, payment.TenantID, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations for replayed payment: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  payment.TenantID,
		"payment_no": payment.PaymentNo,
		"request_id": payment.RequestID,
	}).Info("duplicate request id, returning original payment")
	return &RecordPaymentResult{
		Payment:           payment,
		Allocations:       allocations,
		UnallocatedAmount: payment.UnallocatedAmount,
		Replayed:          true,
	}, nil
}

// TransitionPaymentStatus moves a payment through its status machine, for
// refunds and cancellations. The transition table rejects anything else;
// balances and allocations are not touched here.
func (s *PaymentService) TransitionPaymentStatus(ctx context.Context, tenantID, paymentID int64, toStatus string) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.payments.UpdateStatus(ctx, nil, tenantID, paymentID, payment.PaymentStatus, toStatus); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"payment_no": payment.PaymentNo,
		"from":       payment.PaymentStatus,
		"to":         toStatus,
	}).Info("payment status updated")
	payment.PaymentStatus = toStatus
	return payment, nil
}

// VerifyPayment marks a manually recorded payment as verified by a staff
// member. Gateway payments arrive verified.
func (s *PaymentService) VerifyPayment(ctx context.Context, tenantID, paymentID, verifiedBy int64) (*model.Payment, error) {
	if err := s.payments.MarkVerified(ctx, tenantID, paymentID, verifiedBy); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, tenantID, paymentID)
}

// GetPayment returns a payment with its allocation trail.
func (s *PaymentService) GetPayment(ctx context.Context, tenantID, paymentID int64) (*RecordPaymentResult, error) {
	payment, err := s.payments.GetByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	allocations, err := s.allocations.ListByPayment(ctx, tenantID, payment.ID)
	if err != nil {
		return nil, err
	}
	return &RecordPaymentResult{
		Payment:           payment,
		Allocations:       allocations,
		UnallocatedAmount: payment.UnallocatedAmount,
	}, nil
}
