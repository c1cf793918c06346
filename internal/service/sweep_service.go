package service

import (
	"context"
	"fmt"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepBatchSize = 500

// SweepService recomputes overdue bookkeeping across a tenant. It only
// writes overdue flags and day counts, never balances; an obligation stops
// being overdue only when payment application settles it.
type SweepService struct {
	db          TxRunner
	obligations ObligationStore
	plans       PlanStore
	cfg         *config.Config
	log         *logrus.Logger
	batchSize   int
}

func NewSweepService(db TxRunner, obligations ObligationStore, plans PlanStore, cfg *config.Config, log *logrus.Logger) *SweepService {
	return &SweepService{
		db:          db,
		obligations: obligations,
		plans:       plans,
		cfg:         cfg,
		log:         log,
		batchSize:   sweepBatchSize,
	}
}

type SweepResult struct {
	ObligationsMarked  int `json:"obligations_marked"`
	InstallmentsMarked int `json:"installments_marked"`
	PlansDefaulted     int `json:"plans_defaulted"`
}

// Total is the count of rows the sweep updated.
func (r SweepResult) Total() int {
	return r.ObligationsMarked + r.InstallmentsMarked
}

// SweepOverdue is idempotent: re-running recomputes the same or larger day
// counts and marks nothing twice. Candidates are walked in id-keyed batches
// so every past-due row is visited no matter how many there are; marking a
// row changes neither its due date nor its balance, so pagination cannot
// rely on marked rows dropping out of the candidate set.
func (s *SweepService) SweepOverdue(ctx context.Context, tenantID int64) (*SweepResult, error) {
	today := time.Now().Truncate(24 * time.Hour)
	result := &SweepResult{}

	var lastObligationID int64
	for {
		obligations, err := s.obligations.ListDueForSweep(ctx, tenantID, today, lastObligationID, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list overdue obligations: %w", err)
		}
		for _, obligation := range obligations {
			lastObligationID = obligation.ID
			days := model.DaysOverdue(obligation.DueDate, today)
			if obligation.IsOverdue && obligation.OverdueDays == days {
				continue
			}
			if err := s.obligations.MarkOverdue(ctx, tenantID, obligation.ID, days); err != nil {
				s.log.WithError(err).WithField("obligation_id", obligation.ID).Warn("failed to mark obligation overdue")
				continue
			}
			result.ObligationsMarked++
		}
		if len(obligations) < s.batchSize {
			break
		}
	}

	var lastInstallmentID int64
	for {
		installments, err := s.plans.ListInstallmentsPastGrace(ctx, tenantID, today, lastInstallmentID, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list installments past grace: %w", err)
		}
		for _, installment := range installments {
			lastInstallmentID = installment.ID
			defaulted, marked, err := s.sweepInstallment(ctx, tenantID, installment, today)
			if err != nil {
				s.log.WithError(err).WithField("installment_id", installment.ID).Warn("failed to sweep installment")
				continue
			}
			if marked {
				result.InstallmentsMarked++
			}
			if defaulted {
				result.PlansDefaulted++
			}
		}
		if len(installments) < s.batchSize {
			break
		}
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"obligations":  result.ObligationsMarked,
		"installments": result.InstallmentsMarked,
		"defaulted":    result.PlansDefaulted,
	}).Info("overdue sweep finished")

	return result, nil
}

// sweepInstallment marks one installment overdue and, on the first
// transition only, bumps the parent plan's overdue counter. The plan is
// marked defaulted once the counter reaches the configured threshold. Both
// updates share one transaction with the installment update.
func (s *SweepService) sweepInstallment(ctx context.Context, tenantID int64, installment *model.Installment, today time.Time) (defaulted, marked bool, err error) {
	days := model.DaysOverdue(installment.GracePeriodEnd, today)
	transitioned := installment.Status != model.InstallmentStatusOverdue

	if !transitioned && installment.DaysOverdue == days {
		return false, false, nil
	}

	installmentVersion := installment.Version
	installment.Status = model.InstallmentStatusOverdue
	installment.DaysOverdue = days

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.plans.UpdateInstallmentBalances(ctx, tx, installment, installmentVersion); err != nil {
			return err
		}
		if !transitioned {
			return nil
		}

		plan, err := s.plans.GetByID(ctx, tenantID, installment.PaymentPlanID)
		if err != nil {
			return err
		}
		planVersion := plan.Version
		plan.InstallmentsOverdue++
		if plan.Status == model.PlanStatusActive && plan.InstallmentsOverdue >= s.cfg.Business.PlanDefaultThreshold {
			plan.Status = model.PlanStatusDefaulted
			defaulted = true
		}
		return s.plans.UpdatePlanAggregates(ctx, tx, plan, planVersion)
	})
	if err != nil {
		return false, false, err
	}
	return defaulted, true, nil
}
