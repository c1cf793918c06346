package job

import (
	"context"

	"schoolledger/internal/config"
	"schoolledger/internal/repository"
	"schoolledger/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OverdueSweepJob runs the overdue sweep for every tenant on a cron
// schedule (daily by default). The sweep itself is idempotent, so an extra
// run after a missed schedule is harmless.
type OverdueSweepJob struct {
	sweeper        *service.SweepService
	obligationRepo *repository.ObligationRepository
	cfg            *config.Config
	log            *logrus.Logger
	cron           *cron.Cron
}

func NewOverdueSweepJob(db *gorm.DB, sweeper *service.SweepService, cfg *config.Config, log *logrus.Logger) *OverdueSweepJob {
	return &OverdueSweepJob{
		sweeper:        sweeper,
		obligationRepo: repository.NewObligationRepository(db),
		cfg:            cfg,
		log:            log,
		cron:           cron.New(),
	}
}

func (j *OverdueSweepJob) Start(ctx context.Context) {
	_, err := j.cron.AddFunc(j.cfg.Business.SweepSchedule, func() {
		j.sweepAllTenants(ctx)
	})
	if err != nil {
		j.log.WithError(err).Error("[OverdueSweepJob] invalid sweep schedule")
		return
	}

	j.cron.Start()
	j.log.WithField("schedule", j.cfg.Business.SweepSchedule).Info("[OverdueSweepJob] started")

	<-ctx.Done()
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	j.log.Info("[OverdueSweepJob] stopped")
}

func (j *OverdueSweepJob) sweepAllTenants(ctx context.Context) {
	tenantIDs, err := j.obligationRepo.ListTenantIDs(ctx)
	if err != nil {
		j.log.WithError(err).Error("[OverdueSweepJob] failed to list tenants")
		return
	}

	for _, tenantID := range tenantIDs {
		result, err := j.sweeper.SweepOverdue(ctx, tenantID)
		if err != nil {
			j.log.WithError(err).WithField("tenant_id", tenantID).Error("[OverdueSweepJob] sweep failed")
			continue
		}
		if result.Total() > 0 {
			j.log.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"updated":   result.Total(),
			}).Info("[OverdueSweepJob] tenant swept")
		}
	}
}
