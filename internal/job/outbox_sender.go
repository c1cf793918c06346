package job

import (
	"context"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/infrastructure/mq"
	"schoolledger/internal/model"
	"schoolledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender drains pending outbox rows to kafka. Messages survive
// process crashes because they are committed with the state change that
// produced them.
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	log        *logrus.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *OutboxSender {
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("[OutboxSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[OutboxSender] context cancelled, exiting")
			return
		case <-s.stopCh:
			s.log.Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("[OutboxSender] failed to fetch pending messages")
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.log.WithError(updateErr).WithField("id", msg.ID).Error("[OutboxSender] failed to mark message sent")
		}
		return
	}

	s.log.WithError(err).WithField("id", msg.ID).Warn("[OutboxSender] publish failed")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.WithError(err).WithField("id", msg.ID).Error("[OutboxSender] failed to bump retry count")
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.WithError(err).WithField("id", msg.ID).Error("[OutboxSender] failed to mark message failed")
		} else {
			s.log.WithField("id", msg.ID).Warn("[OutboxSender] message exceeded max retries, marked failed")
		}
	}
}
