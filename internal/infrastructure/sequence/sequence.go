package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Service mints tenant-and-period scoped reference numbers from redis
// counters. A single INCR per reference means concurrent inserts can never
// observe the same "last row this period" and mint duplicates.
type Service struct {
	client *redis.Client
}

func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

func (s *Service) next(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		// First use this period; expire the counter once the period is
		// safely over. A counter without its expiry would never be
		// reclaimed.
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("failed to set expiry on counter %s: %w", key, err)
		}
	}
	return n, nil
}

// NextPaymentReference is scoped per tenant per calendar day.
func (s *Service) NextPaymentReference(ctx context.Context, tenantID int64, date time.Time) (string, error) {
	day := date.Format("20060102")
	key := fmt.Sprintf("ledger:seq:payment:%d:%s", tenantID, day)
	n, err := s.next(ctx, key, 48*time.Hour)
	if err != nil {
		return "", err
	}
	return FormatPaymentReference(tenantID, date, n), nil
}

// NextReceiptNumber is scoped per tenant per calendar year.
func (s *Service) NextReceiptNumber(ctx context.Context, tenantID int64, year int) (string, error) {
	key := fmt.Sprintf("ledger:seq:receipt:%d:%d", tenantID, year)
	n, err := s.next(ctx, key, 0)
	if err != nil {
		return "", err
	}
	return FormatReceiptNumber(tenantID, year, n), nil
}

// NextExpenseReference is scoped per tenant per calendar day.
func (s *Service) NextExpenseReference(ctx context.Context, tenantID int64, date time.Time) (string, error) {
	day := date.Format("20060102")
	key := fmt.Sprintf("ledger:seq:expense:%d:%s", tenantID, day)
	n, err := s.next(ctx, key, 48*time.Hour)
	if err != nil {
		return "", err
	}
	return FormatExpenseReference(tenantID, date, n), nil
}

// Formatting is split out from counter allocation so it can be tested
// without redis.

func FormatPaymentReference(tenantID int64, date time.Time, n int64) string {
	return fmt.Sprintf("PAY-%d-%s-%04d", tenantID, date.Format("20060102"), n)
}

func FormatReceiptNumber(tenantID int64, year int, n int64) string {
	return fmt.Sprintf("RCP-%d-%d-%05d", tenantID, year, n)
}

func FormatExpenseReference(tenantID int64, date time.Time, n int64) string {
	return fmt.Sprintf("EXP-%d-%s-%04d", tenantID, date.Format("20060102"), n)
}
