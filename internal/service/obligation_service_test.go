package service

import (
	"context"
	"testing"
	"time"

	"schoolledger/internal/model"
	"schoolledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type obligationFixture struct {
	db      *memDB
	service *ObligationService
}

func newObligationFixture() *obligationFixture {
	db := newMemDB()
	svc := NewObligationService(
		&memTx{db: db},
		&memObligations{db: db},
		&memDiscounts{db: db},
		testLogger(),
	)
	return &obligationFixture{db: db, service: svc}
}

func TestCreateObligation_DerivesBalanceAndStatus(t *testing.T) {
	f := newObligationFixture()

	obligation, err := f.service.CreateObligation(context.Background(), &CreateObligationRequest{
		TenantID:       1,
		OwnerID:        10,
		Title:          "Term 1 Tuition",
		FeeType:        "TUITION",
		OriginalAmount: dec("1200.50"),
		DueDate:        date(2026, time.March, 1),
	})
	require.NoError(t, err)

	assert.Equal(t, model.OwnerTypeStudent, obligation.OwnerType)
	assert.True(t, obligation.FinalAmount.Equal(dec("1200.50")))
	assert.True(t, obligation.Balance.Equal(dec("1200.50")))
	assert.Equal(t, model.ObligationStatusPending, obligation.Status)
}

func TestCreateObligation_RejectsNonPositiveAmount(t *testing.T) {
	f := newObligationFixture()

	_, err := f.service.CreateObligation(context.Background(), &CreateObligationRequest{
		TenantID:       1,
		OwnerID:        10,
		Title:          "Term 1 Tuition",
		OriginalAmount: dec("-5"),
		DueDate:        date(2026, time.March, 1),
	})

	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyDiscount_ReducesBalance(t *testing.T) {
	f := newObligationFixture()
	created, err := f.service.CreateObligation(context.Background(), &CreateObligationRequest{
		TenantID:       1,
		OwnerID:        10,
		Title:          "Term 1 Tuition",
		OriginalAmount: dec("1000"),
		DueDate:        date(2026, time.March, 1),
	})
	require.NoError(t, err)

	obligation, err := f.service.ApplyDiscount(context.Background(), &ApplyDiscountRequest{
		TenantID:     1,
		ObligationID: created.ID,
		Amount:       dec("250"),
		DiscountType: "SCHOLARSHIP",
		Reason:       "merit scholarship",
		ApproverID:   7,
	})
	require.NoError(t, err)

	assert.True(t, obligation.FinalAmount.Equal(dec("750")))
	assert.True(t, obligation.Balance.Equal(dec("750")))
	assert.True(t, obligation.DiscountAmount.Equal(dec("250")))

	require.Len(t, f.db.discounts, 1)
	grant := f.db.discounts[0]
	assert.Equal(t, created.ID, grant.ObligationID)
	assert.True(t, grant.Amount.Equal(dec("250")))
	assert.True(t, grant.ClampedAmount.IsZero())
}

func TestApplyDiscount_ClampsBalanceAtZero(t *testing.T) {
	f := newObligationFixture()
	created, err := f.service.CreateObligation(context.Background(), &CreateObligationRequest{
		TenantID:       1,
		OwnerID:        10,
		Title:          "Lab Fee",
		OriginalAmount: dec("100"),
		DueDate:        date(2026, time.March, 1),
	})
	require.NoError(t, err)

	obligation, err := f.service.ApplyDiscount(context.Background(), &ApplyDiscountRequest{
		TenantID:     1,
		ObligationID: created.ID,
		Amount:       dec("130"),
		Reason:       "hardship waiver",
		ApproverID:   7,
	})
	require.NoError(t, err)

	assert.True(t, obligation.Balance.IsZero())
	assert.True(t, obligation.DiscountAmount.Equal(dec("100")))
	assert.True(t, obligation.FinalAmount.IsZero())
	assert.Equal(t, model.ObligationStatusPaid, obligation.Status)

	require.Len(t, f.db.discounts, 1)
	assert.True(t, f.db.discounts[0].ClampedAmount.Equal(dec("30")))
}

func TestApplyDiscount_UnknownObligation(t *testing.T) {
	f := newObligationFixture()

	_, err := f.service.ApplyDiscount(context.Background(), &ApplyDiscountRequest{
		TenantID:     1,
		ObligationID: 999,
		Amount:       dec("10"),
		Reason:       "whatever",
		ApproverID:   7,
	})

	assert.ErrorIs(t, err, repository.ErrObligationNotFound)
}
