package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetReconcile(t *testing.T) {
	b := &Budget{
		TotalBudgetedAmount: dec("10000"),
		AlertThreshold:      dec("80"),
	}
	at := date(2026, time.July, 1)

	alert := b.Reconcile(dec("2500"), CategoryAmounts{"SUPPLIES": dec("2500")}, at)

	assert.False(t, alert)
	assert.True(t, b.TotalActualAmount.Equal(dec("2500")))
	assert.True(t, b.VarianceAmount.Equal(dec("7500")))
	assert.True(t, b.UtilizationRate.Equal(dec("25")))
	assert.True(t, b.VariancePercentage.Equal(dec("75")))
	require.NotNil(t, b.LastReconciledAt)
	assert.Equal(t, at, *b.LastReconciledAt)
}

func TestBudgetReconcile_AlertAboveThreshold(t *testing.T) {
	b := &Budget{
		TotalBudgetedAmount: dec("10000"),
		AlertThreshold:      dec("80"),
	}

	assert.False(t, b.Reconcile(dec("8000"), nil, time.Now()), "at the threshold is not above it")
	assert.True(t, b.Reconcile(dec("8100"), nil, time.Now()))
	assert.True(t, b.Reconcile(dec("12000"), nil, time.Now()), "overspend always alerts")
}

func TestBudgetReconcile_ZeroBudgetedAmount(t *testing.T) {
	b := &Budget{AlertThreshold: dec("80")}

	alert := b.Reconcile(dec("500"), nil, time.Now())

	assert.False(t, alert)
	assert.True(t, b.UtilizationRate.IsZero())
	assert.True(t, b.VariancePercentage.IsZero())
}

func TestBudgetReconcile_Idempotent(t *testing.T) {
	b := &Budget{
		TotalBudgetedAmount: dec("7000"),
		AlertThreshold:      dec("80"),
	}
	byCategory := CategoryAmounts{"SUPPLIES": dec("1000"), "MAINTENANCE": dec("2333.33")}

	b.Reconcile(dec("3333.33"), byCategory, time.Now())
	firstUtilization := b.UtilizationRate
	firstVariance := b.VarianceAmount

	b.Reconcile(dec("3333.33"), byCategory, time.Now())

	assert.True(t, b.UtilizationRate.Equal(firstUtilization))
	assert.True(t, b.VarianceAmount.Equal(firstVariance))
}

func TestCategoryAmounts_ScanRoundTrip(t *testing.T) {
	original := CategoryAmounts{"SUPPLIES": dec("1500.50"), "TRANSPORT": dec("200")}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned CategoryAmounts
	require.NoError(t, scanned.Scan(value))

	require.Len(t, scanned, 2)
	assert.True(t, scanned["SUPPLIES"].Equal(dec("1500.50")))
	assert.True(t, scanned["TRANSPORT"].Equal(dec("200")))
}

func TestCategoryAmounts_ScanNil(t *testing.T) {
	var c CategoryAmounts
	require.NoError(t, c.Scan(nil))
	assert.NotNil(t, c)
	assert.Empty(t, c)
}
