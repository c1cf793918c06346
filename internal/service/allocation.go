package service

import (
	"sort"

	"schoolledger/internal/model"

	"github.com/shopspring/decimal"
)

// PlannedAllocation is one step of an allocation plan: apply Amount to
// Obligation, moving its balance from BalanceBefore to BalanceAfter.
type PlannedAllocation struct {
	Obligation    *model.Obligation
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// PlanAllocations matches a payment amount against outstanding obligations
// in priority order: overdue obligations first, then ascending due date,
// ties broken by obligation id. It walks the sorted list greedily, taking
// min(remaining, balance) from each, and returns the planned allocations
// plus whatever could not be placed.
//
// Pure: obligations are not mutated, no I/O. The caller applies the plan
// inside a transaction. Conservation holds exactly:
// sum(planned amounts) + remainder == amount.
func PlanAllocations(amount decimal.Decimal, obligations []*model.Obligation) ([]PlannedAllocation, decimal.Decimal) {
	ordered := make([]*model.Obligation, len(obligations))
	copy(ordered, obligations)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.IsOverdue != b.IsOverdue {
			return a.IsOverdue
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.ID < b.ID
	})

	var planned []PlannedAllocation
	remaining := amount
	for _, obligation := range ordered {
		if remaining.IsZero() {
			break
		}
		if !obligation.Balance.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, obligation.Balance)
		planned = append(planned, PlannedAllocation{
			Obligation:    obligation,
			Amount:        take,
			BalanceBefore: obligation.Balance,
			BalanceAfter:  obligation.Balance.Sub(take),
		})
		remaining = remaining.Sub(take)
	}
	return planned, remaining
}
