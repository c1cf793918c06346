package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/model"
	"schoolledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// memDB is the shared backing state for the in-memory stores. The fake
// transaction runner snapshots it before the callback and restores it when
// the callback fails, so service-level atomicity is observable in tests.
type memDB struct {
	mu           sync.Mutex
	nextID       int64
	obligations  map[int64]*model.Obligation
	payments     map[int64]*model.Payment
	allocations  []*model.PaymentAllocation
	discounts    []*model.DiscountGrant
	plans        map[int64]*model.PaymentPlan
	installments map[int64]*model.Installment
	budgets      map[int64]*model.Budget
	expenses     []*model.Expense
	outbox       []*model.OutboxMessage
}

func newMemDB() *memDB {
	return &memDB{
		obligations:  map[int64]*model.Obligation{},
		payments:     map[int64]*model.Payment{},
		plans:        map[int64]*model.PaymentPlan{},
		installments: map[int64]*model.Installment{},
		budgets:      map[int64]*model.Budget{},
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

type memSnapshot struct {
	nextID       int64
	obligations  map[int64]*model.Obligation
	payments     map[int64]*model.Payment
	allocations  []*model.PaymentAllocation
	discounts    []*model.DiscountGrant
	plans        map[int64]*model.PaymentPlan
	installments map[int64]*model.Installment
	budgets      map[int64]*model.Budget
	expenses     []*model.Expense
	outbox       []*model.OutboxMessage
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := memSnapshot{
		nextID:       db.nextID,
		obligations:  map[int64]*model.Obligation{},
		payments:     map[int64]*model.Payment{},
		plans:        map[int64]*model.PaymentPlan{},
		installments: map[int64]*model.Installment{},
		budgets:      map[int64]*model.Budget{},
	}
	for id, o := range db.obligations {
		c := *o
		s.obligations[id] = &c
	}
	for id, p := range db.payments {
		c := *p
		s.payments[id] = &c
	}
	for id, p := range db.plans {
		c := *p
		s.plans[id] = &c
	}
	for id, i := range db.installments {
		c := *i
		s.installments[id] = &c
	}
	for id, b := range db.budgets {
		c := *b
		s.budgets[id] = &c
	}
	s.allocations = append(s.allocations, db.allocations...)
	s.discounts = append(s.discounts, db.discounts...)
	s.expenses = append(s.expenses, db.expenses...)
	s.outbox = append(s.outbox, db.outbox...)
	return s
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID = s.nextID
	db.obligations = s.obligations
	db.payments = s.payments
	db.plans = s.plans
	db.installments = s.installments
	db.budgets = s.budgets
	db.allocations = s.allocations
	db.discounts = s.discounts
	db.expenses = s.expenses
	db.outbox = s.outbox
}

// memTx satisfies TxRunner. It invokes the callback with a nil *gorm.DB
// (the stores ignore the tx argument) and rolls the shared state back when
// the callback returns an error.
type memTx struct {
	db *memDB
}

func (t *memTx) Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	snap := t.db.snapshot()
	if err := fc(nil); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

// ---- obligation store ----

type memObligations struct {
	db *memDB
}

func (s *memObligations) Create(ctx context.Context, tx *gorm.DB, o *model.Obligation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o.ID = s.db.id()
	c := *o
	s.db.obligations[o.ID] = &c
	return nil
}

func (s *memObligations) GetByID(ctx context.Context, tenantID, id int64) (*model.Obligation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.obligations[id]
	if !ok || o.TenantID != tenantID {
		return nil, repository.ErrObligationNotFound
	}
	c := *o
	return &c, nil
}

func (s *memObligations) ListOutstandingForStudent(ctx context.Context, tx *gorm.DB, tenantID, studentID int64) ([]*model.Obligation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*model.Obligation
	for _, o := range s.db.obligations {
		if o.TenantID == tenantID && o.OwnerType == model.OwnerTypeStudent && o.OwnerID == studentID && o.Balance.IsPositive() {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memObligations) UpdateBalances(ctx context.Context, tx *gorm.DB, o *model.Obligation, expectedVersion int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored, ok := s.db.obligations[o.ID]
	if !ok || stored.TenantID != o.TenantID {
		return repository.ErrObligationNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrOptimisticLock
	}
	c := *o
	c.Version = expectedVersion + 1
	s.db.obligations[o.ID] = &c
	o.Version = c.Version
	return nil
}

func (s *memObligations) ListDueForSweep(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Obligation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*model.Obligation
	for _, o := range s.db.obligations {
		if o.TenantID == tenantID && o.ID > afterID && o.DueDate.Before(today) && o.Balance.IsPositive() && o.Status != model.ObligationStatusPaid {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memObligations) MarkOverdue(ctx context.Context, tenantID, id int64, overdueDays int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.obligations[id]
	if !ok || o.TenantID != tenantID {
		return repository.ErrObligationNotFound
	}
	o.IsOverdue = true
	o.OverdueDays = overdueDays
	return nil
}

// ---- payment store ----

type memPayments struct {
	db *memDB
}

func (s *memPayments) Create(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.payments {
		if existing.TenantID == p.TenantID && existing.RequestID == p.RequestID {
			return fmt.Errorf("duplicate request id %q", p.RequestID)
		}
	}
	p.ID = s.db.id()
	c := *p
	s.db.payments[p.ID] = &c
	return nil
}

func (s *memPayments) GetByID(ctx context.Context, tenantID, id int64) (*model.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (s *memPayments) GetByRequestID(ctx context.Context, tenantID int64, requestID string) (*model.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payments {
		if p.TenantID == tenantID && p.RequestID == requestID {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memPayments) UpdateStatus(ctx context.Context, tx *gorm.DB, tenantID, id int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrPaymentStatusInvalid
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok || p.TenantID != tenantID || p.PaymentStatus != fromStatus {
		return repository.ErrPaymentStatusInvalid
	}
	p.PaymentStatus = toStatus
	return nil
}

func (s *memPayments) DeductUnallocated(ctx context.Context, tx *gorm.DB, tenantID, id int64, amount decimal.Decimal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok || p.TenantID != tenantID {
		return repository.ErrPaymentNotFound
	}
	if p.UnallocatedAmount.LessThan(amount) {
		return repository.ErrPaymentExhausted
	}
	p.UnallocatedAmount = p.UnallocatedAmount.Sub(amount)
	return nil
}

func (s *memPayments) MarkVerified(ctx context.Context, tenantID, id, verifiedBy int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok || p.TenantID != tenantID {
		return repository.ErrPaymentNotFound
	}
	now := time.Now()
	p.IsVerified = true
	p.VerifiedBy = &verifiedBy
	p.VerifiedAt = &now
	return nil
}

// ---- allocation / discount stores ----

type memAllocations struct {
	db *memDB
}

func (s *memAllocations) Create(ctx context.Context, tx *gorm.DB, a *model.PaymentAllocation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a.ID = s.db.id()
	c := *a
	s.db.allocations = append(s.db.allocations, &c)
	return nil
}

func (s *memAllocations) ListByPayment(ctx context.Context, tenantID, paymentID int64) ([]*model.PaymentAllocation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*model.PaymentAllocation
	for _, a := range s.db.allocations {
		if a.TenantID == tenantID && a.PaymentID == paymentID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type memDiscounts struct {
	db *memDB
}

func (s *memDiscounts) Create(ctx context.Context, tx *gorm.DB, g *model.DiscountGrant) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	g.ID = s.db.id()
	c := *g
	s.db.discounts = append(s.db.discounts, &c)
	return nil
}

// ---- plan store ----

type memPlans struct {
	db *memDB
}

func (s *memPlans) Create(ctx context.Context, tx *gorm.DB, p *model.PaymentPlan) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p.ID = s.db.id()
	c := *p
	s.db.plans[p.ID] = &c
	return nil
}

func (s *memPlans) CreateInstallments(ctx context.Context, tx *gorm.DB, installments []*model.Installment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, i := range installments {
		i.ID = s.db.id()
		c := *i
		s.db.installments[i.ID] = &c
	}
	return nil
}

func (s *memPlans) GetByID(ctx context.Context, tenantID, id int64) (*model.PaymentPlan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrPlanNotFound
	}
	c := *p
	return &c, nil
}

func (s *memPlans) GetInstallmentByID(ctx context.Context, tenantID, id int64) (*model.Installment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	i, ok := s.db.installments[id]
	if !ok || i.TenantID != tenantID {
		return nil, repository.ErrInstallmentNotFound
	}
	c := *i
	return &c, nil
}

func (s *memPlans) ListInstallments(ctx context.Context, tenantID, planID int64) ([]*model.Installment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*model.Installment
	for _, i := range s.db.installments {
		if i.TenantID == tenantID && i.PaymentPlanID == planID {
			c := *i
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InstallmentNumber < out[b].InstallmentNumber })
	return out, nil
}

func (s *memPlans) UpdateInstallmentBalances(ctx context.Context, tx *gorm.DB, i *model.Installment, expectedVersion int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored, ok := s.db.installments[i.ID]
	if !ok || stored.TenantID != i.TenantID {
		return repository.ErrInstallmentNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrOptimisticLock
	}
	c := *i
	c.Version = expectedVersion + 1
	s.db.installments[i.ID] = &c
	i.Version = c.Version
	return nil
}

func (s *memPlans) UpdatePlanAggregates(ctx context.Context, tx *gorm.DB, p *model.PaymentPlan, expectedVersion int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored, ok := s.db.plans[p.ID]
	if !ok || stored.TenantID != p.TenantID {
		return repository.ErrPlanNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrOptimisticLock
	}
	c := *p
	c.Version = expectedVersion + 1
	s.db.plans[p.ID] = &c
	p.Version = c.Version
	return nil
}

func (s *memPlans) ListInstallmentsPastGrace(ctx context.Context, tenantID int64, today time.Time, afterID int64, limit int) ([]*model.Installment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*model.Installment
	for _, i := range s.db.installments {
		if i.TenantID == tenantID && i.ID > afterID && i.GracePeriodEnd.Before(today) && i.Balance.IsPositive() && i.Status != model.InstallmentStatusPaid {
			c := *i
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- budget / expense stores ----

type memBudgets struct {
	db *memDB
}

func (s *memBudgets) Create(ctx context.Context, tx *gorm.DB, b *model.Budget) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b.ID = s.db.id()
	c := *b
	s.db.budgets[b.ID] = &c
	return nil
}

func (s *memBudgets) GetByID(ctx context.Context, tenantID, id int64) (*model.Budget, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.budgets[id]
	if !ok || b.TenantID != tenantID {
		return nil, repository.ErrBudgetNotFound
	}
	c := *b
	return &c, nil
}

func (s *memBudgets) UpdateAggregates(ctx context.Context, tx *gorm.DB, b *model.Budget) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.budgets[b.ID]; !ok {
		return repository.ErrBudgetNotFound
	}
	c := *b
	s.db.budgets[b.ID] = &c
	return nil
}

type memExpenses struct {
	db *memDB
}

func (s *memExpenses) Create(ctx context.Context, tx *gorm.DB, e *model.Expense) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e.ID = s.db.id()
	c := *e
	s.db.expenses = append(s.db.expenses, &c)
	return nil
}

func (s *memExpenses) GetByID(ctx context.Context, tenantID, id int64) (*model.Expense, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.expenses {
		if e.TenantID == tenantID && e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, repository.ErrExpenseNotFound
}

func (s *memExpenses) UpdateApproval(ctx context.Context, tenantID, id int64, status string) error {
	if status != model.ExpenseApprovalApproved && status != model.ExpenseApprovalRejected {
		return repository.ErrExpenseStatusInvalid
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.expenses {
		if e.TenantID == tenantID && e.ID == id {
			if e.ApprovalStatus != model.ExpenseApprovalPending {
				return repository.ErrExpenseStatusInvalid
			}
			e.ApprovalStatus = status
			return nil
		}
	}
	return repository.ErrExpenseNotFound
}

func (s *memExpenses) MarkPaid(ctx context.Context, tenantID, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.expenses {
		if e.TenantID == tenantID && e.ID == id {
			if e.ApprovalStatus != model.ExpenseApprovalApproved || e.PaymentStatus != model.ExpensePaymentPending {
				return repository.ErrExpenseStatusInvalid
			}
			e.PaymentStatus = model.ExpensePaymentPaid
			return nil
		}
	}
	return repository.ErrExpenseNotFound
}

func (s *memExpenses) ListByBudget(ctx context.Context, tenantID, budgetID int64, page, pageSize int) ([]*model.Expense, int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var all []*model.Expense
	for _, e := range s.db.expenses {
		if e.TenantID == tenantID && e.BudgetID == budgetID {
			c := *e
			all = append(all, &c)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *memExpenses) SumSettledByBudget(ctx context.Context, tenantID, budgetID int64) (decimal.Decimal, model.CategoryAmounts, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	total := decimal.Zero
	byCategory := model.CategoryAmounts{}
	for _, e := range s.db.expenses {
		if e.TenantID != tenantID || e.BudgetID != budgetID {
			continue
		}
		if e.ApprovalStatus != model.ExpenseApprovalApproved || e.PaymentStatus != model.ExpensePaymentPaid {
			continue
		}
		total = total.Add(e.Amount)
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
	}
	return total, byCategory, nil
}

// ---- outbox store ----

type memOutbox struct {
	db *memDB
	// failWith, when set, makes Create fail so tests can force a rollback.
	failWith error
}

func (s *memOutbox) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	msg.ID = s.db.id()
	c := *msg
	s.db.outbox = append(s.db.outbox, &c)
	return nil
}

// ---- lock manager and sequences ----

type noopLocks struct{}

func (noopLocks) AcquireStudentLock(ctx context.Context, tenantID, studentID int64) (func(), error) {
	return func() {}, nil
}

type stubSequences struct {
	mu sync.Mutex
	n  int64
}

func (s *stubSequences) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

func (s *stubSequences) NextPaymentReference(ctx context.Context, tenantID int64, date time.Time) (string, error) {
	return fmt.Sprintf("PAY-%d-%d", tenantID, s.next()), nil
}

func (s *stubSequences) NextReceiptNumber(ctx context.Context, tenantID int64, year int) (string, error) {
	return fmt.Sprintf("RCP-%d-%d", tenantID, s.next()), nil
}

func (s *stubSequences) NextExpenseReference(ctx context.Context, tenantID int64, date time.Time) (string, error) {
	return fmt.Sprintf("EXP-%d-%d", tenantID, s.next()), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PaymentRecorded: "payment.recorded",
				BudgetAlert:     "budget.alert",
			},
		},
		Business: config.BusinessConfig{
			PlanDefaultThreshold: 3,
			MaxRetryCount:        3,
		},
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
