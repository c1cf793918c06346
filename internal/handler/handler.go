package handler

import (
	"errors"
	"strconv"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/infrastructure/lock"
	"schoolledger/internal/infrastructure/sequence"
	"schoolledger/internal/model"
	"schoolledger/internal/repository"
	"schoolledger/internal/service"
	"schoolledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler bundles the ledger services behind the HTTP surface.
type Handler struct {
	paymentService    *service.PaymentService
	obligationService *service.ObligationService
	planService       *service.PlanService
	sweepService      *service.SweepService
	budgetService     *service.BudgetService
	obligationRepo    *repository.ObligationRepository
	paymentRepo       *repository.PaymentRepository
	planRepo          *repository.PlanRepository
	allocationRepo    *repository.AllocationRepository
	discountRepo      *repository.DiscountRepository
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *logrus.Logger) *Handler {
	obligationRepo := repository.NewObligationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	planRepo := repository.NewPlanRepository(db)
	budgetRepo := repository.NewBudgetRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	locks := lock.NewManager(rdb)
	sequences := sequence.NewService(rdb)

	return &Handler{
		paymentService: service.NewPaymentService(
			db, obligationRepo, paymentRepo, allocationRepo, outboxRepo, locks, sequences, cfg, log),
		obligationService: service.NewObligationService(db, obligationRepo, discountRepo, log),
		planService:       service.NewPlanService(db, planRepo, paymentRepo, log),
		sweepService:      service.NewSweepService(db, obligationRepo, planRepo, cfg, log),
		budgetService:     service.NewBudgetService(db, budgetRepo, expenseRepo, outboxRepo, sequences, cfg, log),
		obligationRepo:    obligationRepo,
		paymentRepo:       paymentRepo,
		planRepo:          planRepo,
		allocationRepo:    allocationRepo,
		discountRepo:      discountRepo,
	}
}

// respondError maps ledger error kinds onto business codes so the HTTP
// layer can surface precise failures without the core knowing about HTTP.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrObligationNotFound):
		response.BusinessError(c, response.CodeObligationNotFound, err.Error())
	case errors.Is(err, repository.ErrPaymentNotFound):
		response.BusinessError(c, response.CodePaymentNotFound, err.Error())
	case errors.Is(err, repository.ErrPlanNotFound):
		response.BusinessError(c, response.CodePlanNotFound, err.Error())
	case errors.Is(err, repository.ErrInstallmentNotFound):
		response.BusinessError(c, response.CodeInstallmentNotFound, err.Error())
	case errors.Is(err, repository.ErrBudgetNotFound):
		response.BusinessError(c, response.CodeBudgetNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeConcurrentConflict, err.Error())
	case errors.Is(err, service.ErrInstallmentSettled):
		response.BusinessError(c, response.CodeInstallmentSettled, err.Error())
	case errors.Is(err, service.ErrPlanClosed):
		response.BusinessError(c, response.CodePlanClosed, err.Error())
	case errors.Is(err, repository.ErrPaymentStatusInvalid):
		response.BusinessError(c, response.CodeStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrPaymentExhausted):
		response.BusinessError(c, response.CodePaymentExhausted, err.Error())
	case errors.Is(err, repository.ErrExpenseNotFound):
		response.BusinessError(c, response.CodeExpenseNotFound, err.Error())
	case errors.Is(err, repository.ErrExpenseStatusInvalid):
		response.BusinessError(c, response.CodeStatusInvalid, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// Payments
// ============================================================

type RecordPaymentRequest struct {
	RequestID string          `json:"request_id" binding:"required"`
	StudentID int64           `json:"student_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Method    string          `json:"method" binding:"required"`
	Date      time.Time       `json:"date"`
	Earmarked bool            `json:"earmarked"`
}

// RecordPayment applies a payment to the student's outstanding obligations.
// POST /api/v1/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}

	result, err := h.paymentService.RecordPayment(c.Request.Context(), &service.RecordPaymentRequest{
		TenantID:  tenantID(c),
		StudentID: req.StudentID,
		Amount:    req.Amount,
		Method:    req.Method,
		Date:      date,
		RequestID: req.RequestID,
		Earmarked: req.Earmarked,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

type GatewayWebhookRequest struct {
	TransactionReference string          `json:"transaction_reference" binding:"required"`
	StudentID            int64           `json:"student_id" binding:"required"`
	Amount               decimal.Decimal `json:"amount" binding:"required"`
	PaidAt               time.Time       `json:"paid_at"`
}

// GatewayWebhook records a successful online payment reported by the
// payment gateway. The gateway transaction reference is the idempotency
// key, so webhook retries return the original result instead of recording
// the payment again.
// POST /api/v1/payments/webhook
func (h *Handler) GatewayWebhook(c *gin.Context) {
	var req GatewayWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	result, err := h.paymentService.RecordPayment(c.Request.Context(), &service.RecordPaymentRequest{
		TenantID:         tenantID(c),
		StudentID:        req.StudentID,
		Amount:           req.Amount,
		Method:           model.PaymentMethodGateway,
		Date:             paidAt,
		RequestID:        req.TransactionReference,
		GatewayReference: req.TransactionReference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// GetPayment returns a payment and its allocation trail.
// GET /api/v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid payment id")
		return
	}

	result, err := h.paymentService.GetPayment(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// ListStudentPayments lists a student's payments.
// GET /api/v1/students/:studentId/payments?page=1&page_size=10
func (h *Handler) ListStudentPayments(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("studentId"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid student id")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	payments, total, err := h.paymentRepo.ListByStudent(c.Request.Context(), tenantID(c), studentID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      payments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type UpdatePaymentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatus transitions a payment, e.g. COMPLETED -> REFUNDED.
// POST /api/v1/payments/:id/status
func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid payment id")
		return
	}

	var req UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	payment, err := h.paymentService.TransitionPaymentStatus(c.Request.Context(), tenantID(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, payment)
}

type VerifyPaymentRequest struct {
	VerifiedBy int64 `json:"verified_by" binding:"required"`
}

// VerifyPayment marks a manually recorded payment as verified.
// POST /api/v1/payments/:id/verify
func (h *Handler) VerifyPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid payment id")
		return
	}

	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	payment, err := h.paymentService.VerifyPayment(c.Request.Context(), tenantID(c), id, req.VerifiedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, payment)
}

// ============================================================
// Obligations
// ============================================================

type CreateObligationRequest struct {
	OwnerType      string          `json:"owner_type"`
	OwnerID        int64           `json:"owner_id" binding:"required"`
	Title          string          `json:"title" binding:"required"`
	FeeType        string          `json:"fee_type"`
	OriginalAmount decimal.Decimal `json:"original_amount" binding:"required"`
	DueDate        time.Time       `json:"due_date" binding:"required"`
}

// CreateObligation materializes a fee line for a student or budget.
// POST /api/v1/obligations
func (h *Handler) CreateObligation(c *gin.Context) {
	var req CreateObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	obligation, err := h.obligationService.CreateObligation(c.Request.Context(), &service.CreateObligationRequest{
		TenantID:       tenantID(c),
		OwnerType:      req.OwnerType,
		OwnerID:        req.OwnerID,
		Title:          req.Title,
		FeeType:        req.FeeType,
		OriginalAmount: req.OriginalAmount,
		DueDate:        req.DueDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, obligation)
}

type ApplyDiscountRequest struct {
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	DiscountType string          `json:"discount_type"`
	Reason       string          `json:"reason" binding:"required"`
	ApproverID   int64           `json:"approver_id" binding:"required"`
}

// ApplyDiscount applies an approved discount to an obligation.
// POST /api/v1/obligations/:id/discount
func (h *Handler) ApplyDiscount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid obligation id")
		return
	}

	var req ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	obligation, err := h.obligationService.ApplyDiscount(c.Request.Context(), &service.ApplyDiscountRequest{
		TenantID:     tenantID(c),
		ObligationID: id,
		Amount:       req.Amount,
		DiscountType: req.DiscountType,
		Reason:       req.Reason,
		ApproverID:   req.ApproverID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, obligation)
}

// ListStudentObligations lists a student's obligations.
// GET /api/v1/students/:studentId/obligations?page=1&page_size=10
func (h *Handler) ListStudentObligations(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("studentId"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid student id")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	obligations, total, err := h.obligationRepo.ListByOwner(
		c.Request.Context(), tenantID(c), model.OwnerTypeStudent, studentID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      obligations,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Payment plans
// ============================================================

type CreatePlanRequest struct {
	StudentID            int64           `json:"student_id" binding:"required"`
	TotalAmount          decimal.Decimal `json:"total_amount" binding:"required"`
	DownPayment          decimal.Decimal `json:"down_payment"`
	NumberOfInstallments int             `json:"number_of_installments" binding:"required"`
	Frequency            string          `json:"frequency" binding:"required"`
	StartDate            time.Time       `json:"start_date" binding:"required"`
	GracePeriodDays      int             `json:"grace_period_days"`
}

// CreatePlan creates a payment plan with its installment schedule.
// POST /api/v1/plans
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.planService.CreatePaymentPlan(c.Request.Context(), &service.CreatePlanRequest{
		TenantID:             tenantID(c),
		StudentID:            req.StudentID,
		TotalAmount:          req.TotalAmount,
		DownPayment:          req.DownPayment,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		StartDate:            req.StartDate,
		GracePeriodDays:      req.GracePeriodDays,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// GetPlan returns a plan and its schedule.
// GET /api/v1/plans/:id
func (h *Handler) GetPlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid plan id")
		return
	}

	result, err := h.planService.GetPlan(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

type InstallmentPaymentRequest struct {
	PaymentID int64           `json:"payment_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// PayInstallment applies an earmarked payment to one installment.
// POST /api/v1/installments/:id/pay
func (h *Handler) PayInstallment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid installment id")
		return
	}

	var req InstallmentPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.planService.ApplyInstallmentPayment(
		c.Request.Context(), tenantID(c), id, req.PaymentID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// GetObligation returns an obligation with its allocation trail and
// discount grants.
// GET /api/v1/obligations/:id
func (h *Handler) GetObligation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid obligation id")
		return
	}

	obligation, err := h.obligationRepo.GetByID(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	allocations, err := h.allocationRepo.ListByObligation(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	discounts, err := h.discountRepo.ListByObligation(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"obligation":  obligation,
		"allocations": allocations,
		"discounts":   discounts,
	})
}

// ListStudentPlans lists a student's payment plans.
// GET /api/v1/students/:studentId/plans
func (h *Handler) ListStudentPlans(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("studentId"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid student id")
		return
	}

	plans, err := h.planRepo.ListByStudent(c.Request.Context(), tenantID(c), studentID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"list": plans})
}

// ============================================================
// Sweep and budgets
// ============================================================

type CreateBudgetRequest struct {
	Name                string          `json:"name" binding:"required"`
	FiscalYear          int             `json:"fiscal_year" binding:"required"`
	TotalBudgetedAmount decimal.Decimal `json:"total_budgeted_amount" binding:"required"`
	AlertThreshold      decimal.Decimal `json:"alert_threshold"`
}

// CreateBudget opens a spending envelope for a fiscal year.
// POST /api/v1/budgets
func (h *Handler) CreateBudget(c *gin.Context) {
	var req CreateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	budget, err := h.budgetService.CreateBudget(c.Request.Context(), &service.CreateBudgetRequest{
		TenantID:            tenantID(c),
		Name:                req.Name,
		FiscalYear:          req.FiscalYear,
		TotalBudgetedAmount: req.TotalBudgetedAmount,
		AlertThreshold:      req.AlertThreshold,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, budget)
}

type RecordExpenseRequest struct {
	Category    string          `json:"category" binding:"required"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ExpenseDate time.Time       `json:"expense_date"`
}

// RecordExpense registers an expenditure against a budget.
// POST /api/v1/budgets/:id/expenses
func (h *Handler) RecordExpense(c *gin.Context) {
	budgetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid budget id")
		return
	}

	var req RecordExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	expense, err := h.budgetService.RecordExpense(c.Request.Context(), &service.RecordExpenseRequest{
		TenantID:    tenantID(c),
		BudgetID:    budgetID,
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
		ExpenseDate: req.ExpenseDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, expense)
}

type ResolveExpenseRequest struct {
	Status string `json:"status" binding:"required"`
}

// ResolveExpenseApproval approves or rejects a pending expense.
// POST /api/v1/expenses/:id/approval
func (h *Handler) ResolveExpenseApproval(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid expense id")
		return
	}

	var req ResolveExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	expense, err := h.budgetService.ResolveExpenseApproval(c.Request.Context(), tenantID(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, expense)
}

// SettleExpense marks an approved expense as paid out.
// POST /api/v1/expenses/:id/settle
func (h *Handler) SettleExpense(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid expense id")
		return
	}

	expense, err := h.budgetService.SettleExpense(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, expense)
}

// ListBudgetExpenses lists a budget's expenses.
// GET /api/v1/budgets/:id/expenses?page=1&page_size=10
func (h *Handler) ListBudgetExpenses(c *gin.Context) {
	budgetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid budget id")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	expenses, total, err := h.budgetService.ListExpenses(c.Request.Context(), tenantID(c), budgetID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      expenses,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// SweepOverdue triggers the overdue sweep for the calling tenant.
// POST /api/v1/sweep/overdue
func (h *Handler) SweepOverdue(c *gin.Context) {
	result, err := h.sweepService.SweepOverdue(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"count":  result.Total(),
		"detail": result,
	})
}

// ReconcileBudget recomputes a budget's actuals and derived figures.
// POST /api/v1/budgets/:id/reconcile
func (h *Handler) ReconcileBudget(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid budget id")
		return
	}

	budget, err := h.budgetService.ReconcileBudget(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, budget)
}
