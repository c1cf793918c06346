package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func SetupRouter(h *Handler, log *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(LoggerMiddleware(log))
	r.Use(RecoveryMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(TenantMiddleware())
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", h.RecordPayment)
			payments.POST("/webhook", h.GatewayWebhook)
			payments.GET("/:id", h.GetPayment)
			payments.POST("/:id/verify", h.VerifyPayment)
			payments.POST("/:id/status", h.UpdatePaymentStatus)
		}

		obligations := v1.Group("/obligations")
		{
			obligations.POST("", h.CreateObligation)
			obligations.GET("/:id", h.GetObligation)
			obligations.POST("/:id/discount", h.ApplyDiscount)
		}

		students := v1.Group("/students")
		{
			students.GET("/:studentId/obligations", h.ListStudentObligations)
			students.GET("/:studentId/payments", h.ListStudentPayments)
			students.GET("/:studentId/plans", h.ListStudentPlans)
		}

		plans := v1.Group("/plans")
		{
			plans.POST("", h.CreatePlan)
			plans.GET("/:id", h.GetPlan)
		}

		v1.POST("/installments/:id/pay", h.PayInstallment)
		v1.POST("/sweep/overdue", h.SweepOverdue)

		budgets := v1.Group("/budgets")
		{
			budgets.POST("", h.CreateBudget)
			budgets.POST("/:id/reconcile", h.ReconcileBudget)
			budgets.POST("/:id/expenses", h.RecordExpense)
			budgets.GET("/:id/expenses", h.ListBudgetExpenses)
		}

		expenses := v1.Group("/expenses")
		{
			expenses.POST("/:id/approval", h.ResolveExpenseApproval)
			expenses.POST("/:id/settle", h.SettleExpense)
		}
	}

	return r
}
