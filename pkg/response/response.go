package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
)

const (
	CodeObligationNotFound  = 1001
	CodePaymentNotFound     = 1002
	CodePlanNotFound        = 1003
	CodeInstallmentNotFound = 1004
	CodeBudgetNotFound      = 1005
	CodeInvalidAmount       = 1006
	CodeConcurrentConflict  = 1007
	CodeInstallmentSettled  = 1008
	CodePlanClosed          = 1009
	CodeStatusInvalid       = 1010
	CodePaymentExhausted    = 1011
	CodeExpenseNotFound     = 1012
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
