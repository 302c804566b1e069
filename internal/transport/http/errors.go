package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/neKamita/telegram-star-manager/internal/service"
)

// writeError maps service errors onto status codes. Storage details never reach the client.
func writeError(c *gin.Context, err error) {
	var funds *service.InsufficientFundsError
	var invalid *service.InvalidTransactionError
	var transient *service.TransientError
	switch {
	case errors.As(err, &funds):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "insufficient funds",
			"required":  funds.RequestedAmount.StringFixed(2),
			"current":   funds.CurrentBalance.StringFixed(2),
			"available": funds.AvailableBalance.StringFixed(2),
			"shortfall": funds.Shortfall().StringFixed(2),
			"critical":  funds.IsCritical(),
			"currency":  funds.Currency,
		})
	case errors.As(err, &transient):
		c.Header("Retry-After", strconv.Itoa(int(transient.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": transient.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error(), "kind": invalid.Kind()})
	case errors.Is(err, service.ErrOrderOwnership):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your order"})
	case errors.Is(err, service.ErrUnauthorizedAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidStatusTransition),
		errors.Is(err, service.ErrTerminalTransactionStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBalanceFrozen):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.ErrOperationFailed.Error()})
	}
}
