package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/service"
)

const adminHeader = "X-Admin-ID"

func RegisterHandlers(r *gin.Engine, svc *service.Services, currency string) {
	v1 := r.Group("/v1")
	{
		v1.GET("/users/:id/balance", balanceHandler(svc))
		v1.GET("/users/:id/transactions", historyHandler(svc))
		v1.POST("/users/:id/topups", topUpHandler(svc, currency))
		v1.POST("/topups/:txId/confirm", confirmTopUpHandler(svc))
		v1.POST("/topups/:txId/cancel", cancelTopUpHandler(svc))

		v1.POST("/orders", createOrderHandler(svc, currency))
		v1.GET("/orders/:orderId", getOrderHandler(svc))
		v1.POST("/orders/:orderId/pay/balance", payBalanceHandler(svc))
		v1.POST("/orders/:orderId/pay/mixed", payMixedHandler(svc))
		v1.POST("/orders/:orderId/external-payment", externalPaymentHandler(svc))
		v1.POST("/orders/:orderId/cancel", cancelOrderHandler(svc))
	}
	admin := r.Group("/v1/admin")
	{
		admin.POST("/orders/status", batchStatusHandler(svc))
		admin.POST("/users/:id/adjust", adjustHandler(svc, currency))
		admin.POST("/users/:id/freeze", freezeHandler(svc, true))
		admin.POST("/users/:id/unfreeze", freezeHandler(svc, false))
		admin.POST("/users/:id/refund", manualRefundHandler(svc, currency))
		admin.POST("/transactions/:txId/cancel", adminCancelTxHandler(svc))
		admin.POST("/reconcile", reconcileHandler(svc))
	}
}

func balanceHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		b, err := svc.Wallet.GetBalance(c, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, balanceView(b))
	}
}

func historyHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		f := model.TransactionFilter{Limit: limit, Offset: offset, OrderID: c.Query("order_id")}
		if t := c.Query("type"); t != "" {
			f.Types = []model.TransactionType{model.TransactionType(t)}
		}
		if s := c.Query("status"); s != "" {
			f.Statuses = []model.TransactionStatus{model.TransactionStatus(s)}
		}
		if since := c.Query("since"); since != "" {
			ts, err := time.Parse(time.RFC3339, since)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
				return
			}
			f.Since = ts
		}
		txs, err := svc.Wallet.History(c, userID, f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

type topUpReq struct {
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency"`
	Source   string `json:"source" binding:"required"`
	Pending  bool   `json:"pending"`
}

func topUpHandler(svc *service.Services, currency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		var req topUpReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount, ok := moneyField(c, req.Amount, req.Currency, currency)
		if !ok {
			return
		}
		var t *model.BalanceTransaction
		var err error
		if req.Pending {
			t, err = svc.Wallet.BeginTopUp(c, userID, amount, req.Source)
		} else {
			t, err = svc.Wallet.TopUp(c, userID, amount, req.Source, "top-up via "+req.Source)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

func confirmTopUpHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Wallet.ConfirmTopUp(c, c.Param("txId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func cancelTopUpHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Wallet.CancelTopUp(c, c.Param("txId")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type createOrderReq struct {
	OrderID        string `json:"order_id"`
	UserID         int64  `json:"user_id" binding:"required"`
	StarCount      int    `json:"star_count" binding:"required"`
	OriginalAmount string `json:"original_amount" binding:"required"`
	FinalAmount    string `json:"final_amount" binding:"required"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	Notes          string `json:"notes"`
	CheckBalance   bool   `json:"check_balance"`
}

func createOrderHandler(svc *service.Services, currency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		original, ok := moneyField(c, req.OriginalAmount, req.Currency, currency)
		if !ok {
			return
		}
		final, ok := moneyField(c, req.FinalAmount, req.Currency, currency)
		if !ok {
			return
		}
		in := service.CreateOrderInput{
			OrderID:        req.OrderID,
			UserID:         req.UserID,
			StarCount:      req.StarCount,
			OriginalAmount: original,
			FinalAmount:    final,
			PaymentMethod:  req.PaymentMethod,
			Notes:          req.Notes,
		}
		create := svc.Orders.CreateOrder
		if req.CheckBalance {
			create = svc.Orders.CreateOrderWithBalanceCheck
		}
		ord, err := create(c, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ord)
	}
}

func getOrderHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
			return
		}
		ord, err := svc.Orders.GetUserOrder(c, c.Param("orderId"), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

type payBalanceReq struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func payBalanceHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payBalanceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ord, err := svc.Orders.ProcessBalancePayment(c, c.Param("orderId"), req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

type payMixedReq struct {
	UserID         int64  `json:"user_id" binding:"required"`
	BalanceAmount  string `json:"balance_amount" binding:"required"`
	ExternalAmount string `json:"external_amount" binding:"required"`
}

func payMixedHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payMixedReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ord, err := svc.Orders.GetUserOrder(c, c.Param("orderId"), req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		balancePart, ok := moneyField(c, req.BalanceAmount, ord.Currency, ord.Currency)
		if !ok {
			return
		}
		externalPart, ok := moneyField(c, req.ExternalAmount, ord.Currency, ord.Currency)
		if !ok {
			return
		}
		ord, err = svc.Orders.ProcessMixedPayment(c, ord.OrderID, req.UserID, balancePart, externalPart)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

type externalPaymentReq struct {
	Method string `json:"method" binding:"required"`
}

func externalPaymentHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req externalPaymentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ord, err := svc.Orders.ConfirmExternalPayment(c, c.Param("orderId"), req.Method)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

type cancelOrderReq struct {
	UserID int64  `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

func cancelOrderHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelOrderReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ord, err := svc.Orders.CancelOrderWithBalanceRefund(c, c.Param("orderId"), req.UserID, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord)
	}
}

type batchStatusReq struct {
	OrderIDs []string `json:"order_ids" binding:"required"`
	Status   string   `json:"status" binding:"required"`
}

func batchStatusHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchStatusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status, ok := model.ParseOrderStatus(req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		res, err := svc.Orders.BatchUpdateStatus(c, req.OrderIDs, status, adminID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type adjustReq struct {
	Delta    string `json:"delta" binding:"required"`
	Currency string `json:"currency"`
	Reason   string `json:"reason" binding:"required"`
	OrderID  string `json:"order_id"`
}

func adjustHandler(svc *service.Services, currency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		var req adjustReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delta, ok := moneyField(c, req.Delta, req.Currency, currency)
		if !ok {
			return
		}
		t, err := svc.Wallet.AdminAdjustBalance(c, adminID(c), userID, delta, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func manualRefundHandler(svc *service.Services, currency string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		var req adjustReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount, ok := moneyField(c, req.Delta, req.Currency, currency)
		if !ok {
			return
		}
		t, err := svc.Wallet.AdminManualRefund(c, adminID(c), userID, amount, req.OrderID, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func freezeHandler(svc *service.Services, freeze bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userParam(c)
		if !ok {
			return
		}
		op := svc.Wallet.AdminUnfreeze
		if freeze {
			op = svc.Wallet.AdminFreeze
		}
		b, err := op(c, adminID(c), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, balanceView(b))
	}
}

func adminCancelTxHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Wallet.AdminCancelTransaction(c, adminID(c), c.Param("txId")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func reconcileHandler(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Guard.ValidateAdminOperation(adminID(c), service.AdminReconcileSweep); err != nil {
			writeError(c, err)
			return
		}
		report, err := svc.Reconciler.Sweep(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// adminID reads the caller's admin id. The internal SYSTEM identity is never accepted
// from a request.
func adminID(c *gin.Context) string {
	id := c.GetHeader(adminHeader)
	if id == service.SystemIdentity {
		return ""
	}
	return id
}

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func moneyField(c *gin.Context, raw, currency, fallback string) (model.Money, bool) {
	if currency == "" {
		currency = fallback
	}
	m, err := model.ParseMoney(raw, currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return model.Money{}, false
	}
	return m, true
}

func balanceView(b *model.UserBalance) gin.H {
	return gin.H{
		"user_id":          b.UserID,
		"currency":         b.Currency,
		"current_balance":  b.CurrentBalance,
		"reserved_balance": b.ReservedBalance,
		"available":        b.Available(),
		"frozen":           b.Frozen,
	}
}
