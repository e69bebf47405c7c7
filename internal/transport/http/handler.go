package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeddlyf/EyyBack/internal/provider"
	"github.com/zeddlyf/EyyBack/internal/repo"
	"github.com/zeddlyf/EyyBack/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.WalletService, callbackToken string, log *zap.SugaredLogger) {
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets", createWalletHandler(svc))
		v1.GET("/users/:userID/wallet", walletByUserHandler(svc))
		v1.GET("/wallets/:id/balance", balanceHandler(svc))
		v1.POST("/wallets/:id/topup", topUpHandler(svc))
		v1.POST("/wallets/:id/pay", payHandler(svc))
		v1.POST("/wallets/:id/credit", creditHandler(svc))
		v1.POST("/wallets/:id/cashout", cashOutHandler(svc))
		v1.GET("/wallets/:id/transactions", historyHandler(svc))
	}
	cb := r.Group("/v1/callbacks", CallbackTokenMiddleware(callbackToken, log))
	{
		cb.POST("/topup", topUpCallbackHandler(svc))
		cb.POST("/cashout", cashOutCallbackHandler(svc))
	}
}

// writeError maps engine errors to user-facing statuses. Ledger errors are
// actionable; anything unclassified becomes a generic retry message and the
// detail stays server-side.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrBelowMinimum),
		errors.Is(err, service.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrWalletNotFound), errors.Is(err, repo.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrWalletExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrStaleState):
		c.JSON(http.StatusConflict, gin.H{"error": "wallet changed, please retry"})
	case errors.Is(err, repo.ErrWalletInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again later"})
	}
}

func walletID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return 0, false
	}
	return id, true
}

func parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return decimal.Zero, false
	}
	return amt, true
}

type createWalletReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func createWalletHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := svc.CreateWallet(c, req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, w)
	}
}

func walletByUserHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("userID"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		w, err := svc.WalletByUser(c, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		bal, err := svc.GetBalance(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

type topUpReq struct {
	Amount     string `json:"amount" binding:"required"`
	PayerEmail string `json:"payer_email"`
}

func topUpHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req topUpReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		intent, err := svc.InitiateTopUp(c, id, amt, req.PayerEmail)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, intent)
	}
}

type payReq struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	Metadata    string `json:"metadata"`
}

func payHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		w, entry, err := svc.Debit(c, id, amt, req.Description, req.Metadata)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": w.Balance, "reference_id": entry.ReferenceID})
	}
}

type creditReq struct {
	Amount      string `json:"amount" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
	Metadata    string `json:"metadata"`
}

func creditHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req creditReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		w, entry, err := svc.Credit(c, id, amt, req.Type, req.Description, req.Metadata)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": w.Balance, "reference_id": entry.ReferenceID})
	}
}

type cashOutReq struct {
	Amount            string `json:"amount" binding:"required"`
	BankCode          string `json:"bank_code" binding:"required"`
	AccountNumber     string `json:"account_number" binding:"required"`
	AccountHolderName string `json:"account_holder_name" binding:"required"`
}

func cashOutHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cashOutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		intent, err := svc.ReserveForCashout(c, id, amt, provider.BankAccount{
			BankCode:          req.BankCode,
			AccountNumber:     req.AccountNumber,
			AccountHolderName: req.AccountHolderName,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, intent)
	}
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		res, err := svc.ListTransactions(c, id, page, pageSize)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// callbackReq covers both webhook shapes: the provider id under "id" and our
// reference id under "external_id".
type callbackReq struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status" binding:"required"`
}

// callbackOutcome answers the provider. Unmatched or unparseable-status
// callbacks still get a 200 "ignored" so the provider stops retrying; the
// failure is already on the log and metrics path.
func callbackOutcome(c *gin.Context, res *service.CallbackResult, err error) {
	if err != nil {
		if errors.Is(err, repo.ErrEntryNotFound) || errors.Is(err, service.ErrUnknownCallbackStatus) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func topUpCallbackHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req callbackReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.HandleTopUpCallback(c, req.ID, req.ExternalID, req.Status)
		callbackOutcome(c, res, err)
	}
}

func cashOutCallbackHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req callbackReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.HandleCashOutCallback(c, req.ID, req.ExternalID, req.Status)
		callbackOutcome(c, res, err)
	}
}
