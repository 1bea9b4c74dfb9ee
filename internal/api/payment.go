package api

import (
	"context"  // Context for cache invalidation
	"errors"   // Error matching
	"net/http" // HTTP status codes

	"splitpay/internal/domain"  // Importing domain models
	"splitpay/internal/ledger"  // Error taxonomy
	"splitpay/internal/payment" // Payment orchestrator
	"splitpay/internal/utils"   // Cache helpers

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
	"gorm.io/gorm"                  // GORM ORM library
)

// PayRequest represents one participant paying their share of a split
type PayRequest struct {
	ToUsername     string          `json:"to_username" binding:"required"` // Who fronted the bill
	SplitID        string          `json:"split_id" binding:"required"`    // Split event being settled
	Amount         decimal.Decimal `json:"amount" binding:"required"`      // This participant's share
	Description    string          `json:"description"`                    // Shown in both histories
	IdempotencyKey *string         `json:"idempotency_key"`                // Optional replay guard
}

// PayHandler settles a split share: wallet balance first, a bank charge for
// any shortfall. Payee resolution and the self-payment check are done here;
// everything with money in it happens in the orchestrator.
func PayHandler(db *gorm.DB, orch *payment.Orchestrator, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		payerID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req PayRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		var payee domain.User // Find target user
		if err := db.Where("username = ?", req.ToUsername).First(&payee).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Target user not found"})
			return
		}
		// Prevent paying yourself
		if payee.ID == payerID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot pay yourself"})
			return
		}
		res, err := orch.SettleSplit(c.Request.Context(), payment.SettleParams{
			PayerID:        payerID.(uint),
			PayeeID:        payee.ID,
			SplitID:        req.SplitID,
			Amount:         req.Amount,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			var chargeErr *payment.BankChargeFailedError
			var reconErr *payment.ReconciliationError
			switch {
			case errors.Is(err, ledger.ErrInvalidAmount):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be greater than zero"})
			case errors.Is(err, ledger.ErrBankNotLinked):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Balance does not cover this payment and no bank is linked", "funding_source": "bank"})
			case errors.Is(err, ledger.ErrConsentExpired):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Bank consent has expired, reconnect your bank", "funding_source": "bank"})
			case errors.As(err, &reconErr):
				// Real money moved but the ledger could not follow; the case
				// ID makes the divergence traceable for support.
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":               "Payment needs manual review",
					"reconciliation_case": reconErr.CaseID,
				})
			case errors.As(err, &chargeErr):
				c.JSON(http.StatusBadGateway, gin.H{
					"error":          "Bank charge was not completed",
					"funding_source": "bank",
					"charge_id":      chargeErr.ChargeID,
				})
			case errors.Is(err, ledger.ErrConcurrencyConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "Balance changed, try again"})
			case errors.Is(err, ledger.ErrWalletNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment failed"})
			}
			return
		}
		// Invalidate wallet and transaction history cache for both sides
		ctx := context.Background()
		utils.InvalidateWalletCaches(ctx, rdb, payerID.(uint))
		utils.InvalidateWalletCaches(ctx, rdb, payee.ID)
		c.JSON(http.StatusOK, gin.H{
			"message":        "Payment settled",
			"wallet_portion": res.WalletPortion.StringFixed(2),
			"bank_portion":   res.BankPortion.StringFixed(2),
		})
	}
}
