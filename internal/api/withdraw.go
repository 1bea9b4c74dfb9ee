package api

import (
	"context"  // Context for cache invalidation
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"time"     // Timestamp formatting

	"splitpay/internal/ledger"  // Error taxonomy and speed tiers
	"splitpay/internal/payment" // Withdrawal processor
	"splitpay/internal/utils"   // Cache helpers

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
)

// WithdrawRequest represents a withdrawal request
type WithdrawRequest struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"` // Amount debited from the wallet (fee included)
	Speed          string          `json:"speed" binding:"required"`  // fast or normal
	IdempotencyKey *string         `json:"idempotency_key"`           // Optional replay guard
}

// WithdrawHandler runs the withdrawal pipeline and maps each refusal to a
// specific message the app can render: the withdrawable maximum on
// insufficient funds, the cooldown and cap when the abuse guard blocks.
func WithdrawHandler(proc *payment.WithdrawalProcessor, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req WithdrawRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		receipt, err := proc.Withdraw(c.Request.Context(), payment.WithdrawParams{
			UserID:         userID.(uint),
			Amount:         req.Amount,
			Speed:          req.Speed,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			var blocked *ledger.AbuseBlockedError
			var insufficient *ledger.InsufficientFundsError
			switch {
			case errors.Is(err, ledger.ErrInvalidAmount):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, ledger.ErrBankNotLinked):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Link a bank account before withdrawing"})
			case errors.As(err, &blocked):
				c.JSON(http.StatusForbidden, gin.H{
					"error":            blocked.Reason,
					"cooldown_hours":   blocked.CooldownHours(),
					"max_withdrawable": blocked.MaxWithdrawable.StringFixed(2),
				})
			case errors.As(err, &insufficient):
				c.JSON(http.StatusBadRequest, gin.H{
					"error":            "Insufficient funds",
					"max_withdrawable": insufficient.Available.StringFixed(2),
				})
			case errors.Is(err, ledger.ErrWalletNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Withdrawal failed"})
			}
			return
		}
		// Invalidate wallet and transaction history cache
		utils.InvalidateWalletCaches(context.Background(), rdb, userID.(uint))
		c.JSON(http.StatusOK, gin.H{
			"message":           "Withdrawal submitted",
			"transaction_id":    receipt.Transaction.ID,
			"fee_amount":        receipt.Quote.Fee.StringFixed(2),
			"net_amount":        receipt.Quote.Net.StringFixed(2),
			"withdrawal_type":   receipt.Quote.Speed,
			"estimated_arrival": receipt.Quote.EstimatedArrival.Format(time.RFC3339),
		})
	}
}
