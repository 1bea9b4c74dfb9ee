package api

import (
	"context"  // Context for Redis operations
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Time durations

	"splitpay/internal/domain" // Importing domain models
	"splitpay/internal/ledger" // Ledger store and errors
	"splitpay/internal/utils"  // Cache helpers

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
)

// walletView is the wallet snapshot returned to the owner. Consent internals
// stay server-side.
type walletView struct {
	Balance           string     `json:"balance"`                       // Current balance
	BankLinked        bool       `json:"bank_linked"`                   // Whether a bank is connected
	BankName          string     `json:"bank_name,omitempty"`           // Linked bank display name
	BankConsentExpiry *time.Time `json:"bank_consent_expiry,omitempty"` // When the consent lapses
}

// GetWalletHandler returns wallet info for the authenticated user
func GetWalletHandler(store *ledger.GormStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := context.Background()                        // Context for Redis operations
		cacheKey := utils.WalletCacheKey(userID.(uint))    // Cache key for wallet
		var view walletView                                // Snapshot to return
		found, err := utils.GetCache(ctx, rdb, cacheKey, &view)
		if err == nil && found {
			c.JSON(http.StatusOK, gin.H{"wallet": view, "cached": true})
			return
		}
		// Not cached: read the committed wallet row
		w, err := store.Wallet(ctx, userID.(uint))
		if err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch wallet"})
			return
		}
		view = walletView{
			Balance:           w.Balance.StringFixed(2),
			BankLinked:        w.BankLinked,
			BankName:          w.BankName,
			BankConsentExpiry: w.BankConsentExpiry,
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, view, 60*time.Second)   // Cache for 60 seconds
		c.JSON(http.StatusOK, gin.H{"wallet": view, "cached": false})  // Return wallet info
	}
}

// DepositRequest represents a deposit request
type DepositRequest struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"` // Deposit amount
	IdempotencyKey *string         `json:"idempotency_key"`           // Optional replay guard
}

// DepositHandler credits the authenticated user's wallet through the ledger
// store, so the balance change and its transaction row commit together.
func DepositHandler(store *ledger.GormStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req DepositRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		txn, err := store.Credit(c.Request.Context(), ledger.MutationParams{
			UserID:         userID.(uint),
			Amount:         req.Amount,
			Kind:           domain.KindDeposit,
			Description:    "Wallet deposit",
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrInvalidAmount):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be greater than zero"})
			case errors.Is(err, ledger.ErrWalletNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Deposit failed"})
			}
			return
		}
		// Invalidate wallet and transaction history cache
		utils.InvalidateWalletCaches(context.Background(), rdb, userID.(uint))
		c.JSON(http.StatusOK, gin.H{"message": "Deposit successful", "transaction_id": txn.ID})
	}
}

// GetTransactionHistoryHandler returns the authenticated user's transaction
// log, newest first, with pagination and a short-lived cache.
func GetTransactionHistoryHandler(store *ledger.GormStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page := 1      // Default page
		pageSize := 20 // Default page size
		if p := c.Query("page"); p != "" {
			if v, err := strconv.Atoi(p); err == nil && v > 0 {
				page = v // Set page if valid
			}
		}
		if ps := c.Query("page_size"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
				pageSize = v // Set page size if valid
			}
		}
		offset := (page - 1) * pageSize // Calculate offset
		cacheKey := utils.TxHistoryCacheKey(userID.(uint), page, pageSize)
		ctx := context.Background() // Context for Redis operations
		var cached struct {
			Transactions []domain.Transaction `json:"transactions"` // List of transactions
			Page         int                  `json:"page"`         // Current page
			PageSize     int                  `json:"page_size"`    // Page size
			Total        int64                `json:"total"`        // Total transactions
			TotalPages   int                  `json:"total_pages"`  // Total pages
		}
		found, err := utils.GetCache(ctx, rdb, cacheKey, &cached)
		if err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"transactions": cached.Transactions,
				"page":         cached.Page,
				"page_size":    cached.PageSize,
				"total":        cached.Total,
				"total_pages":  cached.TotalPages,
				"cached":       true,
			})
			return
		}
		transactions, total, err := store.Transactions(ctx, userID.(uint), offset, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
			return
		}
		totalPages := (int(total) + pageSize - 1) / pageSize // Calculate total pages
		resp := gin.H{
			"transactions": transactions,
			"page":         page,
			"page_size":    pageSize,
			"total":        total,
			"total_pages":  totalPages,
			"cached":       false,
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, 60*time.Second) // Cache for 60 seconds
		c.JSON(http.StatusOK, resp)                                  // Return transaction history
	}
}
