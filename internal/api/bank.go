package api

import (
	"context"  // Context for cache invalidation
	"net/http" // HTTP status codes
	"time"     // Consent expiry

	"splitpay/internal/bank"   // Bank gateway client
	"splitpay/internal/domain" // Importing domain models
	"splitpay/internal/utils"  // Cache helpers

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"gorm.io/gorm"                 // GORM ORM library
)

// LinkBankRequest stores the consent the mobile app obtained from the bank
// authorization flow.
type LinkBankRequest struct {
	BankName      string     `json:"bank_name" binding:"required"`   // Display name of the bank
	ConsentRef    string     `json:"consent_ref" binding:"required"` // Consent granted by the bank flow
	ConsentExpiry *time.Time `json:"consent_expiry"`                 // When the consent lapses, if limited
}

// LinkBankHandler attaches a bank consent to the authenticated user's wallet
func LinkBankHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req LinkBankRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		// Update the wallet's bank-link state
		res := db.Model(&domain.Wallet{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"bank_linked":         true,
				"bank_name":           req.BankName,
				"bank_consent_ref":    req.ConsentRef,
				"bank_consent_expiry": req.ConsentExpiry,
			})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link bank"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"bank_name": req.BankName,
		}).Info("Bank linked")
		utils.InvalidateWalletCaches(context.Background(), rdb, userID.(uint))
		c.JSON(http.StatusOK, gin.H{"message": "Bank linked"})
	}
}

// UnlinkBankHandler revokes the consent at the gateway and clears the
// wallet's bank-link state.
func UnlinkBankHandler(db *gorm.DB, gateway bank.Gateway, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID") // Get userID from context
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var wallet domain.Wallet // Fetch the wallet to find the consent
		if err := db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
			return
		}
		if wallet.BankConsentRef != nil {
			// Best-effort: the local unlink proceeds even if the gateway is
			// unreachable, the consent expires on its own.
			if err := gateway.RevokeConsent(c.Request.Context(), *wallet.BankConsentRef); err != nil {
				logrus.WithFields(logrus.Fields{
					"user_id": userID,
					"error":   err.Error(),
				}).Warn("Failed to revoke bank consent at gateway")
			}
		}
		err := db.Model(&domain.Wallet{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"bank_linked":         false,
				"bank_name":           "",
				"bank_consent_ref":    nil,
				"bank_consent_expiry": nil,
			}).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unlink bank"})
			return
		}
		logrus.WithField("user_id", userID).Info("Bank unlinked")
		utils.InvalidateWalletCaches(context.Background(), rdb, userID.(uint))
		c.JSON(http.StatusOK, gin.H{"message": "Bank unlinked"})
	}
}
