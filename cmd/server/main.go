package main

import (
	"context" // context package is needed for Redis operations
	"log"     // log package is needed for logging

	"splitpay/internal/api"        // Custom package for API handlers
	"splitpay/internal/bank"       // Bank gateway client
	"splitpay/internal/config"     // Custom package for configuration
	"splitpay/internal/ledger"     // Ledger store, fee calculator, abuse guard
	"splitpay/internal/middleware" // Custom package for middleware
	"splitpay/internal/notify"     // Outbound notification events
	"splitpay/internal/payment"    // Payment orchestrator and withdrawal processor

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
	"gorm.io/driver/mysql"         // MySQL driver for GORM
	"gorm.io/gorm"                 // GORM ORM library
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Setup Data Source Name (DSN) and connect to the database
	dsn := cfg.DBUser + ":" + cfg.DBPassword + "@tcp(" + cfg.DBHost + ":" + cfg.DBPort + ")/" + cfg.DBName + "?parseTime=true"
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	_, err = redisClient.Ping(context.Background()).Result()
	if err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	// Wire the ledger core
	store := ledger.NewGormStore(db)                                             // The only component that mutates balances
	guard := ledger.NewGuard(store, cfg.MaxWithdrawalsPerDay)                    // Fund-cycling and frequency rules
	gateway := bank.NewHTTPGateway(cfg.BankGatewayURL, cfg.BankGatewayKey)       // External bank-payment gateway
	notifier := notify.NewRedisPublisher(redisClient, cfg.NotifyChannel)         // Outbound transaction events
	orchestrator := payment.NewOrchestrator(store, gateway, notifier, cfg.BankChargeTimeout)
	withdrawals := payment.NewWithdrawalProcessor(store, guard, notifier, cfg.FastFeeRate)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	// Auth routes
	r.POST("/user", api.RegisterHandler(db))            // Registration endpoint (creates the wallet too)
	r.GET("/user", api.LoginHandler(db, cfg.JWTSecret)) // Login endpoint

	// Wallet routes (protected by JWT)
	walletGroup := r.Group("/wallet")
	walletGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	walletGroup.GET("", api.GetWalletHandler(store, redisClient))                          // Balance and bank-link state
	walletGroup.POST("/deposit", api.DepositHandler(store, redisClient))                   // Deposit endpoint
	walletGroup.POST("/withdraw", api.WithdrawHandler(withdrawals, redisClient))           // Withdrawal endpoint
	walletGroup.POST("/pay", api.PayHandler(db, orchestrator, redisClient))                // Split payment endpoint
	walletGroup.GET("/transactions", api.GetTransactionHistoryHandler(store, redisClient)) // Transaction history endpoint
	walletGroup.POST("/bank", api.LinkBankHandler(db, redisClient))                        // Link bank endpoint
	walletGroup.DELETE("/bank", api.UnlinkBankHandler(db, gateway, redisClient))           // Unlink bank endpoint

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret), middleware.AdminOnlyMiddleware(db))
	adminGroup.GET("/transactions", api.ListTransactionsHandler(db, redisClient)) // Audit query endpoint
	adminGroup.GET("/reconciliations", api.ListReconciliationsHandler(store))     // Open reconciliation cases

	log.Println("Server running on " + cfg.AppPort) // Log server start
	r.Run(":" + cfg.AppPort)                        // Start the server on port cfg.AppPort
}
