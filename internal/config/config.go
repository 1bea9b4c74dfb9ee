package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"

	"github.com/joho/godotenv"      // For loading .env files
	"github.com/shopspring/decimal" // Fee rates
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	FastFeeRate          decimal.Decimal // Fee rate for fast withdrawals (e.g. 0.02)
	MaxWithdrawalsPerDay int64           // Frequency cap enforced by the abuse guard
	BankGatewayURL       string          // Base URL of the bank payment gateway
	BankGatewayKey       string          // API key for the bank payment gateway
	BankChargeTimeout    time.Duration   // How long to await charge settlement
	NotifyChannel        string          // Redis channel for outbound events
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:    os.Getenv("APP_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBName:     os.Getenv("DB_NAME"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		RedisPass:  os.Getenv("REDIS_PASS"),
		RedisDB:    redisDB,
		IsProd:     os.Getenv("IS_PROD") == "true",

		FastFeeRate:          envDecimal("FAST_FEE_RATE", "0.02"),
		MaxWithdrawalsPerDay: envInt64("WITHDRAWALS_PER_DAY", 3),
		BankGatewayURL:       os.Getenv("BANK_GATEWAY_URL"),
		BankGatewayKey:       os.Getenv("BANK_GATEWAY_KEY"),
		BankChargeTimeout:    time.Duration(envInt64("BANK_CHARGE_TIMEOUT_SECONDS", 30)) * time.Second,
		NotifyChannel:        envDefault("NOTIFY_CHANNEL", "splitpay:notifications"),
	}
}

// envDefault returns the variable's value, or fallback when unset.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDecimal parses a decimal environment variable with a fallback.
func envDecimal(key, fallback string) decimal.Decimal {
	v := envDefault(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

// envInt64 parses an integer environment variable with a fallback.
func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
