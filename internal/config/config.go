package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

var defaultTaxRate = decimal.RequireFromString("0.08")

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BranchID              string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	TaxRate               decimal.Decimal
	WalkInCustomerID      string
	HoldTTL               time.Duration
	LogMode               string
	LogFile               string
	MetricsEnabled        bool
	ReceiptTitle          string
}

func Load() Config {
	tokenTTL := cast.ToInt(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	holdHours := cast.ToInt(getEnv("HOLD_TTL_HOURS", "72"))
	if holdHours < 1 {
		holdHours = 72
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               cast.ToInt(getEnv("REDIS_DB", "0")),
		BranchID:              getEnv("DEFAULT_BRANCH_ID", "main-branch"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		TaxRate:               parseTaxRate(os.Getenv("TAX_RATE")),
		WalkInCustomerID:      getEnv("WALK_IN_CUSTOMER_ID", "walk-in"),
		HoldTTL:               time.Duration(holdHours) * time.Hour,
		LogMode:               getEnv("LOG_MODE", "development"),
		LogFile:               strings.TrimSpace(os.Getenv("LOG_FILE")),
		MetricsEnabled:        cast.ToBool(getEnv("METRICS_ENABLED", "true")),
		ReceiptTitle:          getEnv("RECEIPT_TITLE", "Retail POS"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// parseTaxRate accepts a fraction in [0, 1). Anything else falls back to the
// default rate.
func parseTaxRate(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTaxRate
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return defaultTaxRate
	}
	return rate
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
