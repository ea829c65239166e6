package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// Payment provider used for checkout and webhooks.
	BillingProvider string

	Creem CreemConfig
}

// CreemConfig carries Creem API credentials and product wiring.
type CreemConfig struct {
	APIKey                string
	WebhookSecret         string
	APIBaseURL            string
	SubscriptionProductID string
	SuccessURL            string
	CancelURL             string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "creditrail"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditrail"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		BillingProvider:   strings.ToLower(getenv("BILLING_PROVIDER", "creem")),
		Creem: CreemConfig{
			APIKey:                strings.TrimSpace(getenv("CREEM_API_KEY", "")),
			WebhookSecret:         strings.TrimSpace(getenv("CREEM_WEBHOOK_SECRET", "")),
			APIBaseURL:            getenv("CREEM_API_BASE_URL", "https://api.creem.io"),
			SubscriptionProductID: strings.TrimSpace(getenv("CREEM_SUBSCRIPTION_PRODUCT_ID", "")),
			SuccessURL:            getenv("CREEM_SUCCESS_URL", "http://localhost:3000/billing?status=success"),
			CancelURL:             getenv("CREEM_CANCEL_URL", "http://localhost:3000/billing?status=cancel"),
		},
	}
}

// Module wires configuration for the application.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingConfigHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
