package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	postgres "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/postgres"
)

// Store backends selectable through ORDER_STORE.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config aggregates runtime configuration grouped by concern.
// It is loaded once at startup and treated as read-only afterwards.
type Config struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
	Paystack    PaystackConfig
	Store       StoreConfig
	Database    postgres.DatabaseConfig
	Mongo       MongoConfig
	Kafka       KafkaConfig
	Email       EmailConfig
	Authz       AuthzConfig
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type StoreConfig struct {
	Backend string
	Timeout time.Duration
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	PaymentsTopic string
	ReceiptsGroup string
}

// EmailConfig routes receipts. Orders carry a user id but no customer
// address, so every receipt goes to ReceiptSink tagged with that id.
type EmailConfig struct {
	ReceiptSink string
}

// AuthzConfig points at OpenFGA. Empty values disable authorization checks.
type AuthzConfig struct {
	APIURL  string
	StoreID string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "payment-reconciliation-service"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":3000"),
		},
		Paystack: PaystackConfig{
			SecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("ORDER_STORE", StorePostgres)),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DATABASE", "reconciliation"),
			Collection: getEnv("MONGO_ORDERS_COLLECTION", "orders"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", "payments.v1"),
			ReceiptsGroup: getEnv("KAFKA_RECEIPTS_GROUP_ID", "receipt-workers"),
		},
		Email: EmailConfig{
			ReceiptSink: getEnv("RECEIPT_SINK_EMAIL", "receipts@example.local"),
		},
		Authz: AuthzConfig{
			APIURL:  os.Getenv("OPENFGA_API_URL"),
			StoreID: os.Getenv("OPENFGA_STORE_ID"),
		},
	}

	var err error
	if cfg.HTTP.ShutdownTimeout, err = getDuration("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Paystack.Timeout, err = getDuration("PAYSTACK_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Store.Timeout, err = getDuration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Kafka.Enabled, err = getBool("KAFKA_ENABLED", true); err != nil {
		return Config{}, err
	}

	switch cfg.Store.Backend {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return Config{}, fmt.Errorf("unsupported ORDER_STORE %q", cfg.Store.Backend)
	}

	portStr := getEnv("ORDER_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse ORDER_DB_PORT: %w", err)
	}

	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("ORDER_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("ORDER_DB_NAME", "reconciliation"),
		User:     getEnv("ORDER_DB_USER", "reconciliationadmin"),
		Password: getEnv("ORDER_DB_PASSWORD", ""),
		SSLMode:  getEnv("ORDER_DB_SSLMODE", "disable"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
