// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is the host:port of the Redis instance holding refresh tokens.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime and the session cache TTL (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PhoneDefaultRegion is the ISO region used to parse phone numbers without a country code.
	PhoneDefaultRegion string `mapstructure:"PHONE_DEFAULT_REGION"`

	// BaseURL is this service's public URL; payment callback URLs are built from it.
	BaseURL           string `mapstructure:"BASE_URL"`
	WingPayBaseURL    string `mapstructure:"WINGPAY_BASE_URL"`
	WingPayAPIKey     string `mapstructure:"WINGPAY_API_KEY"`
	WingPayMerchantID string `mapstructure:"WINGPAY_MERCHANT_ID"`
	// PaymentTimeoutRaw bounds every outbound gateway call (e.g. "30s").
	PaymentTimeoutRaw string `mapstructure:"PAYMENT_TIMEOUT"`
	// PaymentAllowSimulated routes unknown payment methods to the simulated gateway. Rejected in production.
	PaymentAllowSimulated bool `mapstructure:"PAYMENT_ALLOW_SIMULATED"`

	// SMDPAddress is the SM-DP+ address embedded in activation codes.
	SMDPAddress   string `mapstructure:"SMDP_ADDRESS"`
	ICCIDPrefix   string `mapstructure:"ICCID_PREFIX"`
	IMSIPrefix    string `mapstructure:"IMSI_PREFIX"`
	QRCodeBaseURL string `mapstructure:"QR_CODE_BASE_URL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// When set, request telemetry and generic webhook events are published to TelemetryKafkaTopic.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL      string `mapstructure:"LOKI_URL"`
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "esim-gateway-auth")
	v.SetDefault("JWT_AUDIENCE", "esim-gateway-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PHONE_DEFAULT_REGION", "KH")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("WINGPAY_BASE_URL", "https://api.wingpay.com")
	v.SetDefault("WINGPAY_API_KEY", "")
	v.SetDefault("WINGPAY_MERCHANT_ID", "")
	v.SetDefault("PAYMENT_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_ALLOW_SIMULATED", true)
	v.SetDefault("SMDP_ADDRESS", "lpa.example.com")
	v.SetDefault("ICCID_PREFIX", "890126")
	v.SetDefault("IMSI_PREFIX", "45601")
	v.SetDefault("QR_CODE_BASE_URL", "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "esim-gateway")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "esim-gateway-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "esim-gateway-worker")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.PaymentAllowSimulated && cfg.Env == "production" {
		return nil, errors.New("config: PAYMENT_ALLOW_SIMULATED must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if !allDigits(cfg.ICCIDPrefix) || len(cfg.ICCIDPrefix) == 0 || len(cfg.ICCIDPrefix) > 10 {
		return nil, errors.New("config: ICCID_PREFIX must be 1-10 digits")
	}
	if !allDigits(cfg.IMSIPrefix) || len(cfg.IMSIPrefix) < 5 || len(cfg.IMSIPrefix) > 6 {
		return nil, errors.New("config: IMSI_PREFIX must be MCC+MNC (5 or 6 digits)")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// PaymentTimeout parses PaymentTimeoutRaw. Returns 30s if unset or invalid.
func (c *Config) PaymentTimeout() time.Duration {
	d, err := time.ParseDuration(c.PaymentTimeoutRaw)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
