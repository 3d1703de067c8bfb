package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	LogLevel  string
	LogFormat string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Mailcow   MailcowConfig
	DNS       DNSConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig

	BootstrapAPIKey string
}

// MailcowConfig configures the mail-hosting control plane client.
type MailcowConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	DefaultMailboxQuotaMB int64
	MaxMailboxQuotaMB     int64
	MaxMailboxes          int
}

// DNSConfig holds the expected record values a domain must publish
// before it can be activated.
type DNSConfig struct {
	MXHosts      []string
	SPFInclude   string
	DKIMSelector string
	DMARCPolicy  string
	Timeout      time.Duration
}

// BillingConfig holds pricing inputs and gateway credentials.
type BillingConfig struct {
	Currency string

	// Paise per GB-month of partner pool storage.
	StoragePricePaisePerGB int64
	// Paise per GB-month for retail organization pools.
	OrgStoragePricePaisePerGB int64
	// Flat tax rate in basis points (1800 = 18%).
	TaxRateBasisPoints int64

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	RequestTimeout        time.Duration
}

// RateLimitConfig guards the payment endpoints and serializes domain
// provisioning retries through redis.
type RateLimitConfig struct {
	Enabled bool

	WebhookRate  float64
	WebhookBurst int
	VerifyRate   float64
	VerifyBurst  int

	ProvisionLockTTL time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "nubo"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "nubo"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Mailcow: MailcowConfig{
			BaseURL:               strings.TrimRight(getenv("MAILCOW_BASE_URL", ""), "/"),
			APIKey:                strings.TrimSpace(getenv("MAILCOW_API_KEY", "")),
			RequestTimeout:        getenvDuration("MAILCOW_TIMEOUT", 15*time.Second),
			DefaultMailboxQuotaMB: getenvInt64("MAILCOW_DEFAULT_MAILBOX_QUOTA_MB", 1024),
			MaxMailboxQuotaMB:     getenvInt64("MAILCOW_MAX_MAILBOX_QUOTA_MB", 10240),
			MaxMailboxes:          getenvInt("MAILCOW_MAX_MAILBOXES", 500),
		},

		DNS: DNSConfig{
			MXHosts:      splitList(getenv("DNS_EXPECTED_MX", "mail.nubo.email")),
			SPFInclude:   getenv("DNS_EXPECTED_SPF_INCLUDE", "spf.nubo.email"),
			DKIMSelector: getenv("DNS_DKIM_SELECTOR", "dkim"),
			DMARCPolicy:  getenv("DNS_DMARC_POLICY", "quarantine"),
			Timeout:      getenvDuration("DNS_TIMEOUT", 10*time.Second),
		},

		Billing: BillingConfig{
			Currency:                  strings.ToUpper(getenv("BILLING_CURRENCY", "INR")),
			StoragePricePaisePerGB:    getenvInt64("BILLING_STORAGE_PRICE_PAISE_PER_GB", 500),
			OrgStoragePricePaisePerGB: getenvInt64("BILLING_ORG_STORAGE_PRICE_PAISE_PER_GB", 700),
			TaxRateBasisPoints:        getenvInt64("BILLING_TAX_RATE_BP", 1800),
			RazorpayKeyID:             strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
			RazorpayKeySecret:         strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
			RazorpayWebhookSecret:     strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
			RazorpayBaseURL:           strings.TrimRight(getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com"), "/"),
			RequestTimeout:            getenvDuration("RAZORPAY_TIMEOUT", 15*time.Second),
		},

		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			WebhookRate:      getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst:     getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
			VerifyRate:       getenvFloat("RATE_LIMIT_VERIFY_RATE", 5),
			VerifyBurst:      getenvInt("RATE_LIMIT_VERIFY_BURST", 10),
			ProvisionLockTTL: getenvDuration("RATE_LIMIT_PROVISION_LOCK_TTL", 30*time.Second),
		},

		BootstrapAPIKey: strings.TrimSpace(getenv("BOOTSTRAP_API_KEY", "")),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
