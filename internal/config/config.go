// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DispatcherLocal = "local"
	DispatcherRedis = "redis"

	ProviderQRBank   = "qrbank"
	ProviderMidtrans = "midtrans"
)

type Config struct {
	AppEnv      string
	Port        string
	AppURL      string
	DatabaseURL string
	RedisURL    string

	PaymentDispatcher string
	PaymentProvider   string
	PaymentCurrency   string
	StreamHeartbeat   time.Duration
	PendingTTL        time.Duration
	WebhookAllowedIPs []string

	QRBank   QRBankConfig
	Midtrans MidtransConfig

	FirebaseCredentialsPath string

	SMTPHost  string
	SMTPPort  string
	SMTPUser  string
	SMTPPass  string
	EmailFrom string
}

type QRBankConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	BillerID  string
}

type MidtransConfig struct {
	ServerKey    string
	ClientKey    string
	IsProduction bool
}

// Load reads the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		PaymentDispatcher: strings.ToLower(getEnv("PAYMENT_DISPATCHER", DispatcherLocal)),
		PaymentProvider:   strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderQRBank)),
		PaymentCurrency:   strings.ToUpper(getEnv("PAYMENT_CURRENCY", "THB")),
		StreamHeartbeat:   getEnvDuration("PAYMENT_STREAM_HEARTBEAT", 15*time.Second),
		PendingTTL:        getEnvDuration("PAYMENT_PENDING_TTL", 30*time.Minute),
		WebhookAllowedIPs: splitCSV(os.Getenv("PAYMENT_WEBHOOK_ALLOWED_IPS")),

		QRBank: QRBankConfig{
			BaseURL:   strings.TrimRight(os.Getenv("QRBANK_BASE_URL"), "/"),
			APIKey:    os.Getenv("QRBANK_API_KEY"),
			APISecret: os.Getenv("QRBANK_API_SECRET"),
			BillerID:  os.Getenv("QRBANK_BILLER_ID"),
		},
		Midtrans: MidtransConfig{
			ServerKey:    os.Getenv("MIDTRANS_SERVER_KEY"),
			ClientKey:    os.Getenv("MIDTRANS_CLIENT_KEY"),
			IsProduction: getEnvBool("MIDTRANS_IS_PRODUCTION", false),
		},

		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),

		SMTPHost:  os.Getenv("SMTP_HOST"),
		SMTPPort:  getEnv("SMTP_PORT", "587"),
		SMTPUser:  os.Getenv("SMTP_USER"),
		SMTPPass:  os.Getenv("SMTP_PASS"),
		EmailFrom: os.Getenv("EMAIL_FROM"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	switch c.PaymentDispatcher {
	case DispatcherLocal:
	case DispatcherRedis:
		if c.RedisURL == "" {
			errs = append(errs, "PAYMENT_DISPATCHER=redis requires REDIS_URL")
		}
	default:
		errs = append(errs, "PAYMENT_DISPATCHER must be local or redis")
	}

	switch c.PaymentProvider {
	case ProviderQRBank:
		if c.QRBank.BaseURL == "" || c.QRBank.APIKey == "" || c.QRBank.APISecret == "" || c.QRBank.BillerID == "" {
			errs = append(errs, "QRBANK_BASE_URL, QRBANK_API_KEY, QRBANK_API_SECRET and QRBANK_BILLER_ID are required for the qrbank provider")
		}
	case ProviderMidtrans:
		if c.Midtrans.ServerKey == "" {
			errs = append(errs, "MIDTRANS_SERVER_KEY is required for the midtrans provider")
		}
	default:
		errs = append(errs, "PAYMENT_PROVIDER must be qrbank or midtrans")
	}

	if len(c.PaymentCurrency) != 3 {
		errs = append(errs, "PAYMENT_CURRENCY must be a 3-letter code")
	}
	if c.StreamHeartbeat < time.Second {
		errs = append(errs, "PAYMENT_STREAM_HEARTBEAT must be at least 1s")
	}
	if c.PendingTTL < time.Minute {
		errs = append(errs, "PAYMENT_PENDING_TTL must be at least 1m")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
