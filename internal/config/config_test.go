package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/shop")
	t.Setenv("QRBANK_BASE_URL", "https://bank.example/")
	t.Setenv("QRBANK_API_KEY", "key")
	t.Setenv("QRBANK_API_SECRET", "secret")
	t.Setenv("QRBANK_BILLER_ID", "010753600031508")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, DispatcherLocal, cfg.PaymentDispatcher)
	require.Equal(t, ProviderQRBank, cfg.PaymentProvider)
	require.Equal(t, "THB", cfg.PaymentCurrency)
	require.Equal(t, 15*time.Second, cfg.StreamHeartbeat)
	require.Equal(t, 30*time.Minute, cfg.PendingTTL)
	require.Equal(t, "https://bank.example", cfg.QRBank.BaseURL)
	require.Empty(t, cfg.WebhookAllowedIPs)
	require.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PAYMENT_STREAM_HEARTBEAT", "5s")
	t.Setenv("PAYMENT_WEBHOOK_ALLOWED_IPS", " 10.0.0.1, ,192.168.1.0/24 ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PAYMENT_DISPATCHER", "REDIS")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 5*time.Second, cfg.StreamHeartbeat)
	require.Equal(t, []string{"10.0.0.1", "192.168.1.0/24"}, cfg.WebhookAllowedIPs)
	require.Equal(t, DispatcherRedis, cfg.PaymentDispatcher)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "redis dispatcher without redis",
			env:     map[string]string{"PAYMENT_DISPATCHER": "redis"},
			wantErr: "requires REDIS_URL",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"PAYMENT_PROVIDER": "paypal"},
			wantErr: "PAYMENT_PROVIDER must be qrbank or midtrans",
		},
		{
			name:    "midtrans without key",
			env:     map[string]string{"PAYMENT_PROVIDER": "midtrans"},
			wantErr: "MIDTRANS_SERVER_KEY is required",
		},
		{
			name:    "missing database",
			env:     map[string]string{"DATABASE_URL": ""},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "heartbeat too short",
			env:     map[string]string{"PAYMENT_STREAM_HEARTBEAT": "10ms"},
			wantErr: "PAYMENT_STREAM_HEARTBEAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
