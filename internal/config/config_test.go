package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("STOREFRONT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("STOREFRONT_STORE_DRIVER", "memory")
	t.Setenv("STOREFRONT_CHECKOUT_CONFLICT_RETRIES", "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, uint(3), cfg.Checkout.ConflictRetries)
	assert.Equal(t, 20*time.Millisecond, cfg.Checkout.InitialBackoff)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	err := os.WriteFile(path, []byte(`
store:
  driver: postgres
  dsn: postgres://localhost/storefront
notification:
  queue: kafka
  brokers: "k1:9092,k2:9092"
auth:
  jwt_secret: from-file
log:
  level: debug
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "kafka", cfg.Notification.Queue)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestValidate(t *testing.T) {
	t.Setenv("STOREFRONT_AUTH_JWT_SECRET", "x")

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad driver", map[string]string{"STOREFRONT_STORE_DRIVER": "sqlite"}},
		{"bad queue", map[string]string{"STOREFRONT_NOTIFICATION_QUEUE": "sqs"}},
		{"kafka without brokers", map[string]string{"STOREFRONT_NOTIFICATION_QUEUE": "kafka"}},
		{"no secret", map[string]string{"STOREFRONT_AUTH_JWT_SECRET": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel_Fallback(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "loud"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
}
