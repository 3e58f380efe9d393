package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/repository"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "JWT_SECRET", "STORE_DRIVER", "REDIS_ADDR", "HUB_USE_MQ", "MINIO_ENDPOINT", "ALLOWED_ORIGINS", "WS_PONG_WAIT"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()
	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.UseMQ)
	assert.Empty(t, cfg.MinIOEndpoint)
	assert.Nil(t, cfg.AllowedOrigins)
	assert.Equal(t, 60*time.Second, cfg.WSPongWait)
	assert.NoError(t, cfg.Validate())
}

func TestConfigRejectsDefaultSecretOutsideDev(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_ENV", "prod")
	cfg := LoadConfig()
	require.Error(t, cfg.Validate())

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.JWTSecret = "a-real-secret"
	assert.NoError(t, cfg.Validate())

	assert.Error(t, Config{Env: EnvDev}.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("HUB_USE_MQ", "true")

	cfg := LoadConfig()
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 8, cfg.WSSendBuffer)
	assert.True(t, cfg.UseMQ)
}

func TestNewServerWithSQLite(t *testing.T) {
	t.Cleanup(commonlog.SetOutput(io.Discard))
	gin.SetMode(gin.TestMode)

	cfg := Config{
		Port:          "0",
		JWTSecret:     "test-secret",
		JWTTTLMinutes: 5,
		StoreDriver:   StoreDriverSQLite,
		SQLitePath:    repository.MemoryPath,
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	assert.Nil(t, s.Redis)
	assert.Nil(t, s.MQConn)
	assert.Nil(t, s.Hub.Attachments())

	w := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestNewServerRejectsUnknownDriver(t *testing.T) {
	_, err := NewServer(Config{JWTSecret: "test-secret", StoreDriver: "cassandra"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}
