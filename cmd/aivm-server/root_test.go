package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/queue"
)

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
	assert.Equal(t, config.StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, "", cfg.Auth.APIKey)
	assert.Equal(t, 4, cfg.Limits.MaxConcurrentEncodes)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigFromEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("AIVM_LISTEN", "0.0.0.0:9090")
	t.Setenv("AIVM_API_KEY", "test-key")
	t.Setenv("AIVM_MAX_CONCURRENT_ENCODES", "2")
	t.Setenv("AIVM_QUEUE_TIMEOUT", "250ms")
	t.Setenv("AIVM_LOG_LEVEL", "debug")

	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Listen)
	assert.Equal(t, "test-key", cfg.Auth.APIKey)
	assert.Equal(t, 2, cfg.Limits.MaxConcurrentEncodes)
	assert.Equal(t, 250*time.Millisecond, cfg.Limits.QueueTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigFlagBeatsEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("AIVM_LISTEN", "0.0.0.0:9090")
	initConfig()

	require.NoError(t, rootCmd.Flags().Set("listen", "127.0.0.1:7000"))
	t.Cleanup(func() {
		f := rootCmd.Flags().Lookup("listen")
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
}

func TestConfigRejectsUnknownBackend(t *testing.T) {
	viper.Reset()
	t.Setenv("AIVM_STORAGE_BACKEND", "ftp")
	initConfig()

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()

	a, err := newApp(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer a.close()

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "aivm-server dev")
}

func TestCountFailed(t *testing.T) {
	assert.Equal(t, 1, countFailed([]queue.Result{{Name: "a"}, {Name: "b", Err: io.EOF}}))
	assert.Equal(t, "memory", catalogLabel(config.CatalogConfig{}))
}
