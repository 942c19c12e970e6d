package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5, cfg.Pipeline.MaxFanout)
	assert.Equal(t, 2048, cfg.Pipeline.MaxImageDimension)
	assert.Equal(t, 300, cfg.Jobs.TimeoutSecs)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, "supabase", cfg.Storage.Backend)
	assert.Equal(t, "product-images", cfg.Storage.Bucket)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.InDelta(t, 1.0, cfg.UPCItemDB.RequestsPerSec, 0.001)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  max_fanout: 3
storage:
  backend: gcs
  bucket: dupes-prod
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pipeline.MaxFanout)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "dupes-prod", cfg.Storage.Bucket)
	assert.Equal(t, 300, cfg.Jobs.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("DUPES_LOG_LEVEL", "warn")
	t.Setenv("DUPES_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DUPES_OPENAI_KEY=sk-from-dotenv\n"), 0644))
	t.Setenv("DUPES_OPENAI_KEY", "")
	require.NoError(t, os.Unsetenv("DUPES_OPENAI_KEY"))
	t.Cleanup(func() { os.Unsetenv("DUPES_OPENAI_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.OpenAI.Key)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validServe() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/dupes"
	cfg.OpenAI.Key = "sk-test"
	cfg.Perplexity.Key = "pplx-test"
	cfg.Server.Port = 8080
	cfg.Pipeline.MaxFanout = 5
	cfg.Jobs.MaxConcurrency = 4
	cfg.Storage.Backend = "supabase"
	cfg.Storage.SupabaseURL = "https://x.supabase.co"
	cfg.Storage.SupabaseKey = "service-key"
	return cfg
}

func TestValidateServe(t *testing.T) {
	assert.NoError(t, validServe().Validate("serve"))
}

func TestValidateServe_Missing(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Backend = "supabase"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "openai.key is required")
	assert.Contains(t, err.Error(), "perplexity.key is required")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "supabase_url")
}

func TestValidateSearch_NoPerplexity(t *testing.T) {
	cfg := validServe()
	cfg.Perplexity.Key = ""
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate("search"))
}

func TestValidateMigrate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate("migrate"))
	cfg.Store.DatabaseURL = "postgres://localhost/dupes"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateStorageBackend(t *testing.T) {
	cfg := validServe()
	cfg.Storage.Backend = "s3"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be supabase, gcs or none")

	cfg.Storage.Backend = "gcs"
	cfg.Storage.Bucket = ""
	assert.ErrorContains(t, cfg.Validate("serve"), "storage.bucket is required")

	cfg.Storage.Backend = "none"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateFanoutBounds(t *testing.T) {
	cfg := validServe()
	cfg.Pipeline.MaxFanout = 0
	assert.ErrorContains(t, cfg.Validate("serve"), "max_fanout")
	cfg.Pipeline.MaxFanout = 21
	assert.ErrorContains(t, cfg.Validate("serve"), "max_fanout")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validServe().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
