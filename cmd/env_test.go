package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dupe-finder/internal/config"
	"github.com/sells-group/dupe-finder/internal/store/storetest"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.OpenAI.Key = "sk-test"
	c.OpenAI.Model = "gpt-4o-mini"
	c.OpenAI.TimeoutSecs = 30
	c.Perplexity.Key = "pplx-test"
	c.Perplexity.Model = "sonar-pro"
	c.UPCItemDB.RequestsPerSec = 1
	c.UPCItemDB.TimeoutSecs = 5
	c.Redis.TTLHours = 1
	c.Pipeline.MaxFanout = 5
	c.Pipeline.ImageTimeoutSecs = 10
	c.Pipeline.MaxImageBytes = 1 << 20
	c.Pipeline.SearchTimeoutSecs = 60
	c.Jobs.TimeoutSecs = 30
	c.Jobs.MaxConcurrency = 2
	c.Storage.Backend = "none"
	c.Server.AllowedOrigins = []string{"*"}
	return c
}

func TestBuildEnv_Minimal(t *testing.T) {
	env, err := buildEnv(context.Background(), testConfig(), storetest.New())
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Search)
	assert.NotNil(t, env.Runner)
	assert.Empty(t, env.closers)
}

func TestBuildEnv_FullStack(t *testing.T) {
	c := testConfig()
	c.Anthropic.Key = "sk-ant-test"
	c.Anthropic.Model = "claude-haiku-4-5-20251001"
	c.Getimg.Key = "getimg-test"
	c.Getimg.Scale = 2
	c.HuggingFace.Key = "hf-test"
	c.Storage.Backend = "supabase"
	c.Storage.Bucket = "product-images"
	c.Storage.SupabaseURL = "https://x.supabase.co"
	c.Storage.SupabaseKey = "service-key"

	env, err := buildEnv(context.Background(), c, storetest.New())
	require.NoError(t, err)
	defer env.Close()
	assert.NotNil(t, env.Search)
}

func TestBuildEnv_Errors(t *testing.T) {
	c := testConfig()
	c.Redis.URL = "not a redis url"
	_, err := buildEnv(context.Background(), c, storetest.New())
	assert.Error(t, err)

	c = testConfig()
	c.Storage.Backend = "s3"
	_, err = buildEnv(context.Background(), c, storetest.New())
	assert.ErrorContains(t, err, "unknown backend")

	c = testConfig()
	c.Pipeline.PromptsFile = "/does/not/exist.yaml"
	_, err = buildEnv(context.Background(), c, storetest.New())
	assert.Error(t, err)
}

func TestBuildHandler_Health(t *testing.T) {
	c := testConfig()
	env, err := buildEnv(context.Background(), c, storetest.New())
	require.NoError(t, err)
	defer env.Close()

	rec := httptest.NewRecorder()
	buildHandler(env, c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "breakers")
}
