package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/config"
	"github.com/sells-group/dupe-finder/internal/dupes"
	"github.com/sells-group/dupe-finder/internal/imagepipe"
	"github.com/sells-group/dupe-finder/internal/jobs"
	"github.com/sells-group/dupe-finder/internal/llm"
	"github.com/sells-group/dupe-finder/internal/lookupcache"
	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/internal/resolver"
	"github.com/sells-group/dupe-finder/internal/store"
	anthropicpkg "github.com/sells-group/dupe-finder/pkg/anthropic"
	"github.com/sells-group/dupe-finder/pkg/getimg"
	"github.com/sells-group/dupe-finder/pkg/huggingface"
	"github.com/sells-group/dupe-finder/pkg/objectstore"
	"github.com/sells-group/dupe-finder/pkg/openai"
	"github.com/sells-group/dupe-finder/pkg/perplexity"
	"github.com/sells-group/dupe-finder/pkg/upcitemdb"
)

// appEnv holds every client, resolver and pipeline component needed by the
// serve, search, analyze and populate commands.
type appEnv struct {
	Store  store.Store
	Search *dupes.Orchestrator
	Runner *jobs.Runner

	Breakers *resilience.ServiceBreakers

	closers []io.Closer
}

// Close waits for dispatched jobs and releases held resources.
func (e *appEnv) Close() {
	if e.Runner != nil {
		e.Runner.Wait()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			zap.L().Warn("close resource failed", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and builds the environment for mode. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	env, err := buildEnv(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires collaborators around an open store.
func buildEnv(ctx context.Context, c *config.Config, st store.Store) (*appEnv, error) {
	env := &appEnv{Store: st}

	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs))
	env.Breakers = breakers
	retry := resilience.FromRetryConfig(
		c.Resilience.MaxAttempts, c.Resilience.InitialBackoffMs, c.Resilience.MaxBackoffMs)
	guard := func(service string) *resilience.Guard {
		return resilience.NewGuard(service, breakers, retry)
	}

	prompts, err := llm.LoadPrompts(c.Pipeline.PromptsFile)
	if err != nil {
		return nil, err
	}

	openaiClient := openai.NewClient(c.OpenAI.Key, c.OpenAI.BaseURL, c.OpenAI.Model, c.OpenAI.VisionModel,
		openai.WithHTTPClient(&http.Client{Timeout: time.Duration(c.OpenAI.TimeoutSecs) * time.Second}))
	llmCfg := llm.Config{
		OpenAI:          openaiClient,
		Prompts:         prompts,
		OpenAIGuard:     guard("openai"),
		PerplexityGuard: guard("perplexity"),
		RepairGuard:     guard("anthropic"),
	}
	if c.Perplexity.Key != "" {
		llmCfg.Perplexity = perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL), perplexity.WithModel(c.Perplexity.Model))
	}
	if c.Anthropic.Key != "" {
		llmCfg.Repairer = anthropicpkg.NewClient(c.Anthropic.Key)
		llmCfg.RepairModel = c.Anthropic.Model
	}
	adapter, err := llm.New(llmCfg)
	if err != nil {
		return nil, err
	}

	brands := resolver.NewBrands(st, adapter)
	ingredients := resolver.NewIngredients(st, adapter)

	products, err := buildProducts(ctx, c, env)
	if err != nil {
		return nil, err
	}

	runner, err := jobs.NewRunner(st, adapter, brands, ingredients, jobs.Config{
		Timeout:        time.Duration(c.Jobs.TimeoutSecs) * time.Second,
		MaxConcurrency: c.Jobs.MaxConcurrency,
		MaxFanout:      c.Pipeline.MaxFanout,
	})
	if err != nil {
		return nil, err
	}
	env.Runner = runner

	deps := dupes.Deps{
		Store:         st,
		Analyzer:      adapter,
		Products:      products,
		ProductsGuard: guard("upcitemdb"),
		Brands:        brands,
		Ingredients:   ingredients,
		Jobs:          runner,
		MaxFanout:     c.Pipeline.MaxFanout,
		LookupTimeout: time.Duration(c.UPCItemDB.TimeoutSecs) * time.Second,
		ImageTimeout:  time.Duration(c.Pipeline.ImageTimeoutSecs) * time.Second,
	}
	images, err := buildImages(ctx, c, env, guard)
	if err != nil {
		return nil, err
	}
	if images != nil {
		deps.Images = images
	}

	orch, err := dupes.New(deps)
	if err != nil {
		return nil, err
	}
	env.Search = orch
	return env, nil
}

// buildProducts returns the cached UPCitemdb client. Redis backs the cache
// when configured; otherwise lookups are cached in process.
func buildProducts(ctx context.Context, c *config.Config, env *appEnv) (upcitemdb.Client, error) {
	client := upcitemdb.NewClient(c.UPCItemDB.Key,
		upcitemdb.WithBaseURL(c.UPCItemDB.BaseURL),
		upcitemdb.WithRate(c.UPCItemDB.RequestsPerSec),
		upcitemdb.WithHTTPClient(&http.Client{Timeout: time.Duration(c.UPCItemDB.TimeoutSecs) * time.Second}),
	)

	ttl := time.Duration(c.Redis.TTLHours) * time.Hour
	if c.Redis.URL == "" {
		return lookupcache.Wrap(client, lookupcache.NewMemory(ttl)), nil
	}
	rc, err := lookupcache.NewRedis(ctx, c.Redis.URL, ttl)
	if err != nil {
		return nil, eris.Wrap(err, "init lookup cache")
	}
	env.closers = append(env.closers, rc)
	return lookupcache.Wrap(client, rc), nil
}

// buildImages returns nil when no storage backend is configured.
func buildImages(ctx context.Context, c *config.Config, env *appEnv, guard func(string) *resilience.Guard) (*imagepipe.Pipeline, error) {
	if c.Storage.Backend == "" || c.Storage.Backend == "none" {
		zap.L().Info("image storage disabled, product images will not be re-hosted")
		return nil, nil
	}
	objects, err := objectstore.New(ctx, objectstore.Config{
		Backend:     c.Storage.Backend,
		Bucket:      c.Storage.Bucket,
		SupabaseURL: c.Storage.SupabaseURL,
		SupabaseKey: c.Storage.SupabaseKey,
		PublicURL:   c.Storage.PublicURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init object storage")
	}
	if closer, ok := objects.(io.Closer); ok {
		env.closers = append(env.closers, closer)
	}

	opts := []imagepipe.Option{
		imagepipe.WithMaxBytes(int64(c.Pipeline.MaxImageBytes)),
		imagepipe.WithMaxDimension(c.Pipeline.MaxImageDimension),
		imagepipe.WithFetchTimeout(time.Duration(c.Pipeline.ImageTimeoutSecs) * time.Second),
	}
	if c.Getimg.Key != "" {
		opts = append(opts, imagepipe.WithUpscaler(
			getimg.NewClient(c.Getimg.Key, getimg.WithBaseURL(c.Getimg.BaseURL)), c.Getimg.Scale, guard("getimg")))
	}
	if c.HuggingFace.Key != "" {
		opts = append(opts, imagepipe.WithBackgroundRemover(
			huggingface.NewClient(c.HuggingFace.Key, c.HuggingFace.ModelURL, nil), guard("huggingface")))
	}
	return imagepipe.New(objects, opts...), nil
}
