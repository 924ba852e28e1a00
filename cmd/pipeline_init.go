package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/cost"
	"github.com/sells-group/zoning-cli/internal/db"
	"github.com/sells-group/zoning-cli/internal/extract"
	"github.com/sells-group/zoning-cli/internal/prompt"
	"github.com/sells-group/zoning-cli/internal/resilience"
	"github.com/sells-group/zoning-cli/internal/search"
	"github.com/sells-group/zoning-cli/internal/store"
	"github.com/sells-group/zoning-cli/internal/thesaurus"
	anthropicpkg "github.com/sells-group/zoning-cli/pkg/anthropic"
	"github.com/sells-group/zoning-cli/pkg/openai"
)

// pipelineEnv holds the initialized store, clients and extractor needed by
// the extract and serve commands.
type pipelineEnv struct {
	Store     store.Store
	Searcher  search.Searcher
	Prompt    *prompt.Client
	Extractor *extract.Extractor
	Registry  *prometheus.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens and migrates the store and
// builds the extractor. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	th, err := loadThesaurus()
	if err != nil {
		return nil, err
	}

	searcher, err := initSearcher(th)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pc, err := initPromptClient(st, reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ex := extract.New(searcher, pc, th, extract.Config{
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		ContextTokens: cfg.LLM.ContextTokens,
		PromptReserve: cfg.LLM.PromptReserve,
		MapWorkers:    cfg.Extract.MapWorkers,
		TopLogprobs:   cfg.LLM.TopLogprobs,
		JSONResponse:  cfg.LLM.JSONResponse,
	})

	zap.L().Info("pipeline ready",
		zap.String("model", cfg.LLM.Model),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("search", cfg.Search.URLs),
	)

	return &pipelineEnv{
		Store:     st,
		Searcher:  searcher,
		Prompt:    pc,
		Extractor: ex,
		Registry:  reg,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "zoning.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadThesaurus() (thesaurus.Thesaurus, error) {
	if cfg.Thesaurus.Path == "" {
		return thesaurus.Default(), nil
	}
	th, err := thesaurus.Load(cfg.Thesaurus.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load thesaurus")
	}
	zap.L().Info("thesaurus loaded", zap.String("path", cfg.Thesaurus.Path), zap.Int("terms", len(th)))
	return th, nil
}

func initSearcher(th thesaurus.Thesaurus) (*search.ElasticSearcher, error) {
	es, err := search.NewElasticClient(search.ElasticConfig{
		Addresses: cfg.Search.URLs,
		Username:  cfg.Search.Username,
		Password:  cfg.Search.Password,
	})
	if err != nil {
		return nil, err
	}
	return search.NewElasticSearcher(es, th, search.Options{
		K:             cfg.Search.K,
		DistrictFuzzy: cfg.Search.DistrictFuzzy,
		TermFuzzy:     cfg.Search.TermFuzzy,
		Label:         cfg.Search.Label,
		TextField:     cfg.Search.TextField,
		PageField:     cfg.Search.PageField,
	}, resilience.FromCircuitConfig("elasticsearch", cfg.Search.Circuit.FailureThreshold, cfg.Search.Circuit.ResetTimeoutSecs)), nil
}

// initPromptClient wires the configured providers behind the cache,
// retry policy and concurrency ceiling.
func initPromptClient(st store.Store, reg prometheus.Registerer) (*prompt.Client, error) {
	registry := prompt.DefaultRegistry()
	for _, m := range cfg.LLM.Models {
		if err := registry.Register(prompt.ModelSpec{
			Name:     m.Name,
			Variant:  prompt.Variant(m.Variant),
			Provider: prompt.Provider(m.Provider),
		}); err != nil {
			return nil, err
		}
	}
	spec, err := registry.Lookup(cfg.LLM.Model)
	if err != nil {
		return nil, eris.Wrap(err, "llm.model")
	}

	router := prompt.Router{}
	if cfg.OpenAI.Key != "" {
		opts := []openai.Option{openai.WithBaseURL(cfg.OpenAI.BaseURL)}
		if cfg.OpenAI.Organization != "" {
			opts = append(opts, openai.WithOrganization(cfg.OpenAI.Organization))
		}
		router[prompt.ProviderOpenAI] = prompt.NewOpenAITransport(openai.NewClient(cfg.OpenAI.Key, opts...))
	}
	if cfg.Anthropic.Key != "" {
		router[prompt.ProviderAnthropic] = prompt.NewAnthropicTransport(
			anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL)),
		)
	}
	if _, ok := router[spec.Provider]; !ok {
		return nil, eris.Errorf("llm.model %s needs %s credentials", spec.Name, spec.Provider)
	}

	retry := resilience.FromRetryConfig(cfg.LLM.Retry.MaxAttempts, cfg.LLM.Retry.InitialBackoffMs, cfg.LLM.Retry.MaxBackoffMs)

	return prompt.NewClient(router,
		prompt.WithRegistry(registry),
		prompt.WithCache(st),
		prompt.WithLimiter(prompt.NewLimiter(cfg.LLM.MaxConcurrency, cfg.LLM.RequestsPerMinute)),
		prompt.WithRetry(retry),
		prompt.WithMetrics(prompt.NewMetrics(reg)),
		prompt.WithCostCalculator(cost.NewCalculator(cfg.Pricing)),
	), nil
}
