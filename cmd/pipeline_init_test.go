//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zoning-cli/internal/config"
	"github.com/sells-group/zoning-cli/internal/prompt"
	"github.com/sells-group/zoning-cli/internal/store"
)

func baseConfig() *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: "memory"},
		Search: config.SearchConfig{URLs: []string{"http://localhost:9200"}, K: 10},
		LLM: config.LLMConfig{
			Model:          "gpt-4",
			MaxTokens:      256,
			ContextTokens:  2047,
			PromptReserve:  256,
			MaxConcurrency: 100,
		},
		OpenAI:  config.OpenAIConfig{Key: "sk-test", BaseURL: "http://localhost:1"},
		Extract: config.ExtractConfig{Method: "map", TopKPages: 6, MapWorkers: 20, Terms: []string{"min lot size"}},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = baseConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	_, ok := st.(*store.SQLiteStore)
	assert.True(t, ok)

	pe := &pipelineEnv{Store: st}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitStore_Memory(t *testing.T) {
	cfg = baseConfig()
	st, err := initStore(context.Background())
	require.NoError(t, err)
	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = baseConfig()
	cfg.Store.Driver = "mysql"
	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitPipeline_ValidationFails(t *testing.T) {
	cfg = baseConfig()
	cfg.LLM.Model = ""

	env, err := initPipeline(context.Background(), "extract")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.model is required")
}

func TestInitPipeline_Memory(t *testing.T) {
	cfg = baseConfig()

	env, err := initPipeline(context.Background(), "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Extractor)
	assert.NotNil(t, env.Prompt)
	assert.NotNil(t, env.Searcher)
	assert.NotNil(t, env.Registry)
}

func TestInitPromptClient_UnknownModel(t *testing.T) {
	cfg = baseConfig()
	cfg.LLM.Model = "gpt-99"

	_, err := initPromptClient(store.NewMemory(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, prompt.ErrUnknownModel)
}

func TestInitPromptClient_MissingCredentials(t *testing.T) {
	cfg = baseConfig()
	cfg.LLM.Model = "claude-haiku-4-5-20251001"

	_, err := initPromptClient(store.NewMemory(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs anthropic credentials")
}

func TestInitPromptClient_CustomModel(t *testing.T) {
	cfg = baseConfig()
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.Models = []config.ModelConfig{{Name: "gpt-4o", Variant: "chat_json"}}

	pc, err := initPromptClient(store.NewMemory(), prometheus.NewRegistry())
	require.NoError(t, err)
	assert.NotNil(t, pc)
}

func TestInitPromptClient_BadVariant(t *testing.T) {
	cfg = baseConfig()
	cfg.LLM.Models = []config.ModelConfig{{Name: "gpt-4o", Variant: "embedding"}}

	_, err := initPromptClient(store.NewMemory(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestLoadThesaurus(t *testing.T) {
	cfg = baseConfig()
	th, err := loadThesaurus()
	require.NoError(t, err)
	assert.NotEmpty(t, th)

	cfg.Thesaurus.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadThesaurus()
	assert.Error(t, err)
}
