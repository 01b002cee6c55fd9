package factory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/summarizer"
)

func TestNewEngineInMemory(t *testing.T) {
	engine, err := NewEngine(context.Background(), config.NewForTesting(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	assert.NotNil(t, engine.Store)
	assert.NotNil(t, engine.Lex)
	assert.NotNil(t, engine.Vec)
	assert.NotNil(t, engine.Coordinator)
	assert.NotNil(t, engine.Recall)

	components, ok := engine.Health.Check(context.Background())
	assert.True(t, ok)
	assert.Contains(t, components, "store")
}

func TestNewStoreUnknownDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.StoreDriver = "cassandra"
	_, err := NewStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewVecIndexUnknownBackend(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.VectorStore = "faiss"
	_, err := NewVecIndex(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEmbeddingRegistryDispatch(t *testing.T) {
	reg := NewEmbeddingRegistry(config.NewForTesting())

	p, err := reg("none", "anything")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = reg("ollama", "mxbai-embed-large")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = reg("openai", "text-embedding-3")
	assert.Error(t, err)
}

func TestNewSummarizerFallsBackToExtractive(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.SummaryModel = "none"
	_, ok := NewSummarizer(cfg).(summarizer.Extractive)
	assert.True(t, ok)

	cfg.SummaryModel = "llama3.1"
	_, ok = NewSummarizer(cfg).(summarizer.Extractive)
	assert.False(t, ok)
}
