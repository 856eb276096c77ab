// Package app wires the configured components into a running application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/option"

	"github.com/barekit/ragchat/pkg/cache"
	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/chunker"
	"github.com/barekit/ragchat/pkg/config"
	"github.com/barekit/ragchat/pkg/embedding"
	badgerstore "github.com/barekit/ragchat/pkg/embedding/badger"
	openaiembed "github.com/barekit/ragchat/pkg/embedding/openai"
	"github.com/barekit/ragchat/pkg/ingest"
	"github.com/barekit/ragchat/pkg/llm"
	openaillm "github.com/barekit/ragchat/pkg/llm/openai"
	"github.com/barekit/ragchat/pkg/memory"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/session"
	"github.com/barekit/ragchat/pkg/vectorstore"
	"github.com/barekit/ragchat/pkg/vectorstore/chromem"
	memstore "github.com/barekit/ragchat/pkg/vectorstore/memory"
	"github.com/barekit/ragchat/pkg/vectorstore/postgres"
	"github.com/barekit/ragchat/pkg/vectorstore/qdrant"
)

// App holds the wired services.
type App struct {
	Retrieval *retrieval.Service
	Sessions  *session.Manager
	Chat      *chat.Service
	Ingest    *ingest.Service

	embeddings *embedding.Client
	memory     memory.Memory
	cancel     context.CancelFunc
}

// Providers lets callers replace the OpenAI backed providers, mainly in
// tests. Nil fields use OpenAI.
type Providers struct {
	Embedding embedding.Provider
	LLM       llm.Provider
}

// New builds the application described by cfg.
func New(ctx context.Context, cfg *config.Config, providers Providers) (*App, error) {
	requestOpts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
	if cfg.OpenAI.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}

	if providers.Embedding == nil {
		providers.Embedding = openaiembed.NewProvider(cfg.Embedding.Model, requestOpts...)
	}
	if providers.LLM == nil {
		providers.LLM = openaillm.New(requestOpts,
			openaillm.WithModel(cfg.OpenAI.Model),
			openaillm.WithTemperature(cfg.OpenAI.Temperature),
			openaillm.WithMaxTokens(cfg.OpenAI.MaxTokens),
		)
	}

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	embedOpts := []embedding.Option{
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithRetry(cfg.Embedding.RetryAttempts, cfg.Embedding.RetryDelay),
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
		embedding.WithRateLimit(cfg.Embedding.RateLimit, 1),
		embedding.WithDebug(cfg.Debug),
	}
	if cfg.Embedding.StorePath != "" {
		tier, err := badgerstore.Open(cfg.Embedding.StorePath, cfg.Embedding.Model)
		if err != nil {
			return nil, err
		}
		embedOpts = append(embedOpts, embedding.WithStore(tier))
	}
	a.embeddings = embedding.NewClient(providers.Embedding, embedOpts...)

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	docCache := cache.New(
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
	)
	retrievalOpts := []retrieval.Option{
		retrieval.WithChunker(chunker.New(
			chunker.WithChunkSize(cfg.Chunking.Size),
			chunker.WithOverlap(cfg.Chunking.Overlap),
			chunker.WithMinChunkSize(cfg.Chunking.MinSize),
		)),
		retrieval.WithCache(docCache),
		retrieval.WithDebug(cfg.Debug),
	}
	if cfg.VectorStore.MaxDistance > 0 {
		retrievalOpts = append(retrievalOpts, retrieval.WithMaxDistance(cfg.VectorStore.MaxDistance))
	}
	a.Retrieval = retrieval.NewService(store, a.embeddings, retrievalOpts...)

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	docCache.Start(bg)

	sessionOpts := []session.Option{session.WithSystemPrompt(cfg.Chat.SystemPrompt)}
	if cfg.Memory.Type != memory.TypeInMemory {
		mem, err := memory.NewFactory(ctx, cfg.Memory)
		if err != nil {
			return nil, err
		}
		a.memory = mem
		sessionOpts = append(sessionOpts, session.WithMemory(mem))
	}
	a.Sessions = session.NewManager(sessionOpts...)

	a.Chat = chat.NewService(providers.LLM, a.Retrieval, a.Sessions,
		chat.WithContextManager(chat.NewContextManager(cfg.Chat.MaxContextLength, cfg.Chat.MaxContextMessages)),
		chat.WithPromptManager(chat.NewPromptManager(cfg.Chat.Templates)),
		chat.WithTemplate(cfg.Chat.Template),
		chat.WithMaxContextMessages(cfg.Chat.MaxContextMessages),
		chat.WithAutoRetrieve(cfg.Chat.AutoRetrieve, cfg.Chat.RetrieveLimit),
		chat.WithDebug(cfg.Debug),
	)

	a.Ingest = ingest.NewService(a.Retrieval,
		ingest.WithFactory(a.Retrieval.Factory()),
		ingest.WithAllowedExtensions(cfg.Upload.AllowedExtensions...),
		ingest.WithMaxFileSize(cfg.Upload.MaxFileSize),
		ingest.WithConcurrency(cfg.Upload.Concurrency),
	)

	ok = true
	slog.Info("application ready",
		"vector_store", cfg.VectorStore.Type,
		"memory", cfg.Memory.Type,
		"embedding_model", cfg.Embedding.Model,
		"chat_model", cfg.OpenAI.Model,
	)
	return a, nil
}

// NewStore opens the configured vector store.
func NewStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case config.StoreChromem:
		return chromem.New(vs.Path, vs.Collection, cfg.Embedding.Dimension)
	case config.StoreMemory:
		return memstore.New(), nil
	case config.StoreQdrant:
		return qdrant.New(ctx, qdrant.Config{
			Host:       vs.Qdrant.Host,
			Port:       vs.Qdrant.Port,
			APIKey:     vs.Qdrant.APIKey,
			UseTLS:     vs.Qdrant.UseTLS,
			Collection: vs.Collection,
			VectorSize: uint64(cfg.Embedding.Dimension),
		})
	case config.StorePostgres:
		return postgres.New(vs.PostgresDSN, vs.Collection)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", vs.Type)
	}
}

// Close releases every component. It is safe to call on a partially built
// App.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.Retrieval != nil {
		errs = append(errs, a.Retrieval.Close())
	}
	if a.embeddings != nil {
		errs = append(errs, a.embeddings.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close(context.Background()))
	}
	return errors.Join(errs...)
}
