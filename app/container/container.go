package container

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"resumerag/app/agent"
	"resumerag/config"
	"resumerag/loader/service"
	"resumerag/model"
	"resumerag/observability"
	"resumerag/retrieval"
	"resumerag/store"
	"resumerag/types"
)

// Container wires the pipeline from configuration. Every binary builds one.
type Container struct {
	Config    *config.Config
	Metrics   *observability.Metrics
	Tracing   *observability.TracerProvider
	Embedder  model.Embedder
	LLM       model.LLM
	Documents *store.Documents
	Indexer   *service.Indexer
	Retriever *retrieval.Retriever
	Agent     *agent.Agent
	Sessions  *agent.Sessions
	Assistant *agent.Assistant

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Metrics: observability.NewMetrics("resumerag"),
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  observability.TracerName,
		OTLPEndpoint: cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	c.Tracing = tp

	if err := c.buildStore(ctx); err != nil {
		c.Close(context.Background())
		return nil, err
	}

	c.Embedder = newEmbedder(cfg)
	c.LLM = model.NewOllama(cfg.LLM.URL, cfg.LLM.ChatURL, cfg.LLM.Model, cfg.LLM.MaxRetries, cfg.LLM.Timeout)
	c.Indexer = service.NewIndexer(c.Documents, c.Embedder, cfg.Chunk, c.Metrics)
	c.Agent = agent.NewAgent(c.LLM, cfg.RAG.MaxPromptTokens)
	c.Retriever = retrieval.NewRetriever(c.Embedder, c.Documents,
		retrieval.WithSectionSelector(c.Agent),
		retrieval.WithThreshold(cfg.RAG.ScoreThreshold),
		retrieval.WithMetrics(c.Metrics),
	)
	c.Sessions = agent.NewSessions(cfg.RAG.SessionTTL, cfg.RAG.MaxSessions)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go c.Sessions.Run(sweepCtx, sweepInterval(cfg.RAG.SessionTTL))
	c.closers = append(c.closers, func() error { stopSweep(); return nil })

	c.Assistant = agent.NewAssistant(c.Agent, c.LLM, c.Retriever, c.Sessions, cfg.RAG.TopK, c.Metrics)
	return c, nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	return min(ttl/2, time.Minute)
}

func newEmbedder(cfg *config.Config) model.Embedder {
	var backend model.Backend
	switch cfg.Embedder {
	case "hash":
		backend = model.NewHashEmbedder(types.Dimension)
	default:
		backend = model.NewOllamaEmbedder(cfg.Ollama.EmbeddingURL, cfg.Ollama.EmbeddingModel)
	}
	return model.NewEmbedder(backend, types.Dimension)
}

func (c *Container) buildStore(ctx context.Context) error {
	cfg := c.Config

	var pool *pgxpool.Pool
	if cfg.Vector.Backend == "pgvector" || cfg.Catalog.Backend == "postgres" {
		p, err := store.NewPostgresPool(ctx, cfg.PG.DSN())
		if err != nil {
			return fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		pool = p
		c.closers = append(c.closers, func() error { p.Close(); return nil })
	}

	var index store.VectorIndex
	switch cfg.Vector.Backend {
	case "pgvector":
		index = store.NewPgVectorIndex(pool, cfg.PG.Table)
	case "qdrant":
		q, err := store.NewQdrantIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
		if err != nil {
			return err
		}
		index = q
	default:
		index = store.NewMemoryIndex()
	}
	c.closers = append(c.closers, index.Close)

	if err := index.EnsureIndex(ctx, types.Dimension); err != nil {
		return fmt.Errorf("error to create index: %w", err)
	}

	var catalog store.Catalog
	switch cfg.Catalog.Backend {
	case "postgres":
		pc, err := store.NewPostgresCatalog(ctx, pool)
		if err != nil {
			return err
		}
		catalog = pc
	default:
		sc, err := store.NewSQLiteCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		catalog = sc
	}
	c.closers = append(c.closers, catalog.Close)

	c.Documents = store.NewDocuments(index, catalog)
	log.Printf("[CONTAINER] vector index: %s, catalog: %s", cfg.Vector.Backend, cfg.Catalog.Backend)
	return nil
}

// Close releases the stores in reverse order of creation and flushes traces.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
