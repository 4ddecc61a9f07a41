package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/calc"
	"github.com/klimatrix/factor-cli/internal/catalog"
	"github.com/klimatrix/factor-cli/internal/oracle"
	"github.com/klimatrix/factor-cli/internal/orchestrator"
	"github.com/klimatrix/factor-cli/internal/output"
	"github.com/klimatrix/factor-cli/internal/retrieval"
	"github.com/klimatrix/factor-cli/internal/semantic"
	"github.com/klimatrix/factor-cli/internal/store"
	"github.com/klimatrix/factor-cli/internal/validate"
)

// pipelineEnv holds the initialized catalog, store, and orchestrator needed
// by the process/serve commands.
type pipelineEnv struct {
	Catalog      *catalog.Catalog
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
	if pe.Catalog != nil {
		_ = pe.Catalog.Close()
	}
}

func initCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	if err := cat.Migrate(ctx); err != nil {
		_ = cat.Close()
		return nil, eris.Wrap(err, "migrate catalog")
	}
	return cat, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.Path)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the catalog, store, retriever, oracle, and
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Oracle.APIKey == "" {
		return nil, eris.New("oracle API key is required (FACTOR_ORACLE_API_KEY)")
	}

	cat, err := initCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := cat.Count(ctx); err != nil {
		_ = cat.Close()
		return nil, err
	} else if n == 0 {
		_ = cat.Close()
		return nil, eris.New("catalog is empty, run `factor-cli catalog load` first")
	}

	st, err := initStore(ctx)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		_ = cat.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Semantic search is optional; without an embedding key or a built index
	// retrieval degrades to lexical-only.
	var sem retrieval.SemanticSearcher
	if cfg.Embedding.APIKey != "" {
		embedder, err := semantic.NewGeminiEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model)
		if err != nil {
			_ = st.Close()
			_ = cat.Close()
			return nil, err
		}
		index := semantic.NewIndex(embedder)
		vectors, err := cat.LoadEmbeddings(ctx, cfg.Embedding.Model)
		if err != nil {
			_ = st.Close()
			_ = cat.Close()
			return nil, err
		}
		if len(vectors) > 0 {
			index.Load(vectors)
			zap.L().Info("semantic index loaded", zap.Int("vectors", len(vectors)))
		} else {
			zap.L().Warn("no embeddings found, run `factor-cli index build`; retrieval is lexical-only")
		}
		sem = index
	} else {
		zap.L().Warn("FACTOR_EMBEDDING_API_KEY not set, retrieval is lexical-only")
	}

	retriever := retrieval.New(cat, sem, retrieval.Options{
		TopK:         cfg.Retrieval.TopK,
		LexicalTopN:  cfg.Retrieval.LexicalTopN,
		SemanticTopN: cfg.Retrieval.SemanticTopN,
		RRFK:         cfg.Retrieval.RRFK,
		ExpandTerms:  cfg.Retrieval.ExpandTerms,
		ScopeHints:   cfg.Retrieval.ScopeHints,
	})
	if err := retriever.Init(ctx); err != nil {
		_ = st.Close()
		_ = cat.Close()
		return nil, err
	}

	orc := oracle.New(cfg.Oracle.APIKey, oracle.Options{
		Model:            cfg.Oracle.Model,
		Temperature:      cfg.Oracle.Temperature,
		MaxTokens:        cfg.Oracle.MaxTokens,
		MaxRetries:       cfg.Oracle.MaxRetries,
		GroundingRetries: cfg.Oracle.GroundingRetries,
		RequestsPerSec:   cfg.Oracle.RequestsPerSec,
	})

	calculator := calc.New(cat)
	validator := validate.New(cat, cfg.Output.MaxChars)
	sourceLabel := fmt.Sprintf("%s %s", cfg.Catalog.SourceName, cfg.Catalog.SourceVersion)
	assembler := output.New(sourceLabel, cfg.Output.MaxChars)

	orch := orchestrator.New(st, retriever, orc, calculator, validator, assembler, orchestrator.Options{
		Workers:       processWorkers,
		ComponentTopK: cfg.Retrieval.ComponentTopK,
	})

	return &pipelineEnv{Catalog: cat, Store: st, Orchestrator: orch}, nil
}
