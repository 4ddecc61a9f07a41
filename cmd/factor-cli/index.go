package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/semantic"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the semantic search index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed the search corpus and store the vectors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Embedding.APIKey == "" {
			return eris.New("embedding API key is required (FACTOR_EMBEDDING_API_KEY)")
		}

		cat, err := initCatalog(ctx)
		if err != nil {
			return err
		}
		defer cat.Close()

		embedder, err := semantic.NewGeminiEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model)
		if err != nil {
			return err
		}

		total, err := semantic.Build(ctx, cat, embedder, cfg.Embedding.Model, cfg.Embedding.BatchSize)
		if err != nil {
			return eris.Wrap(err, "build semantic index")
		}

		zap.L().Info("index build complete",
			zap.Int("embeddings", total),
			zap.String("model", cfg.Embedding.Model),
		)
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexBuildCmd)
	rootCmd.AddCommand(indexCmd)
}
