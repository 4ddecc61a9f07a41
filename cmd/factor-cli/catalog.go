package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var catalogCSVPath string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the dataset catalog",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load datasets from a semicolon-delimited CSV export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cat, err := initCatalog(ctx)
		if err != nil {
			return err
		}
		defer cat.Close()

		loaded, err := cat.LoadCSV(ctx, catalogCSVPath)
		if err != nil {
			return eris.Wrap(err, "load catalog csv")
		}

		zap.L().Info("catalog load complete",
			zap.Int("datasets", loaded),
			zap.String("csv", catalogCSVPath),
		)
		return nil
	},
}

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog dataset and embedding counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cat, err := initCatalog(ctx)
		if err != nil {
			return err
		}
		defer cat.Close()

		datasets, err := cat.Count(ctx)
		if err != nil {
			return err
		}
		embeddings, err := cat.EmbeddingCount(ctx, cfg.Embedding.Model)
		if err != nil {
			return err
		}

		zap.L().Info("catalog status",
			zap.String("path", cfg.Catalog.Path),
			zap.Int("datasets", datasets),
			zap.Int("embeddings", embeddings),
			zap.String("embedding_model", cfg.Embedding.Model),
		)
		return nil
	},
}

func init() {
	catalogLoadCmd.Flags().StringVar(&catalogCSVPath, "csv", "", "path to catalog CSV file (required)")
	_ = catalogLoadCmd.MarkFlagRequired("csv")
	catalogCmd.AddCommand(catalogLoadCmd)
	catalogCmd.AddCommand(catalogStatusCmd)
	rootCmd.AddCommand(catalogCmd)
}
