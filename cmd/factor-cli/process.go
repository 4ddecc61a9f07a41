package main

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klimatrix/factor-cli/internal/export"
	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/orchestrator"
)

var (
	processTemplate string
	processOut      string
	processMode     string
	processWorkers  = 4
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process an input template end to end and write a results workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mode := model.ProcessingMode(processMode)
		if mode != model.ModeAuto && mode != model.ModeReview {
			return eris.Errorf("invalid mode %q: must be auto or review", processMode)
		}

		data, err := os.ReadFile(processTemplate)
		if err != nil {
			return eris.Wrap(err, "read template")
		}
		rows, err := export.ParseTemplate(data)
		if err != nil {
			return err
		}
		for i := range rows {
			orchestrator.NormalizeRow(&rows[i])
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job := &model.Job{
			ID:        uuid.NewString(),
			Mode:      mode,
			Status:    model.JobStatusPending,
			TotalRows: len(rows),
			CreatedAt: time.Now().UTC(),
		}
		if err := env.Store.CreateJob(ctx, job, rows); err != nil {
			return eris.Wrap(err, "create job")
		}
		zap.L().Info("job created",
			zap.String("job_id", job.ID),
			zap.Int("rows", len(rows)),
			zap.String("mode", string(mode)),
		)

		if err := env.Orchestrator.ProcessJob(ctx, job.ID, mode); err != nil {
			return err
		}

		file, err := export.BuildResults(ctx, env.Store, job.ID)
		if err != nil {
			return eris.Wrap(err, "build results")
		}
		if err := file.Save(processOut); err != nil {
			return eris.Wrap(err, "save results workbook")
		}

		processed, err := env.Store.ListRows(ctx, job.ID)
		if err != nil {
			return err
		}
		counts := map[model.RowStatus]int{}
		for _, row := range processed {
			counts[row.Status]++
		}
		zap.L().Info("processing complete",
			zap.String("job_id", job.ID),
			zap.String("out", processOut),
			zap.Int("calculated", counts[model.RowStatusCalculated]),
			zap.Int("ambiguous", counts[model.RowStatusAmbiguous]),
			zap.Int("errors", counts[model.RowStatusError]),
		)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processTemplate, "template", "", "path to input .xlsx template (required)")
	_ = processCmd.MarkFlagRequired("template")
	processCmd.Flags().StringVar(&processOut, "out", "factor_results.xlsx", "path for the results workbook")
	processCmd.Flags().StringVar(&processMode, "mode", "auto", "processing mode: auto or review")
	rootCmd.AddCommand(processCmd)
}
