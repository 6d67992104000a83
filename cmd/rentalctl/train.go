package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainSave bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the model bank from the rental history",
	Long:  `Reads the rental history, trains the global and per-site models and optionally saves them.`,
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().BoolVar(&trainSave, "save", false, "save the trained models to the model store")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	engine, cleanup, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Retrain(ctx); err != nil {
		return fmt.Errorf("training: %w", err)
	}

	out := cmd.OutOrStdout()
	status := engine.Status(ctx)
	fmt.Fprintf(out, "Model %s trained on %d rows\n", status.ModelVersion, status.DataRecordCount)
	if status.Metrics != nil {
		fmt.Fprintf(out, "  hold-out R2: %.3f  MAE: %.3f  (%d train / %d test)\n",
			status.Metrics.R2, status.Metrics.MAE, status.Metrics.TrainRows, status.Metrics.TestRows)
	}
	fmt.Fprintf(out, "  site models: %d\n", status.SiteModels)

	if !trainSave {
		return nil
	}
	keys, err := engine.Save(ctx)
	if err != nil {
		return fmt.Errorf("saving models: %w", err)
	}
	fmt.Fprintf(out, "Saved %d model blobs\n", len(keys))
	return nil
}
