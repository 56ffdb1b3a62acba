package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate an existing checkpoint without training",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg.Training.EvalOnly = true

		bundle, err := RunExperiment(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		path, err := bundle.Save(cfg.Output.PredictionsDir)
		if err != nil {
			return err
		}
		slog.Info("results saved", "run_id", bundle.RunID, "path", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
}
