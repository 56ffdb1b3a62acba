package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "cbrclf",
	Short: "Case-based retrieval-augmented fallacy classifier",
	Long: `cbrclf trains and evaluates a logical fallacy classifier whose inputs
are augmented with similar cases retrieved from the training data.

A run is driven by a YAML config naming the CSV splits, the retrievers
(tfidf or openai), the augmentation template mode, and the training
hyperparameters. Each configured similarity threshold gets its own full
train/eval cycle; all results land in one bundle in the predictions
directory.

Examples:
  # Train and evaluate with the default sweep
  cbrclf train -c config.yaml

  # Evaluate an existing checkpoint without training
  cbrclf eval -c config.yaml

  # Inspect the augmented inputs a config would produce
  cbrclf augment -c config.yaml --split dev --limit 5`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cbrclf", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to run config")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
