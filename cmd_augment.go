package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	augmentSplit string
	augmentLimit int
)

var augmentCmd = &cobra.Command{
	Use:   "augment",
	Short: "Print augmented inputs for a split, for inspection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}

		splits, err := LoadSplits(cfg.Data)
		if err != nil {
			return err
		}

		var split *Dataset
		switch augmentSplit {
		case "train":
			split = splits.Train
		case "dev":
			split = splits.Dev
		case "test":
			split = splits.Test
		default:
			return fmt.Errorf("unknown split %q (want train, dev or test)", augmentSplit)
		}

		retrievers := make([]Retriever, len(cfg.Retrievers))
		for i, rc := range cfg.Retrievers {
			r, err := NewRetriever(cmd.Context(), rc, splits.Train.Cases, cfg.Augment.Mode)
			if err != nil {
				return fmt.Errorf("build retriever %d: %w", i, err)
			}
			retrievers[i] = r
		}

		// Inspect with the tightest configured threshold.
		threshold := cfg.Augment.Thresholds[len(cfg.Augment.Thresholds)-1]
		augmented, err := AugmentCases(cmd.Context(), split, retrievers, AugmentOptions{
			Mode:      cfg.Augment.Mode,
			NumCases:  cfg.Augment.NumCases,
			Threshold: threshold,
			Sep:       cfg.Augment.Sep,
		})
		if err != nil {
			return err
		}

		for i, a := range augmented {
			if augmentLimit > 0 && i >= augmentLimit {
				break
			}
			fmt.Printf("--- %d [%s] (%d retrieved)\n%s\n", i, a.Original.Label, len(a.Retrieved), a.Text)
		}
		return nil
	},
}

func init() {
	augmentCmd.Flags().StringVar(&augmentSplit, "split", "dev", "split to augment: train, dev or test")
	augmentCmd.Flags().IntVar(&augmentLimit, "limit", 10, "rows to print (0 for all)")

	rootCmd.AddCommand(augmentCmd)
}
