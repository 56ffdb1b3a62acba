package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// RunExperiment executes the full pipeline for a config: load splits,
// build retrievers over the training cases, then for each threshold in
// the sweep augment all splits, train the classifier, and evaluate on
// test. Returns the results bundle (not yet saved).
func RunExperiment(ctx context.Context, cfg *Config) (*ResultsBundle, error) {
	splits, err := LoadSplits(cfg.Data)
	if err != nil {
		return nil, err
	}
	slog.Info("splits loaded",
		"train", splits.Train.Len(), "dev", splits.Dev.Len(), "test", splits.Test.Len())

	labels := NewLabelEncoder(splits.Train.Labels())
	slog.Info("labels encoded", "classes", labels.NumClasses())

	// Retrievers search the training cases only; dev and test rows query
	// the same case base.
	retrievers := make([]Retriever, len(cfg.Retrievers))
	for i, rc := range cfg.Retrievers {
		r, err := NewRetriever(ctx, rc, splits.Train.Cases, cfg.Augment.Mode)
		if err != nil {
			return nil, fmt.Errorf("build retriever %d: %w", i, err)
		}
		retrievers[i] = r
	}

	bundle := NewResultsBundle(cfg, labels.Classes())

	for _, threshold := range cfg.Augment.Thresholds {
		slog.Info("threshold run starting", "threshold", threshold)

		result, err := runThreshold(ctx, cfg, splits, retrievers, labels, threshold)
		if err != nil {
			return nil, fmt.Errorf("threshold %g: %w", threshold, err)
		}
		bundle.Results = append(bundle.Results, *result)

		slog.Info("threshold run complete",
			"threshold", threshold,
			"test_accuracy", result.Test.Accuracy,
			"test_f1", result.Test.F1)
	}

	return bundle, nil
}

// checkpointPathFor derives the checkpoint path for one threshold of the
// sweep, so thresholds do not overwrite each other's best model.
func checkpointPathFor(base string, threshold float64) string {
	if base == "" {
		return ""
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-thr%g%s", strings.TrimSuffix(base, ext), threshold, ext)
}

// The tokenizer vocabulary and label classes live beside the checkpoint,
// so an eval-only run reconstructs the exact encoding it was trained with.
func vocabPathFor(ckptPath string) string  { return ckptPath + ".vocab" }
func labelsPathFor(ckptPath string) string { return ckptPath + ".labels" }

func runThreshold(ctx context.Context, cfg *Config, splits *Splits, retrievers []Retriever, labels *LabelEncoder, threshold float64) (*ThresholdResult, error) {
	opts := AugmentOptions{
		Mode:      cfg.Augment.Mode,
		NumCases:  cfg.Augment.NumCases,
		Threshold: threshold,
		Sep:       cfg.Augment.Sep,
	}

	augTrain, err := AugmentCases(ctx, splits.Train, retrievers, opts)
	if err != nil {
		return nil, fmt.Errorf("augment train: %w", err)
	}
	augDev, err := AugmentCases(ctx, splits.Dev, retrievers, opts)
	if err != nil {
		return nil, fmt.Errorf("augment dev: %w", err)
	}
	augTest, err := AugmentCases(ctx, splits.Test, retrievers, opts)
	if err != nil {
		return nil, fmt.Errorf("augment test: %w", err)
	}

	ckptPath := checkpointPathFor(cfg.Output.CheckpointPath, threshold)

	// In eval-only mode the tokenizer and label classes come from the
	// files written next to the checkpoint at training time, never from a
	// refit: a refit vocabulary would assign different IDs and silently
	// mis-tokenize every input.
	tok := NewTokenizer()
	if cfg.Training.EvalOnly {
		if err := tok.Load(vocabPathFor(ckptPath)); err != nil {
			return nil, err
		}
		labels, err = LoadLabelEncoder(labelsPathFor(ckptPath))
		if err != nil {
			return nil, err
		}
	} else {
		// Vocabulary comes from the augmented training texts only.
		corpus := make([]string, 0, 2*len(augTrain))
		for _, a := range augTrain {
			corpus = append(corpus, a.Original.Text, a.Text)
		}
		if err := tok.Fit(corpus, cfg.Model.VocabSize); err != nil {
			return nil, fmt.Errorf("fit tokenizer: %w", err)
		}
	}

	trainEx, err := MakeExamples(augTrain, tok, labels, cfg.Model.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize train: %w", err)
	}
	devEx, err := MakeExamples(augDev, tok, labels, cfg.Model.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize dev: %w", err)
	}
	testEx, err := MakeExamples(augTest, tok, labels, cfg.Model.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize test: %w", err)
	}

	var model *DualEncoderClassifier
	var devMetrics Metrics

	if cfg.Training.EvalOnly {
		model, err = LoadClassifier(ckptPath)
		if err != nil {
			return nil, err
		}
		devMetrics, _, err = Evaluate(ctx, model, devEx)
		if err != nil {
			return nil, fmt.Errorf("evaluate dev: %w", err)
		}
	} else {
		model = NewDualEncoderClassifier(cfg.ClassifierConfig(labels.NumClasses()))

		trainer := NewTrainer(cfg.Training)
		trainResult, err := trainer.Train(ctx, model, trainEx, devEx, ckptPath)
		if err != nil {
			return nil, err
		}
		devMetrics = trainResult.DevMetrics

		if ckptPath != "" {
			if err := tok.Save(vocabPathFor(ckptPath)); err != nil {
				return nil, err
			}
			if err := labels.Save(labelsPathFor(ckptPath)); err != nil {
				return nil, err
			}

			// Test with the best checkpoint, not the last epoch's weights.
			model, err = LoadClassifier(ckptPath)
			if err != nil {
				return nil, err
			}
		}
	}

	testMetrics, preds, err := Evaluate(ctx, model, testEx)
	if err != nil {
		return nil, fmt.Errorf("evaluate test: %w", err)
	}

	predNames := make([]string, len(preds))
	for i, p := range preds {
		name, err := labels.Inverse(p)
		if err != nil {
			return nil, err
		}
		predNames[i] = name
	}

	gold := splits.Test.Labels()
	examples := make([]ExampleResult, len(augTest))
	for i, a := range augTest {
		examples[i] = ExampleResult{
			Text:          a.Original.Text,
			AugmentedText: a.Text,
			Retrieved:     a.Retrieved,
			Gold:          gold[i],
			Predicted:     predNames[i],
		}
	}

	return &ThresholdResult{
		Threshold:   threshold,
		Dev:         devMetrics,
		Test:        testMetrics,
		Predictions: predNames,
		Gold:        gold,
		Examples:    examples,
	}, nil
}
