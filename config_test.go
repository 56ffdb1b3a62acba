package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
data:
  train_path: train.csv
  dev_path: dev.csv
  test_path: test.csv
retrievers:
  - kind: tfidf
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Augment.Mode != ModeText {
		t.Errorf("default mode = %q, want text", cfg.Augment.Mode)
	}
	if cfg.Augment.NumCases != 1 {
		t.Errorf("default num_cases = %d, want 1", cfg.Augment.NumCases)
	}
	if cfg.Augment.Sep != "[SEP]" {
		t.Errorf("default sep = %q, want [SEP]", cfg.Augment.Sep)
	}
	if len(cfg.Augment.Thresholds) != 2 || cfg.Augment.Thresholds[0] != -1e7 || cfg.Augment.Thresholds[1] != 0.5 {
		t.Errorf("default thresholds = %v, want [-1e7 0.5]", cfg.Augment.Thresholds)
	}
	if cfg.Training.BatchSize != 8 || cfg.Training.Epochs != 6 {
		t.Errorf("training defaults = %+v", cfg.Training)
	}
	if cfg.Training.LearningRate != 8.448e-05 {
		t.Errorf("default lr = %g, want 8.448e-05", cfg.Training.LearningRate)
	}
	if cfg.Output.PredictionsDir != "predictions" {
		t.Errorf("default predictions_dir = %q", cfg.Output.PredictionsDir)
	}
}

func TestLoadConfigMissingData(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "data:\n  train_path: only.csv\n"))
	if err == nil {
		t.Error("expected error for missing split paths")
	}
}

func TestLoadConfigUnknownRetriever(t *testing.T) {
	yml := minimalConfig + "  - kind: bm25\n"
	_, err := LoadConfig(writeConfig(t, yml))
	if !errors.Is(err, ErrUnknownRetriever) {
		t.Errorf("error = %v, want ErrUnknownRetriever", err)
	}
}

func TestLoadConfigUnknownMode(t *testing.T) {
	yml := minimalConfig + "augment:\n  mode: nonsense\n"
	_, err := LoadConfig(writeConfig(t, yml))
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("error = %v, want ErrUnknownMode", err)
	}
}

func TestLoadConfigBadRatio(t *testing.T) {
	yml := `
data:
  train_path: a.csv
  dev_path: b.csv
  test_path: c.csv
retrievers:
  - kind: tfidf
    ratio_of_source_used: 1.5
`
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Error("expected error for ratio outside [0,1]")
	}
}

func TestLoadConfigHeadDivisibility(t *testing.T) {
	yml := minimalConfig + "model:\n  hidden_dim: 30\n  num_heads: 4\n"
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Error("expected error for hidden_dim not divisible by num_heads")
	}
}

func TestClassifierConfigMapping(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cc := cfg.ClassifierConfig(10)
	if cc.NumClasses != 10 {
		t.Errorf("NumClasses = %d, want 10", cc.NumClasses)
	}
	if cc.Encoder.HiddenDim != cfg.Model.HiddenDim {
		t.Errorf("encoder hidden %d != model hidden %d", cc.Encoder.HiddenDim, cfg.Model.HiddenDim)
	}
	if cc.CrossHeads != 8 {
		t.Errorf("CrossHeads = %d, want default 8", cc.CrossHeads)
	}
}
