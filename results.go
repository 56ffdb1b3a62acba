package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ExampleResult is one test row with everything that went into its
// prediction: the raw text, the augmented input the model saw, and the
// retrieved cases that produced it.
type ExampleResult struct {
	Text          string          `json:"text" msgpack:"text"`
	AugmentedText string          `json:"augmented_text" msgpack:"augmented_text"`
	Retrieved     []RetrievedCase `json:"retrieved" msgpack:"retrieved"`
	Gold          string          `json:"gold" msgpack:"gold"`
	Predicted     string          `json:"predicted" msgpack:"predicted"`
}

// ThresholdResult holds the outcome of one threshold setting within a
// sweep: the metrics on dev and test plus the per-example test record.
type ThresholdResult struct {
	Threshold float64 `json:"threshold" msgpack:"threshold"`

	Dev  Metrics `json:"dev" msgpack:"dev"`
	Test Metrics `json:"test" msgpack:"test"`

	// Predicted and gold labels for the test split, as class names.
	Predictions []string `json:"predictions" msgpack:"predictions"`
	Gold        []string `json:"gold" msgpack:"gold"`

	// One record per test row, aligned with Predictions and Gold.
	Examples []ExampleResult `json:"examples" msgpack:"examples"`
}

// ResultsBundle is everything a run writes: identity, the settings that
// produced it, and one result per swept threshold.
type ResultsBundle struct {
	RunID     string    `json:"run_id" msgpack:"run_id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`

	Mode     string   `json:"mode" msgpack:"mode"`
	NumCases int      `json:"num_cases" msgpack:"num_cases"`
	Classes  []string `json:"classes" msgpack:"classes"`

	// The configuration that produced the run, with secrets blanked.
	Config *Config `json:"config" msgpack:"config"`

	Results []ThresholdResult `json:"results" msgpack:"results"`
}

// NewResultsBundle creates an empty bundle with a fresh run ID. The
// config is copied with retriever API keys blanked so secrets never
// land in a results file.
func NewResultsBundle(cfg *Config, classes []string) *ResultsBundle {
	scrubbed := *cfg
	scrubbed.Retrievers = make([]RetrieverConfig, len(cfg.Retrievers))
	copy(scrubbed.Retrievers, cfg.Retrievers)
	for i := range scrubbed.Retrievers {
		scrubbed.Retrievers[i].APIKey = ""
	}

	return &ResultsBundle{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Mode:      cfg.Augment.Mode,
		NumCases:  cfg.Augment.NumCases,
		Classes:   classes,
		Config:    &scrubbed,
	}
}

// Save writes the bundle to dir as <run_id>.msgpack, creating the
// directory if needed, and returns the written path.
func (b *ResultsBundle) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("save results: %w", err)
	}

	raw, err := msgpack.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("save results: encode: %w", err)
	}

	path := filepath.Join(dir, b.RunID+".msgpack")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("save results: %w", err)
	}
	return path, nil
}

// LoadResultsBundle reads a bundle previously written by Save.
func LoadResultsBundle(path string) (*ResultsBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	var b ResultsBundle
	if err := msgpack.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("load results %s: decode: %w", path, err)
	}
	return &b, nil
}
