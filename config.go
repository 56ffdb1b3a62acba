package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level run configuration, loaded from YAML.
type Config struct {
	Data       DataConfig        `yaml:"data"`
	Retrievers []RetrieverConfig `yaml:"retrievers"`
	Augment    AugmentConfig     `yaml:"augment"`
	Model      ModelConfig       `yaml:"model"`
	Training   TrainingConfig    `yaml:"training"`
	Output     OutputConfig      `yaml:"output"`
}

// DataConfig names the CSV splits.
type DataConfig struct {
	TrainPath string `yaml:"train_path"`
	DevPath   string `yaml:"dev_path"`
	TestPath  string `yaml:"test_path"`
}

// RetrieverConfig configures one retriever in the pipeline.
type RetrieverConfig struct {
	Kind              string  `yaml:"kind"` // tfidf or openai
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Dimension         int     `yaml:"dimension"`
	RatioOfSourceUsed float64 `yaml:"ratio_of_source_used"`
}

// AugmentConfig configures template construction and the threshold sweep.
type AugmentConfig struct {
	Mode     string `yaml:"mode"`
	NumCases int    `yaml:"num_cases"`
	Sep      string `yaml:"sep"`

	// Thresholds to sweep: one full train/eval run per value. The first
	// is effectively "no threshold", the second keeps only close
	// neighbors.
	Thresholds []float64 `yaml:"thresholds"`
}

// ModelConfig configures the classifier architecture.
type ModelConfig struct {
	VocabSize  int     `yaml:"vocab_size"`
	MaxSeqLen  int     `yaml:"max_seq_len"`
	HiddenDim  int     `yaml:"hidden_dim"`
	NumLayers  int     `yaml:"num_layers"`
	NumHeads   int     `yaml:"num_heads"`
	FFHidden   int     `yaml:"ff_hidden"`
	CrossHeads int     `yaml:"cross_heads"`
	Dropout    float64 `yaml:"dropout"`
}

// TrainingConfig configures the optimization loop.
type TrainingConfig struct {
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	WeightDecay  float64 `yaml:"weight_decay"`
	WarmupSteps  int     `yaml:"warmup_steps"`
	GradClip     float64 `yaml:"grad_clip"`
	Seed         int64   `yaml:"seed"`
	EvalOnly     bool    `yaml:"eval_only"`
}

// OutputConfig names where run artifacts land.
type OutputConfig struct {
	PredictionsDir string `yaml:"predictions_dir"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

// LoadConfig reads and validates a YAML config file, applying defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Augment.Mode == "" {
		c.Augment.Mode = ModeText
	}
	if c.Augment.NumCases == 0 {
		c.Augment.NumCases = 1
	}
	if c.Augment.Sep == "" {
		c.Augment.Sep = DefaultSep
	}
	if len(c.Augment.Thresholds) == 0 {
		c.Augment.Thresholds = []float64{-1e7, 0.5}
	}

	if c.Model.VocabSize == 0 {
		c.Model.VocabSize = 8000
	}
	if c.Model.MaxSeqLen == 0 {
		c.Model.MaxSeqLen = 128
	}
	if c.Model.HiddenDim == 0 {
		c.Model.HiddenDim = 128
	}
	if c.Model.NumLayers == 0 {
		c.Model.NumLayers = 2
	}
	if c.Model.NumHeads == 0 {
		c.Model.NumHeads = 4
	}
	if c.Model.FFHidden == 0 {
		c.Model.FFHidden = 4 * c.Model.HiddenDim
	}
	if c.Model.CrossHeads == 0 {
		c.Model.CrossHeads = 8
	}
	if c.Model.Dropout == 0 {
		c.Model.Dropout = 0.1
	}

	if c.Training.BatchSize == 0 {
		c.Training.BatchSize = 8
	}
	if c.Training.LearningRate == 0 {
		c.Training.LearningRate = 8.448e-05
	}
	if c.Training.Epochs == 0 {
		c.Training.Epochs = 6
	}
	if c.Training.WeightDecay == 0 {
		c.Training.WeightDecay = 0.05
	}
	if c.Training.GradClip == 0 {
		c.Training.GradClip = 1.0
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = 42
	}

	if c.Output.PredictionsDir == "" {
		c.Output.PredictionsDir = "predictions"
	}
	if c.Output.CheckpointPath == "" {
		c.Output.CheckpointPath = "checkpoint.bin"
	}

	// Remote retrievers fall back to the conventional env var so keys
	// stay out of config files.
	for i := range c.Retrievers {
		r := &c.Retrievers[i]
		if r.Kind == RetrieverOpenAI && r.APIKey == "" {
			r.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate rejects configurations that would fail mid-run. All of these
// are fatal before any retrieval or training starts.
func (c *Config) Validate() error {
	if c.Data.TrainPath == "" || c.Data.DevPath == "" || c.Data.TestPath == "" {
		return fmt.Errorf("data: train_path, dev_path and test_path are all required")
	}

	switch c.Augment.Mode {
	case ModeText, ModeExplanations, ModeGoals, ModeStructure, ModeCounter:
	default:
		return fmt.Errorf("augment: mode %q: %w", c.Augment.Mode, ErrUnknownMode)
	}
	if c.Augment.NumCases < 0 {
		return fmt.Errorf("augment: num_cases must be >= 0, got %d", c.Augment.NumCases)
	}

	for i, r := range c.Retrievers {
		switch r.Kind {
		case RetrieverTFIDF:
		case RetrieverOpenAI:
			if r.APIKey == "" {
				return fmt.Errorf("retrievers[%d]: openai retriever needs api_key or OPENAI_API_KEY", i)
			}
		default:
			return fmt.Errorf("retrievers[%d]: kind %q: %w", i, r.Kind, ErrUnknownRetriever)
		}
		if r.RatioOfSourceUsed < 0 || r.RatioOfSourceUsed > 1 {
			return fmt.Errorf("retrievers[%d]: ratio_of_source_used must be in [0,1], got %g", i, r.RatioOfSourceUsed)
		}
	}

	if c.Model.HiddenDim%c.Model.NumHeads != 0 {
		return fmt.Errorf("model: hidden_dim %d not divisible by num_heads %d", c.Model.HiddenDim, c.Model.NumHeads)
	}
	if c.Model.HiddenDim%c.Model.CrossHeads != 0 {
		return fmt.Errorf("model: hidden_dim %d not divisible by cross_heads %d", c.Model.HiddenDim, c.Model.CrossHeads)
	}

	if c.Training.BatchSize < 1 {
		return fmt.Errorf("training: batch_size must be >= 1")
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training: learning_rate must be > 0")
	}
	if c.Training.Epochs < 1 {
		return fmt.Errorf("training: epochs must be >= 1")
	}

	return nil
}

// EncoderConfig maps the model section onto an EncoderConfig.
func (c *Config) EncoderConfig() EncoderConfig {
	return EncoderConfig{
		VocabSize: c.Model.VocabSize,
		MaxSeqLen: c.Model.MaxSeqLen,
		HiddenDim: c.Model.HiddenDim,
		NumLayers: c.Model.NumLayers,
		NumHeads:  c.Model.NumHeads,
		FFHidden:  c.Model.FFHidden,
	}
}

// ClassifierConfig maps the model section onto a ClassifierConfig for the
// given number of classes.
func (c *Config) ClassifierConfig(numClasses int) ClassifierConfig {
	return ClassifierConfig{
		Encoder:    c.EncoderConfig(),
		NumClasses: numClasses,
		CrossHeads: c.Model.CrossHeads,
		HeadHidden: c.Model.HiddenDim,
		Dropout:    c.Model.Dropout,
	}
}
