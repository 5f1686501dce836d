// Package config loads command-line tool configuration in layers:
// built-in defaults, an optional YAML file, then ANALOGY_* environment
// variables. Flags given on the command line are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read into the config.
// ANALOGY_TRAINING_BATCH_SIZE sets training.batch_size.
const EnvPrefix = "ANALOGY_"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the full tool configuration.
type Config struct {
	Data     DataConfig     `koanf:"data"`
	Model    ModelConfig    `koanf:"model"`
	Training TrainingConfig `koanf:"training"`
	Eval     EvalConfig     `koanf:"eval"`
	Log      LogConfig      `koanf:"log"`
}

// DataConfig names input and output files.
type DataConfig struct {
	Train  string `koanf:"train"`
	Test   string `koanf:"test"`
	Output string `koanf:"output"`
}

// ModelConfig holds model shape and regularization.
type ModelConfig struct {
	HiddenSize int     `koanf:"hidden_size"`
	Lambda     float64 `koanf:"lambda"`
	Seed       int64   `koanf:"seed"`
}

// TrainingConfig holds the training loop settings.
type TrainingConfig struct {
	Epochs       int     `koanf:"epochs"`
	BatchSize    int     `koanf:"batch_size"`
	Negatives    int     `koanf:"negatives"`
	Optimizer    string  `koanf:"optimizer"` // sgd or adagrad
	LearningRate float64 `koanf:"learning_rate"`
	Workers      int     `koanf:"workers"`
}

// EvalConfig holds link prediction settings.
type EvalConfig struct {
	HitsAt   []int `koanf:"hits_at"`
	Filtered bool  `koanf:"filtered"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			HiddenSize: 200,
			Lambda:     0.0,
			Seed:       1,
		},
		Training: TrainingConfig{
			Epochs:       100,
			BatchSize:    128,
			Negatives:    4,
			Optimizer:    "adagrad",
			LearningRate: 0.1,
			Workers:      4,
		},
		Eval: EvalConfig{
			HitsAt:   []int{1, 3, 10},
			Filtered: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty)
// and environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// comma-separated env values arrive as a single string
	if s, ok := k.Get("eval.hits_at").(string); ok {
		if err := k.Set("eval.hits_at", strings.Split(s, ",")); err != nil {
			return nil, fmt.Errorf("eval.hits_at: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// sections lists the top-level keys; the remainder of an env name is the
// field, which may itself contain underscores.
var sections = []string{"data", "model", "training", "eval", "log"}

// envKey maps ANALOGY_TRAINING_BATCH_SIZE to training.batch_size.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.Data.Train == "":
		return fmt.Errorf("data.train is required: %w", ErrInvalid)
	case c.Model.HiddenSize < 2 || c.Model.HiddenSize%2 != 0:
		return fmt.Errorf("model.hidden_size %d must be even and at least 2: %w", c.Model.HiddenSize, ErrInvalid)
	case c.Model.Lambda < 0 || math.IsNaN(c.Model.Lambda) || math.IsInf(c.Model.Lambda, 0):
		return fmt.Errorf("model.lambda must be finite and non-negative: %w", ErrInvalid)
	case c.Training.Epochs <= 0:
		return fmt.Errorf("training.epochs must be positive: %w", ErrInvalid)
	case c.Training.BatchSize <= 0:
		return fmt.Errorf("training.batch_size must be positive: %w", ErrInvalid)
	case c.Training.Negatives < 0:
		return fmt.Errorf("training.negatives must be non-negative: %w", ErrInvalid)
	case c.Training.LearningRate <= 0:
		return fmt.Errorf("training.learning_rate must be positive: %w", ErrInvalid)
	case c.Training.Workers <= 0:
		return fmt.Errorf("training.workers must be positive: %w", ErrInvalid)
	}
	switch c.Training.Optimizer {
	case "sgd", "adagrad":
	default:
		return fmt.Errorf("training.optimizer %q is not sgd or adagrad: %w", c.Training.Optimizer, ErrInvalid)
	}
	for _, k := range c.Eval.HitsAt {
		if k <= 0 {
			return fmt.Errorf("eval.hits_at values must be positive: %w", ErrInvalid)
		}
	}
	return nil
}
