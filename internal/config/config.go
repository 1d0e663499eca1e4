// Package config holds all insightminer configuration: YAML-facing structs
// with string durations, defaults, and environment overrides. Runtime
// packages own their own typed config; the mapping methods here convert.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all insightminer configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Batch        BatchConfig        `yaml:"batch"`
	Validator    ValidatorConfig    `yaml:"validator"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Store        StoreConfig        `yaml:"store"`
	Output       OutputConfig       `yaml:"output"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LLMConfig configures the external text generator.
type LLMConfig struct {
	Provider         string  `yaml:"provider"` // gemini, mock
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
	Temperature      float64 `yaml:"temperature"`
	MaxRetries       int     `yaml:"max_retries"`
	RetryBackoffBase string  `yaml:"retry_backoff_base"` // duration string, e.g. "500ms"
	RetryBackoffMax  string  `yaml:"retry_backoff_max"`
}

// BatchConfig configures the bounded batch runner.
type BatchConfig struct {
	BatchSize       int     `yaml:"batch_size"`
	AcceptThreshold float64 `yaml:"accept_threshold"`
	MaxRetries      int     `yaml:"max_retries"`
	BaseDelay       string  `yaml:"base_delay"`
	MaxDelay        string  `yaml:"max_delay"`
}

// ValidatorConfig configures verbatim excerpt validation.
type ValidatorConfig struct {
	CaseSensitive       bool   `yaml:"case_sensitive"`
	PreservePunctuation bool   `yaml:"preserve_punctuation"`
	MultiPartSeparator  string `yaml:"multi_part_separator"`
	MinExcerptWords     int    `yaml:"min_excerpt_words"`
	MaxExcerptChars     int    `yaml:"max_excerpt_chars"`
}

// PipelineConfig configures per-task stage behavior.
type PipelineConfig struct {
	MinCategories      int `yaml:"min_categories"`
	MaxCategories      int `yaml:"max_categories"`
	BatchThreshold     int `yaml:"batch_threshold"`      // item count above which classify is batched
	EvidenceMaxRetries int `yaml:"evidence_max_retries"` // evidence extraction loop attempts
	ErrorFeedbackLimit int `yaml:"error_feedback_limit"` // prior validation errors fed into the next attempt
}

// OrchestratorConfig configures fan-out and scoring policy.
type OrchestratorConfig struct {
	Concurrency int    `yaml:"concurrency"`
	TaskTimeout string `yaml:"task_timeout"`

	// Quality-score deductions for missing components. Heuristic policy,
	// deliberately tunable.
	CategoriesPenalty  int     `yaml:"categories_penalty"`
	AssignmentsPenalty int     `yaml:"assignments_penalty"`
	ExcerptsPenalty    int     `yaml:"excerpts_penalty"`
	SummaryPenalty     int     `yaml:"summary_penalty"`
	ValidationPenalty  int     `yaml:"validation_penalty"`
	PartialWeight      float64 `yaml:"partial_weight"` // weight of partial successes in the completion rate
}

// IngestConfig configures survey ingestion.
type IngestConfig struct {
	QuestionColumns  []string `yaml:"question_columns"`   // explicit headers; empty means detect
	IDColumn         string   `yaml:"id_column"`          // respondent-id header; empty means detect
	MinDistinctRatio float64  `yaml:"min_distinct_ratio"` // free-text detection threshold
}

// StoreConfig configures run-history persistence.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputConfig configures report writing.
type OutputConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"` // json, markdown
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:         "gemini",
			Model:            "gemini-2.5-flash",
			MaxOutputTokens:  16384,
			Temperature:      0.2,
			MaxRetries:       3,
			RetryBackoffBase: "500ms",
			RetryBackoffMax:  "30s",
		},
		Batch: BatchConfig{
			BatchSize:       25,
			AcceptThreshold: 0.9,
			MaxRetries:      3,
			BaseDelay:       "1s",
			MaxDelay:        "30s",
		},
		Validator: ValidatorConfig{
			MultiPartSeparator: "...",
			MinExcerptWords:    3,
			MaxExcerptChars:    400,
		},
		Pipeline: PipelineConfig{
			MinCategories:      3,
			MaxCategories:      10,
			BatchThreshold:     25,
			EvidenceMaxRetries: 3,
			ErrorFeedbackLimit: 5,
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:        6,
			TaskTimeout:        "5m",
			CategoriesPenalty:  40,
			AssignmentsPenalty: 30,
			ExcerptsPenalty:    15,
			SummaryPenalty:     15,
			ValidationPenalty:  10,
			PartialWeight:      0.7,
		},
		Ingest: IngestConfig{
			MinDistinctRatio: 0.2,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    ".insightminer/runs.db",
		},
		Output: OutputConfig{
			Dir:     "out",
			Formats: []string{"json", "markdown"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path yields defaults plus env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("INSIGHTMINER_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("INSIGHTMINER_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if prov := os.Getenv("INSIGHTMINER_PROVIDER"); prov != "" {
		c.LLM.Provider = prov
	}
	if level := os.Getenv("INSIGHTMINER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("INSIGHTMINER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.Concurrency = n
		}
	}
	if path := os.Getenv("INSIGHTMINER_DB"); path != "" {
		c.Store.Path = path
	}
}

// validate rejects values the engine cannot run with. Zero values were
// already back-filled by Default before unmarshalling.
func (c *Config) validate() error {
	if c.Batch.AcceptThreshold <= 0 || c.Batch.AcceptThreshold > 1 {
		return fmt.Errorf("batch.accept_threshold must be in (0,1], got %v", c.Batch.AcceptThreshold)
	}
	if c.Orchestrator.Concurrency <= 0 {
		return fmt.Errorf("orchestrator.concurrency must be positive, got %d", c.Orchestrator.Concurrency)
	}
	if c.Pipeline.MinCategories > c.Pipeline.MaxCategories {
		return fmt.Errorf("pipeline.min_categories (%d) exceeds max_categories (%d)",
			c.Pipeline.MinCategories, c.Pipeline.MaxCategories)
	}
	for _, field := range []struct{ name, val string }{
		{"llm.retry_backoff_base", c.LLM.RetryBackoffBase},
		{"llm.retry_backoff_max", c.LLM.RetryBackoffMax},
		{"batch.base_delay", c.Batch.BaseDelay},
		{"batch.max_delay", c.Batch.MaxDelay},
		{"orchestrator.task_timeout", c.Orchestrator.TaskTimeout},
	} {
		if _, err := time.ParseDuration(field.val); field.val != "" && err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration string, falling back to def when empty or
// malformed. Validate already rejected malformed values from files; the
// fallback keeps programmatic construction forgiving.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
