// Package config defines the qaforge configuration surface and its
// validation rules. Every recognized option is an explicit struct field with
// a default; validation runs eagerly at startup so configuration errors
// abort the run before any generation call is made.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// Config is the root configuration for a qaforge run.
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Quota      QuotaConfig      `yaml:"quota"`
	Engine     EngineConfig     `yaml:"engine"`
	Cache      CacheConfig      `yaml:"cache"`
	Validation ValidationConfig `yaml:"validation"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CorpusConfig locates the processed-session corpus.
type CorpusConfig struct {
	// Path is the processed corpus JSON file. Required.
	Path string `yaml:"path"`
}

// SamplingConfig bounds the evidence sampler.
type SamplingConfig struct {
	// MinSessions and MaxSessions bound the number of sessions per window.
	MinSessions int `yaml:"min_sessions"`
	MaxSessions int `yaml:"max_sessions"`

	// SessionThreshold is the minimum number of distinct sessions a
	// generated answer must span, and the minimum positional separation
	// between any two selected sessions.
	SessionThreshold int `yaml:"session_threshold"`

	// MinEvidences and MaxEvidences bound the evidence spans per window.
	MinEvidences int `yaml:"min_evidences"`
	MaxEvidences int `yaml:"max_evidences"`

	// MaxAttempts caps resampling before the sampler reports the corpus as
	// insufficient.
	MaxAttempts int `yaml:"max_attempts"`
}

// QuotaConfig sets how many QA items to produce. Either per-difficulty
// counts or a single unstratified NumQA target.
type QuotaConfig struct {
	// NumQA is the unstratified target, used when all per-difficulty counts
	// are zero. Unstratified items are generated under the medium template.
	NumQA int `yaml:"num_qa"`

	Easy   int `yaml:"easy"`
	Medium int `yaml:"medium"`
	Hard   int `yaml:"hard"`
}

// Targets resolves the quota into a per-difficulty map. When no
// per-difficulty count is set, NumQA is assigned to medium.
func (q QuotaConfig) Targets() map[models.Difficulty]int {
	targets := map[models.Difficulty]int{}
	if q.Easy > 0 {
		targets[models.DifficultyEasy] = q.Easy
	}
	if q.Medium > 0 {
		targets[models.DifficultyMedium] = q.Medium
	}
	if q.Hard > 0 {
		targets[models.DifficultyHard] = q.Hard
	}
	if len(targets) == 0 && q.NumQA > 0 {
		targets[models.DifficultyMedium] = q.NumQA
	}
	return targets
}

// Total returns the total number of requested items.
func (q QuotaConfig) Total() int {
	total := 0
	for _, n := range q.Targets() {
		total += n
	}
	return total
}

// EngineConfig configures the external generation engine.
type EngineConfig struct {
	// Provider selects the engine implementation: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Model is the model identifier. It participates in the sampling key, so
	// changing it forces regeneration past the cache.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (proxies, compatible servers).
	BaseURL string `yaml:"base_url"`

	// MaxRetries caps retry attempts for transient engine failures.
	MaxRetries int `yaml:"max_retries"`

	// RequestTimeout bounds a single engine call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RequestsPerSecond rate-limits engine calls across workers.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Workers is the number of concurrent generation workers.
	Workers int `yaml:"workers"`

	// MaxFailures is the consecutive-failure budget per difficulty before
	// the run gives up on that difficulty and emits a partial dataset.
	MaxFailures int `yaml:"max_failures"`
}

// CacheConfig configures the durable generation cache.
type CacheConfig struct {
	// Dir is the cache directory. Empty disables durable caching (an
	// in-memory cache still deduplicates within the run).
	Dir string `yaml:"dir"`
}

// ValidationConfig configures the validation gate and exemplar pools.
type ValidationConfig struct {
	// Enabled gates the second validation pass. When false every generated
	// candidate is accepted without inspection.
	Enabled bool `yaml:"enabled"`

	// MaxPreferredExamples bounds the preferred exemplar pool.
	MaxPreferredExamples int `yaml:"max_preferred_examples"`

	// MaxDislikedExamples bounds the disliked exemplar pool.
	MaxDislikedExamples int `yaml:"max_disliked_examples"`

	// SimilarityThreshold is the token-overlap ratio above which a new
	// question counts as a near-duplicate of an accepted one.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MinSupport is the fraction of answer tokens that must be grounded in
	// the evidence text for the answer to count as derivable.
	MinSupport float64 `yaml:"min_support"`
}

// OutputConfig locates the dataset artifact.
type OutputConfig struct {
	// Dir receives the final dataset file. Required.
	Dir string `yaml:"dir"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format selects "json" or "text" output.
	Format string `yaml:"format"`
}

// Default returns the configuration defaults. The sampling bounds follow the
// corpus pipeline's conventional values.
func Default() *Config {
	return &Config{
		Sampling: SamplingConfig{
			MinSessions:      2,
			MaxSessions:      5,
			SessionThreshold: 2,
			MinEvidences:     1,
			MaxEvidences:     3,
			MaxAttempts:      25,
		},
		Quota: QuotaConfig{NumQA: 10},
		Engine: EngineConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			MaxRetries:        3,
			RequestTimeout:    2 * time.Minute,
			RequestsPerSecond: 2,
			Workers:           4,
			MaxFailures:       5,
		},
		Cache: CacheConfig{Dir: "qa_generation_cache"},
		Validation: ValidationConfig{
			Enabled:              true,
			MaxPreferredExamples: 5,
			MaxDislikedExamples:  5,
			SimilarityThreshold:  0.8,
			MinSupport:           0.3,
		},
		Output:  OutputConfig{Dir: "qa_output"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks the configuration for fatal errors. A failure here aborts
// the run before any generation calls are made.
func (c *Config) Validate() error {
	if c.Corpus.Path == "" {
		return fmt.Errorf("corpus.path is required")
	}
	s := c.Sampling
	if s.MinSessions < 1 {
		return fmt.Errorf("sampling.min_sessions must be at least 1, got %d", s.MinSessions)
	}
	if s.MaxSessions < s.MinSessions {
		return fmt.Errorf("sampling.max_sessions (%d) must be >= min_sessions (%d)", s.MaxSessions, s.MinSessions)
	}
	if s.MinEvidences < 1 {
		return fmt.Errorf("sampling.min_evidences must be at least 1, got %d", s.MinEvidences)
	}
	if s.MaxEvidences < s.MinEvidences {
		return fmt.Errorf("sampling.max_evidences (%d) must be >= min_evidences (%d)", s.MaxEvidences, s.MinEvidences)
	}
	if s.SessionThreshold < 1 {
		return fmt.Errorf("sampling.session_threshold must be at least 1, got %d", s.SessionThreshold)
	}
	if s.SessionThreshold > s.MaxSessions {
		// A threshold above the window size makes every sampling attempt
		// fail its distinctness check; no round could ever succeed.
		return fmt.Errorf("sampling.session_threshold (%d) must be <= max_sessions (%d)", s.SessionThreshold, s.MaxSessions)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("sampling.max_attempts must be at least 1, got %d", s.MaxAttempts)
	}
	q := c.Quota
	if q.NumQA < 0 || q.Easy < 0 || q.Medium < 0 || q.Hard < 0 {
		return fmt.Errorf("quota values must not be negative")
	}
	if q.Total() == 0 {
		return fmt.Errorf("quota requests zero items: set num_qa or per-difficulty counts")
	}
	switch c.Engine.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("engine.provider %q is not supported (openai, anthropic)", c.Engine.Provider)
	}
	if c.Engine.Model == "" {
		return fmt.Errorf("engine.model is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be at least 1, got %d", c.Engine.MaxRetries)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if v := c.Validation; v.Enabled {
		if v.SimilarityThreshold <= 0 || v.SimilarityThreshold > 1 {
			return fmt.Errorf("validation.similarity_threshold must be in (0, 1], got %v", v.SimilarityThreshold)
		}
		if v.MinSupport < 0 || v.MinSupport > 1 {
			return fmt.Errorf("validation.min_support must be in [0, 1], got %v", v.MinSupport)
		}
		if v.MaxPreferredExamples < 0 || v.MaxDislikedExamples < 0 {
			return fmt.Errorf("exemplar pool bounds must not be negative")
		}
	}
	return nil
}
