package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. Loaded once at startup, read-only
// afterwards.
type Config struct {
	Reddit      RedditConfig      `yaml:"reddit"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	LLM         LLMConfig         `yaml:"llm"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Poller      PollerConfig      `yaml:"poller"`
	Content     ContentConfig     `yaml:"content"`
	Log         LogConfig         `yaml:"log"`
	DB          DBConfig          `yaml:"db"`
}

// ContentConfig selects the content-source provider.
type ContentConfig struct {
	Provider string `yaml:"provider"` // "reddit"
}

// RedditConfig holds credentials for the authenticated Reddit API path. All
// fields may be empty, in which case only the public endpoints are used.
type RedditConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	UserAgent    string `yaml:"user_agent"`
}

// ClassifierConfig configures the hosted label-classification API.
type ClassifierConfig struct {
	BaseURL        string      `yaml:"base_url"`
	APIKey         string      `yaml:"api_key"`
	Models         []ModelSpec `yaml:"models"`
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	MaxRetries     int         `yaml:"max_retries"`
}

// ModelSpec names one remote model and the label patterns that identify its
// AI-like and human-like output labels. Models without patterns fall back to
// the generation-based signal path.
type ModelSpec struct {
	ID          string   `yaml:"id"`
	AILabels    []string `yaml:"ai_labels"`
	HumanLabels []string `yaml:"human_labels"`
}

// LLMConfig configures the generation-signal model (openai-compatible).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// ScoringConfig holds the tunable scoring knobs. The entropy cutoffs have
// drifted between pipeline iterations, so nothing in code assumes a
// particular pair.
type ScoringConfig struct {
	Weights             map[string]float64 `yaml:"weights"` // per signal source
	DefaultWeight       float64            `yaml:"default_weight"`
	ConfidenceThreshold float64            `yaml:"confidence_threshold"`
	MinBodyLength       int                `yaml:"min_body_length"`
	BotEntropy          float64            `yaml:"bot_entropy"`   // below => bot
	HumanEntropy        float64            `yaml:"human_entropy"` // above => human
	MinEntropy          float64            `yaml:"min_entropy"`   // realistic lower bound
	MaxEntropy          float64            `yaml:"max_entropy"`   // realistic upper bound
}

// ConcurrencyConfig bounds outbound classifier traffic.
type ConcurrencyConfig struct {
	RPM    int `yaml:"rpm"`    // sustained requests per minute
	QPS    int `yaml:"qps"`    // burst
	FanOut int `yaml:"fan_out"` // max in-flight calls per request
}

// PollerConfig controls the queue polling loop.
type PollerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
}

// LogConfig controls pipeline logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DBConfig points at the Postgres queue store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// LoadConfig reads and normalizes configuration from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Content.Provider == "" {
		c.Content.Provider = "reddit"
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		c.Classifier.TimeoutSeconds = 45
	}
	if c.Classifier.MaxRetries <= 0 {
		c.Classifier.MaxRetries = 3
	}
	if c.Concurrency.RPM <= 0 {
		c.Concurrency.RPM = 60
	}
	if c.Concurrency.QPS <= 0 {
		c.Concurrency.QPS = 2
	}
	if c.Concurrency.FanOut <= 0 {
		c.Concurrency.FanOut = 8
	}
	if c.Poller.IntervalSeconds <= 0 {
		c.Poller.IntervalSeconds = 15
	}
	if c.Poller.BatchSize <= 0 {
		c.Poller.BatchSize = 5
	}
	c.Scoring.applyDefaults()
}

func (s *ScoringConfig) applyDefaults() {
	if s.DefaultWeight <= 0 {
		s.DefaultWeight = 1.0
	}
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = 0.4
	}
	if s.MinBodyLength <= 0 {
		s.MinBodyLength = 15
	}
	if s.BotEntropy <= 0 {
		s.BotEntropy = 3.35
	}
	if s.HumanEntropy <= 0 {
		s.HumanEntropy = 4.05
	}
	if s.MinEntropy <= 0 {
		s.MinEntropy = 1.5
	}
	if s.MaxEntropy <= 0 {
		s.MaxEntropy = 4.7
	}
	if s.Weights == nil {
		s.Weights = map[string]float64{"entropy": 1.0}
	}
}

// Weight returns the blending weight for a signal source.
func (s *ScoringConfig) Weight(source string) float64 {
	if w, ok := s.Weights[source]; ok && w > 0 {
		return w
	}
	return s.DefaultWeight
}
