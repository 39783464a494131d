package server

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/botradar/bot_radar/internal/conf"
	"github.com/botradar/bot_radar/pkg/classifier"
	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/content/factory"
	"github.com/botradar/bot_radar/pkg/contextres"
	"github.com/botradar/bot_radar/pkg/engine"
	"github.com/botradar/bot_radar/pkg/logger"
	"github.com/botradar/bot_radar/pkg/poller"
	"github.com/botradar/bot_radar/pkg/storage"
)

// Pipeline bundles the wired analysis components for the HTTP layer and the
// background poller.
type Pipeline struct {
	Store  *storage.Storage
	Engine *engine.Engine
	Poller *poller.Poller
}

// NewPipeline converts the bootstrap config into pkg/config.Config and wires
// storage, content source, classifier, resolver, engine and poller.
func NewPipeline(c *conf.Pipeline, kl log.Logger) (*Pipeline, func(), error) {
	helper := log.NewHelper(kl)
	cfg := pipelineConfig(c)

	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		helper.Errorf("failed to init pipeline logger: %v", err)
		_ = logger.InitLogger("info", "")
	}

	store, err := storage.NewStorage(cfg.DB)
	if err != nil {
		helper.Errorf("failed to init storage: %v", err)
		return nil, nil, err
	}

	source, err := factory.NewSource(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	cls, err := classifier.New(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	resolver := contextres.NewResolver(source)

	eng := engine.NewEngine(cfg, store, source, cls, resolver)
	p := poller.New(store, eng, cfg.Poller)

	cleanup := func() {
		if err := store.Close(); err != nil {
			helper.Errorf("failed to close storage: %v", err)
		}
	}
	return &Pipeline{Store: store, Engine: eng, Poller: p}, cleanup, nil
}

func pipelineConfig(c *conf.Pipeline) *config.Config {
	cfg := &config.Config{}
	if c == nil {
		cfg.ApplyDefaults()
		return cfg
	}
	if c.Reddit != nil {
		cfg.Reddit = config.RedditConfig{
			ClientID:     c.Reddit.ClientId,
			ClientSecret: c.Reddit.ClientSecret,
			UserAgent:    c.Reddit.UserAgent,
		}
	}
	if c.Classifier != nil {
		cfg.Classifier = config.ClassifierConfig{
			BaseURL:        c.Classifier.BaseUrl,
			APIKey:         c.Classifier.ApiKey,
			TimeoutSeconds: int(c.Classifier.TimeoutSeconds),
			MaxRetries:     int(c.Classifier.MaxRetries),
		}
		for _, m := range c.Classifier.Models {
			if m == nil {
				continue
			}
			cfg.Classifier.Models = append(cfg.Classifier.Models, config.ModelSpec{
				ID:          m.Id,
				AILabels:    m.AiLabels,
				HumanLabels: m.HumanLabels,
			})
		}
	}
	if c.Llm != nil {
		cfg.LLM = config.LLMConfig{
			BaseURL: c.Llm.BaseUrl,
			APIKey:  c.Llm.ApiKey,
			Model:   c.Llm.Model,
		}
	}
	if c.Scoring != nil {
		cfg.Scoring = config.ScoringConfig{
			Weights:             c.Scoring.Weights,
			DefaultWeight:       c.Scoring.DefaultWeight,
			ConfidenceThreshold: c.Scoring.ConfidenceThreshold,
			MinBodyLength:       int(c.Scoring.MinBodyLength),
			BotEntropy:          c.Scoring.BotEntropy,
			HumanEntropy:        c.Scoring.HumanEntropy,
			MinEntropy:          c.Scoring.MinEntropy,
			MaxEntropy:          c.Scoring.MaxEntropy,
		}
	}
	if c.Concurrency != nil {
		cfg.Concurrency = config.ConcurrencyConfig{
			QPS:    int(c.Concurrency.Qps),
			RPM:    int(c.Concurrency.Rpm),
			FanOut: int(c.Concurrency.FanOut),
		}
	}
	if c.Poller != nil {
		cfg.Poller = config.PollerConfig{
			IntervalSeconds: int(c.Poller.IntervalSeconds),
			BatchSize:       int(c.Poller.BatchSize),
		}
	}
	if c.Content != nil {
		cfg.Content = config.ContentConfig{Provider: c.Content.Provider}
	}
	if c.Log != nil {
		cfg.Log = config.LogConfig{Level: c.Log.Level, File: c.Log.File}
	}
	if c.Db != nil {
		cfg.DB = config.DBConfig{
			Host:     c.Db.Host,
			Port:     int(c.Db.Port),
			User:     c.Db.User,
			Password: c.Db.Password,
			Name:     c.Db.Name,
		}
	}
	cfg.ApplyDefaults()
	return cfg
}
