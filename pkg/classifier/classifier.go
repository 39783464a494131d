// Package classifier adapts the hosted inference APIs into uniform per-item
// bot-likelihood signals: a label-classification path for models with a known
// label vocabulary and a generation-based fallback for the rest.
package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/logger"
)

// Input is one text to classify.
type Input struct {
	ID   string
	Text string
}

// Result is one model's opinion about one input. A failed call carries the
// neutral zero score/zero confidence substitute plus the error that caused
// it; it never aborts the batch.
type Result struct {
	Model      string
	Score      float64 // 0..1, higher = more bot-like
	Confidence float64 // 0..1
	Err        error
}

// ItemResult collects every model's Result for one input.
type ItemResult struct {
	ItemID  string
	Results []Result
}

// Succeeded reports whether at least one model produced a real (non-failed)
// result for this item.
func (ir ItemResult) Succeeded() bool {
	for _, r := range ir.Results {
		if r.Err == nil {
			return true
		}
	}
	return false
}

// modelScorer is one remote signal source.
type modelScorer interface {
	Model() string
	Score(ctx context.Context, text string) (score, confidence float64, err error)
}

// Client fans classification requests out across the configured models.
type Client struct {
	scorers []modelScorer
	fanOut  int
}

// New wires the configured models. Models with registered label patterns use
// the label-classification API; the rest go through the generation-based
// signal, which needs the LLM config.
func New(cfg *config.Config) (*Client, error) {
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.Concurrency.RPM)/60.0), cfg.Concurrency.QPS)
	tr := newTransport(time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second, cfg.Classifier.MaxRetries, limiter)
	registry := NewRegistry(cfg.Classifier.Models)

	var scorers []modelScorer
	var gen *GenerationScorer
	for _, spec := range cfg.Classifier.Models {
		if patterns, ok := registry.Lookup(spec.ID); ok {
			scorers = append(scorers, newLabelClassifier(spec.ID, cfg.Classifier, patterns, tr))
			continue
		}
		if gen == nil {
			g, err := NewGenerationScorer(cfg.LLM, cfg.Scoring, limiter)
			if err != nil {
				return nil, fmt.Errorf("generation scorer init: %w", err)
			}
			gen = g
		}
		scorers = append(scorers, gen.forModel(spec.ID))
	}

	if len(scorers) == 0 && cfg.LLM.Model != "" {
		g, err := NewGenerationScorer(cfg.LLM, cfg.Scoring, limiter)
		if err != nil {
			return nil, fmt.Errorf("generation scorer init: %w", err)
		}
		scorers = append(scorers, g.forModel(cfg.LLM.Model))
	}
	if len(scorers) == 0 {
		return nil, fmt.Errorf("no classifier models configured")
	}

	return &Client{scorers: scorers, fanOut: cfg.Concurrency.FanOut}, nil
}

// newClientWithScorers is the test seam.
func newClientWithScorers(scorers []modelScorer, fanOut int) *Client {
	return &Client{scorers: scorers, fanOut: fanOut}
}

// ClassifyBatch scores every input concurrently and collects per-item
// outcomes independently. One item's failure never aborts the batch: the
// failed model slot gets the neutral substitute after retries are exhausted.
func (c *Client) ClassifyBatch(ctx context.Context, inputs []Input) []ItemResult {
	out := make([]ItemResult, len(inputs))

	width := c.fanOut
	if width <= 0 {
		width = 8
	}
	sem := make(chan struct{}, width)

	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in Input) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ir := ItemResult{ItemID: in.ID, Results: make([]Result, 0, len(c.scorers))}
			for _, sc := range c.scorers {
				score, conf, err := sc.Score(ctx, in.Text)
				if err != nil {
					logger.Log.Warnf("classifier %s failed for item %s: %v", sc.Model(), in.ID, err)
					ir.Results = append(ir.Results, Result{Model: sc.Model(), Score: 0, Confidence: 0, Err: err})
					continue
				}
				ir.Results = append(ir.Results, Result{Model: sc.Model(), Score: score, Confidence: conf})
			}
			out[i] = ir
		}(i, in)
	}
	wg.Wait()

	return out
}
