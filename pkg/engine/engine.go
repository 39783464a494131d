// Package engine drives one analysis request through the scoring cascade:
// fetch, entropy screen, classifier escalation, context-enriched re-scoring,
// aggregate, persist.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/botradar/bot_radar/pkg/classifier"
	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/content"
	"github.com/botradar/bot_radar/pkg/entropy"
	"github.com/botradar/bot_radar/pkg/logger"
	"github.com/botradar/bot_radar/pkg/model"
	"github.com/botradar/bot_radar/pkg/scoring"
)

// Method tags persisted results with the pipeline revision that produced them.
const Method = "entropy-cascade/v2"

// Store is the slice of the queue store the engine needs.
type Store interface {
	GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error)
	// ClaimRequest atomically moves a request from queued to fetching.
	// false means someone else holds it or it is past that state.
	ClaimRequest(ctx context.Context, id string) (bool, error)
	MarkDone(ctx context.Context, id string) error
	MarkError(ctx context.Context, id string, msg string) error
	SaveResult(ctx context.Context, res *model.AnalysisResult) error
}

// ItemClassifier scores a batch of texts through the remote models.
type ItemClassifier interface {
	ClassifyBatch(ctx context.Context, inputs []classifier.Input) []classifier.ItemResult
}

// ContextResolver assembles parent-chain text for a comment.
type ContextResolver interface {
	ResolveParentText(ctx context.Context, item *model.ContentItem) (string, bool)
}

// Engine is the cascade orchestrator.
type Engine struct {
	cfg        *config.Config
	store      Store
	source     content.Source
	screener   *entropy.Screener
	scorer     *scoring.Scorer
	classifier ItemClassifier
	resolver   ContextResolver
}

// NewEngine wires the cascade components.
func NewEngine(cfg *config.Config, store Store, source content.Source, cls ItemClassifier, resolver ContextResolver) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		source:     source,
		screener:   entropy.NewScreener(cfg.Scoring),
		scorer:     scoring.NewScorer(cfg.Scoring),
		classifier: cls,
		resolver:   resolver,
	}
}

// Process runs the full cascade for one request id. Safe against duplicate
// invocation: the claim is a compare-and-set against the store, so a second
// concurrent call is a no-op. Any failure past the claim marks the request
// error with the message recorded; no partial result is written.
func (e *Engine) Process(ctx context.Context, requestID string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if req == nil {
		return fmt.Errorf("request %s not found", requestID)
	}

	claimed, err := e.store.ClaimRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("claim request %s: %w", requestID, err)
	}
	if !claimed {
		logger.Log.Debugf("request [%s] already claimed, skipping", requestID)
		return nil
	}

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.run(ctx, req)
	}()

	if runErr != nil {
		logger.Log.Errorf("request [%s] failed: %v", requestID, runErr)
		if markErr := e.store.MarkError(ctx, requestID, runErr.Error()); markErr != nil {
			logger.Log.Errorf("failed to record error for request [%s]: %v", requestID, markErr)
		}
		return runErr
	}

	return e.store.MarkDone(ctx, requestID)
}

func (e *Engine) run(ctx context.Context, req *model.AnalysisRequest) error {
	logger.Log.Infof("analyzing user [%s] on %s for request [%s]", req.UserID, req.Platform, req.ID)

	// Step 1: fetch and filter
	limit := req.MaxItems
	if limit <= 0 || limit > content.MaxFetchLimit {
		limit = content.MaxFetchLimit
	}
	fetched, err := e.source.FetchUserItems(ctx, req.UserID, limit)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}

	items := make([]*model.ContentItem, 0, len(fetched))
	for _, it := range fetched {
		if len(strings.TrimSpace(it.Body)) >= e.cfg.Scoring.MinBodyLength {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return fmt.Errorf("no qualifying items for user %s (%d fetched)", req.UserID, len(fetched))
	}

	// Step 2: entropy screen over everything
	byID := make(map[string]*model.ContentItem, len(items))
	summaries := make([]*model.PerItemSummary, 0, len(items))
	summaryByID := make(map[string]*model.PerItemSummary, len(items))
	for _, reading := range e.screener.ScoreAll(items) {
		s := &model.PerItemSummary{
			ItemID:      reading.ItemID,
			TextLen:     reading.TextLen,
			Stage:       model.StageEntropy,
			EntropyBand: reading.Reading.Band,
			Signals: map[string]model.Signal{
				model.SignalEntropy: {
					Score:      reading.Reading.NormalizedScore,
					Confidence: confidenceValue(reading.Reading.Confidence),
				},
			},
		}
		s.Confidence = s.Signals[model.SignalEntropy].Confidence
		s.CompositeScore = e.scorer.Combine(s)
		s.Inconclusive = e.scorer.NeedsEscalation(s)
		summaries = append(summaries, s)
		summaryByID[s.ItemID] = s
	}
	for _, it := range items {
		byID[it.ID] = it
	}

	// Step 3: classifier pass over the inconclusive subset
	escalated := e.selectEscalation(summaries)
	if len(escalated) > 0 {
		logger.Log.Infof("request [%s]: escalating %d/%d items to classifiers", req.ID, len(escalated), len(summaries))
		inputs := make([]classifier.Input, 0, len(escalated))
		for _, s := range escalated {
			inputs = append(inputs, classifier.Input{ID: s.ItemID, Text: byID[s.ItemID].Body})
		}
		e.applyClassifierResults(e.classifier.ClassifyBatch(ctx, inputs), summaryByID, model.StageClassified, false)
	}

	// Step 4: context-enriched re-scoring for what is still ambiguous
	if req.IncludeParent {
		e.contextPass(ctx, req, byID, summaryByID, e.selectEscalation(summaries))
	}

	// Step 5: aggregate and persist
	agg := e.scorer.AggregateUser(summaries)
	result := &model.AnalysisResult{
		RequestID:         req.ID,
		Platform:          req.Platform,
		UserID:            req.UserID,
		UserScore:         agg.UserScore,
		AnalyzedCount:     agg.AnalyzedCount,
		TotalCount:        len(fetched),
		Items:             summaries,
		Method:            Method,
		StageCounts:       agg.StageCounts,
		SignalAverages:    agg.SignalAverages,
		OverallConfidence: agg.Confidence,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	logger.Log.Infof("request [%s] done: user score %.3f over %d/%d items (confidence %.2f)",
		req.ID, agg.UserScore, agg.AnalyzedCount, len(fetched), agg.Confidence)
	return nil
}

// contextPass resolves parent text concurrently for the still-inconclusive
// items, then re-runs the classifiers over context + body.
func (e *Engine) contextPass(ctx context.Context, req *model.AnalysisRequest, byID map[string]*model.ContentItem, summaryByID map[string]*model.PerItemSummary, still []*model.PerItemSummary) {
	if len(still) == 0 {
		return
	}
	logger.Log.Infof("request [%s]: resolving parent context for %d items", req.ID, len(still))

	width := e.cfg.Concurrency.FanOut
	if width <= 0 {
		width = 8
	}
	sem := make(chan struct{}, width)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var inputs []classifier.Input
	for _, s := range still {
		item := byID[s.ItemID]
		wg.Add(1)
		go func(s *model.PerItemSummary, item *model.ContentItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text, ok := e.resolver.ResolveParentText(ctx, item)
			if !ok {
				return
			}
			mu.Lock()
			inputs = append(inputs, classifier.Input{ID: s.ItemID, Text: text + "\n\n" + item.Body})
			mu.Unlock()
		}(s, item)
	}
	wg.Wait()

	if len(inputs) == 0 {
		return
	}
	e.applyClassifierResults(e.classifier.ClassifyBatch(ctx, inputs), summaryByID, model.StageContext, true)
}

// applyClassifierResults folds batch outcomes into the summaries. Failed
// model calls carry the neutral substitute and never block siblings. The
// context stage only promotes on an actual success so a fully failed re-score
// cannot masquerade as deeper scrutiny.
func (e *Engine) applyClassifierResults(results []classifier.ItemResult, summaryByID map[string]*model.PerItemSummary, stage model.Stage, requireSuccess bool) {
	for _, ir := range results {
		s, ok := summaryByID[ir.ItemID]
		if !ok || len(ir.Results) == 0 {
			continue
		}
		if requireSuccess && !ir.Succeeded() {
			continue
		}

		var maxConf float64
		for _, r := range ir.Results {
			s.Signals[r.Model] = model.Signal{Score: r.Score, Confidence: r.Confidence}
			if r.Confidence > maxConf {
				maxConf = r.Confidence
			}
		}

		s.Promote(stage)
		if stage == model.StageContext {
			s.UsedParentContext = true
		}
		s.Confidence = maxConf
		s.CompositeScore = e.scorer.Combine(s)
		s.Inconclusive = e.scorer.NeedsEscalation(s)
	}
}

// selectEscalation returns the items the scorer wants escalated, preserving
// input order.
func (e *Engine) selectEscalation(summaries []*model.PerItemSummary) []*model.PerItemSummary {
	var out []*model.PerItemSummary
	for _, s := range summaries {
		if e.scorer.NeedsEscalation(s) {
			out = append(out, s)
		}
	}
	return out
}

// confidenceValue maps the entropy screen's coarse confidence to the numeric
// scale the scorer works in.
func confidenceValue(level model.ConfidenceLevel) float64 {
	switch level {
	case model.ConfidenceHigh:
		return 0.9
	case model.ConfidenceMedium:
		return 0.5
	default:
		return 0.2
	}
}
