// Package scoring combines per-item signals into composite scores and drives
// the escalation decisions of the cascade.
package scoring

import (
	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/model"
)

// NoSignalScore marks an item for which no signal qualified. Distinct from a
// genuine near-zero (confidently human) composite so the aggregate can drop
// it instead of counting it as human.
const NoSignalScore = -1.0

// stage weights for the aggregate confidence: items that survived more
// scrutiny contribute more certainty.
var stageConfidenceWeight = map[model.Stage]float64{
	model.StageEntropy:    0.3,
	model.StageClassified: 0.7,
	model.StageContext:    1.0,
}

// Scorer applies the configured weights and thresholds.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer builds a scorer from the scoring configuration.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// NeedsEscalation is the sole backpressure control: it decides which items
// incur the cost of remote calls. True while the entropy band is
// inconclusive, or while a classified item's confidence is below the
// threshold; false once the item reached the context stage.
func (s *Scorer) NeedsEscalation(it *model.PerItemSummary) bool {
	switch it.Stage {
	case model.StageEntropy:
		return it.EntropyBand == model.BandInconclusive
	case model.StageClassified:
		return it.Confidence < s.cfg.ConfidenceThreshold
	default:
		return false
	}
}

// Combine folds the item's available signals into one composite score. At the
// entropy stage the entropy score passes through verbatim. Later stages build
// a weighted average over qualifying signals: the entropy signal is always
// admitted, remote signals only when their confidence clears the threshold —
// a low-confidence remote opinion would only dilute a strong entropy signal.
func (s *Scorer) Combine(it *model.PerItemSummary) float64 {
	if it.Stage == model.StageEntropy {
		if sig, ok := it.Signals[model.SignalEntropy]; ok {
			return sig.Score
		}
		return NoSignalScore
	}

	var sum, weightSum, single float64
	var qualifying int
	for name, sig := range it.Signals {
		if name != model.SignalEntropy && sig.Confidence < s.cfg.ConfidenceThreshold {
			continue
		}
		w := s.cfg.Weight(name)
		sum += w * sig.Score
		weightSum += w
		single = sig.Score
		qualifying++
	}

	switch qualifying {
	case 0:
		return NoSignalScore
	case 1:
		return single
	default:
		return sum / weightSum
	}
}

// Aggregate is the user-level outcome over all scored items.
type Aggregate struct {
	UserScore      float64
	Confidence     float64
	AnalyzedCount  int
	StageCounts    map[model.Stage]int
	SignalAverages map[string]float64
}

// AggregateUser computes the user verdict: the unweighted mean of positive
// composite scores, and a stage-weighted confidence clamped to 1.
func (s *Scorer) AggregateUser(items []*model.PerItemSummary) Aggregate {
	agg := Aggregate{
		StageCounts:    make(map[model.Stage]int),
		SignalAverages: make(map[string]float64),
	}

	signalSums := make(map[string]float64)
	signalCounts := make(map[string]int)

	var scoreSum, confSum float64
	for _, it := range items {
		agg.StageCounts[it.Stage]++
		for name, sig := range it.Signals {
			signalSums[name] += sig.Score
			signalCounts[name]++
		}

		if it.CompositeScore <= 0 {
			continue
		}
		agg.AnalyzedCount++
		scoreSum += it.CompositeScore
		confSum += stageConfidenceWeight[it.Stage]
	}

	if agg.AnalyzedCount > 0 {
		agg.UserScore = scoreSum / float64(agg.AnalyzedCount)
		agg.Confidence = confSum / float64(agg.AnalyzedCount)
		if agg.Confidence > 1 {
			agg.Confidence = 1
		}
	}

	for name, sum := range signalSums {
		agg.SignalAverages[name] = sum / float64(signalCounts[name])
	}

	return agg
}
