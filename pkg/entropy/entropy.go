// Package entropy implements the cheapest cascade stage: a local Shannon
// entropy screen over the character distribution of an item's text. No
// network calls, pure and deterministic, safe to run on every item.
package entropy

import (
	"math"
	"sort"
	"strings"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/model"
)

// Reading is the screen output for one text.
type Reading struct {
	RawEntropy      float64 // bits per character
	NormalizedScore float64 // 0..1, higher = more bot-like
	Band            model.Band
	Confidence      model.ConfidenceLevel
}

// ItemReading pairs a Reading with the item it belongs to.
type ItemReading struct {
	ItemID  string
	TextLen int
	Reading Reading
}

// Screener maps raw entropy to banded bot-likelihood using configured
// thresholds.
type Screener struct {
	cfg config.ScoringConfig
}

// NewScreener builds a screener from the scoring configuration.
func NewScreener(cfg config.ScoringConfig) *Screener {
	return &Screener{cfg: cfg}
}

// Score screens a single text. Inputs shorter than the configured minimum
// length carry too little signal and get a neutral, low-confidence reading.
func (s *Screener) Score(text string) Reading {
	normalized := collapseWhitespace(text)
	if len(normalized) < s.cfg.MinBodyLength {
		return Reading{
			RawEntropy:      0,
			NormalizedScore: 0.5,
			Band:            model.BandInconclusive,
			Confidence:      model.ConfidenceLow,
		}
	}

	raw := shannonEntropy(normalized)

	r := Reading{RawEntropy: raw, NormalizedScore: s.normalize(raw)}
	switch {
	case raw < s.cfg.BotEntropy:
		r.Band = model.BandBot
		r.Confidence = model.ConfidenceHigh
	case raw > s.cfg.HumanEntropy:
		r.Band = model.BandHuman
		r.Confidence = model.ConfidenceHigh
	default:
		r.Band = model.BandInconclusive
		r.Confidence = model.ConfidenceMedium
	}
	return r
}

// ScoreAll screens a batch of items. There is no partial-failure case here:
// scoring is local and cannot fail beyond input validation.
func (s *Screener) ScoreAll(items []*model.ContentItem) []ItemReading {
	out := make([]ItemReading, 0, len(items))
	for _, it := range items {
		body := collapseWhitespace(it.Body)
		out = append(out, ItemReading{
			ItemID:  it.ID,
			TextLen: len(body),
			Reading: s.Score(it.Body),
		})
	}
	return out
}

// normalize maps raw entropy onto a 0..1 bot-likelihood with a three-segment
// piecewise-linear curve anchored at the band thresholds: the bot band spans
// 1.0..0.8, the inconclusive band interpolates 0.8..0.2, the human band spans
// 0.2..0.0.
func (s *Screener) normalize(raw float64) float64 {
	cfg := s.cfg
	switch {
	case raw <= cfg.MinEntropy:
		return 1.0
	case raw >= cfg.MaxEntropy:
		return 0.0
	case raw < cfg.BotEntropy:
		frac := (raw - cfg.MinEntropy) / (cfg.BotEntropy - cfg.MinEntropy)
		return 1.0 - 0.2*frac
	case raw > cfg.HumanEntropy:
		frac := (raw - cfg.HumanEntropy) / (cfg.MaxEntropy - cfg.HumanEntropy)
		return 0.2 - 0.2*frac
	default:
		frac := (raw - cfg.BotEntropy) / (cfg.HumanEntropy - cfg.BotEntropy)
		return 0.8 - 0.6*frac
	}
}

// shannonEntropy computes bits per character over the rune distribution.
// Runes are summed in sorted order so repeated calls produce bit-identical
// results regardless of map iteration order.
func shannonEntropy(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	counts := make(map[rune]int, len(runes))
	for _, r := range runes {
		counts[r]++
	}

	keys := make([]rune, 0, len(counts))
	for r := range counts {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	n := float64(len(runes))
	var h float64
	for _, r := range keys {
		p := float64(counts[r]) / n
		h -= p * math.Log2(p)
	}
	return h
}

// collapseWhitespace trims and folds runs of whitespace into single spaces.
func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
