package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"

	"github.com/botradar/bot_radar/pkg/config"
)

// labelClassifier scores text through a hosted label-classification model:
// the highest-probability AI-like and human-like labels are extracted from
// the response and folded into one bot-likelihood.
type labelClassifier struct {
	modelID  string
	baseURL  string
	apiKey   string
	patterns LabelPatterns
	tr       *transport
}

func newLabelClassifier(modelID string, cfg config.ClassifierConfig, patterns LabelPatterns, tr *transport) *labelClassifier {
	return &labelClassifier{
		modelID:  modelID,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		patterns: patterns,
		tr:       tr,
	}
}

func (l *labelClassifier) Model() string { return l.modelID }

// labelScore is one (label, probability) candidate in the inference response.
type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// inferenceRequest is the hosted API's request envelope.
type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// Score sends the text to the model and derives a normalized bot-likelihood:
// the AI probability when it beats the human probability, otherwise
// 1 - human probability. Confidence peaks at the extremes and vanishes at 0.5.
func (l *labelClassifier) Score(ctx context.Context, text string) (float64, float64, error) {
	endpoint := l.baseURL + "/models/" + url.PathEscape(l.modelID)

	headers := map[string]string{}
	if l.apiKey != "" {
		headers["Authorization"] = "Bearer " + l.apiKey
	}

	body, err := l.tr.postJSON(ctx, endpoint, headers, inferenceRequest{Inputs: text})
	if err != nil {
		return 0, 0, err
	}

	candidates, err := parseLabelScores(body)
	if err != nil {
		return 0, 0, fmt.Errorf("model %s: %w", l.modelID, err)
	}

	var aiProb, humanProb float64
	var matched bool
	for _, c := range candidates {
		switch {
		case matchesAny(c.Label, l.patterns.AI):
			matched = true
			if c.Score > aiProb {
				aiProb = c.Score
			}
		case matchesAny(c.Label, l.patterns.Human):
			matched = true
			if c.Score > humanProb {
				humanProb = c.Score
			}
		}
	}
	if !matched {
		return 0, 0, fmt.Errorf("model %s: no label matched configured patterns", l.modelID)
	}

	score := aiProb
	if aiProb <= humanProb {
		score = 1 - humanProb
	}
	confidence := math.Abs(score-0.5) * 2

	return score, confidence, nil
}

// parseLabelScores accepts both response shapes the API produces: a flat
// candidate list and a one-element batch wrapping it.
func parseLabelScores(body []byte) ([]labelScore, error) {
	var nested [][]labelScore
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}

	var flat []labelScore
	if err := json.Unmarshal(body, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}

	return nil, fmt.Errorf("unrecognized response shape: %s", string(body))
}
