package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/entropy"
)

const (
	genMaxInputChars = 1500
	genMaxRetries    = 3
	genBaseDelay     = 2 * time.Second
)

// GenerationScorer derives a bot-likelihood without a label classifier: it
// asks a chat model to continue the text and blends a lexical-overlap
// heuristic between input and continuation with the local entropy estimate as
// a perplexity proxy. Used only for models that have no label patterns.
type GenerationScorer struct {
	chatModel model.ChatModel
	screener  *entropy.Screener
	limiter   *rate.Limiter
}

// NewGenerationScorer initializes the chat model behind the generation path.
func NewGenerationScorer(cfg config.LLMConfig, scoring config.ScoringConfig, limiter *rate.Limiter) (*GenerationScorer, error) {
	chatModel, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("chat model init: %w", err)
	}

	return &GenerationScorer{
		chatModel: chatModel,
		screener:  entropy.NewScreener(scoring),
		limiter:   limiter,
	}, nil
}

// forModel binds the scorer to a model identifier for signal keying.
func (g *GenerationScorer) forModel(modelID string) *boundGenerationScorer {
	return &boundGenerationScorer{GenerationScorer: g, modelID: modelID}
}

type boundGenerationScorer struct {
	*GenerationScorer
	modelID string
}

func (b *boundGenerationScorer) Model() string { return b.modelID }

func (b *boundGenerationScorer) Score(ctx context.Context, text string) (float64, float64, error) {
	return b.GenerationScorer.score(ctx, text)
}

func (g *GenerationScorer) score(ctx context.Context, text string) (float64, float64, error) {
	input := text
	if len(input) > genMaxInputChars {
		input = input[:genMaxInputChars]
	}

	continuation, err := g.generate(ctx, input)
	if err != nil {
		return 0, 0, err
	}

	overlap := lexicalOverlap(input, continuation)
	entropyScore := g.screener.Score(input).NormalizedScore

	score := clamp01(0.5*overlap + 0.5*entropyScore)
	confidence := math.Abs(score-0.5) * 2

	return score, confidence, nil
}

func (g *GenerationScorer) generate(ctx context.Context, input string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= genMaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		messages := []*schema.Message{
			{Role: schema.System, Content: "You continue text passages in the same voice. Output only the continuation."},
			{Role: schema.User, Content: input},
		}

		resp, err := g.chatModel.Generate(ctx, messages)
		if err != nil {
			if strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "too many requests") {
				lastErr = err
				if attempt < genMaxRetries {
					time.Sleep(genBaseDelay * time.Duration(1<<attempt))
					continue
				}
			}
			return "", err
		}
		return resp.Content, nil
	}
	return "", lastErr
}

// lexicalOverlap is the fraction of the input's word set that reappears in
// the continuation. Highly templated text tends to be continued with the
// same vocabulary.
func lexicalOverlap(input, continuation string) float64 {
	inputWords := wordSet(input)
	if len(inputWords) == 0 {
		return 0
	}
	contWords := wordSet(continuation)

	var shared int
	for w := range inputWords {
		if _, ok := contWords[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(inputWords))
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
