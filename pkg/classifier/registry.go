package classifier

import (
	"strings"

	"github.com/botradar/bot_radar/pkg/config"
)

// LabelPatterns names the substrings that identify a model's AI-like and
// human-like output labels. Kept as data so a new model is added by
// configuration, not by another string heuristic in code.
type LabelPatterns struct {
	AI    []string
	Human []string
}

// defaultPatterns covers the hosted detector models the pipeline has been
// run against.
var defaultPatterns = map[string]LabelPatterns{
	"openai-community/roberta-base-openai-detector": {
		AI:    []string{"fake"},
		Human: []string{"real"},
	},
	"Hello-SimpleAI/chatgpt-detector-roberta": {
		AI:    []string{"chatgpt"},
		Human: []string{"human"},
	},
	"desklib/ai-text-detector-v1.01": {
		AI:    []string{"ai"},
		Human: []string{"human"},
	},
}

// Registry maps model identifiers to their label patterns.
type Registry struct {
	patterns map[string]LabelPatterns
}

// NewRegistry merges the built-in pattern table with configured overrides.
func NewRegistry(models []config.ModelSpec) *Registry {
	patterns := make(map[string]LabelPatterns, len(defaultPatterns)+len(models))
	for id, p := range defaultPatterns {
		patterns[id] = p
	}
	for _, spec := range models {
		if len(spec.AILabels) > 0 || len(spec.HumanLabels) > 0 {
			patterns[spec.ID] = LabelPatterns{AI: spec.AILabels, Human: spec.HumanLabels}
		}
	}
	return &Registry{patterns: patterns}
}

// Lookup returns the patterns for a model, if it has any.
func (r *Registry) Lookup(modelID string) (LabelPatterns, bool) {
	p, ok := r.patterns[modelID]
	return p, ok
}

// matchesAny reports whether the label contains one of the patterns,
// case-insensitively.
func matchesAny(label string, patterns []string) bool {
	l := strings.ToLower(label)
	for _, p := range patterns {
		if strings.Contains(l, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
