package factory

import (
	"fmt"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/content"
	"github.com/botradar/bot_radar/pkg/reddit"
)

// NewSource builds the configured content-source client.
func NewSource(cfg *config.Config) (content.Source, error) {
	provider := cfg.Content.Provider
	if provider == "" {
		provider = "reddit"
	}

	switch provider {
	case "reddit":
		return reddit.NewClient(cfg.Reddit), nil
	default:
		return nil, fmt.Errorf("unknown content provider: %s", provider)
	}
}
