// Package content defines the boundary with the platform content source.
package content

import (
	"context"

	"github.com/botradar/bot_radar/pkg/model"
)

// MaxFetchLimit caps how many items one request may pull from the source.
const MaxFetchLimit = 100

// Source pulls a user's recent posts/comments and resolves parent references.
type Source interface {
	// FetchUserItems returns up to limit recent items by userID. It fails
	// with an error only when the whole fetch is unusable (network, auth);
	// individual malformed items are skipped.
	FetchUserItems(ctx context.Context, userID string, limit int) ([]*model.ContentItem, error)

	// FetchParent returns the item the given fullname replies to, or
	// (nil, nil) when the parent is absent (deleted, removed, top of thread).
	FetchParent(ctx context.Context, itemID string) (*model.ContentItem, error)
}
