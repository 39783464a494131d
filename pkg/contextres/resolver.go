// Package contextres assembles the surrounding conversation for a comment by
// walking its parent chain. Context is optional enrichment: every failure
// degrades to "no context", never to an error.
package contextres

import (
	"context"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/botradar/bot_radar/pkg/content"
	"github.com/botradar/bot_radar/pkg/logger"
	"github.com/botradar/bot_radar/pkg/model"
)

// maxDepth bounds the parent walk. Platform parent chains are acyclic, this
// is a hard stop for pathological threads.
const maxDepth = 10

// linkFetcher pulls readable text for link posts with no body of their own.
type linkFetcher func(url string) (string, error)

// Resolver walks parent chains through the content source.
type Resolver struct {
	source    content.Source
	fetchLink linkFetcher
}

// NewResolver builds a resolver over the given content source.
func NewResolver(source content.Source) *Resolver {
	return &Resolver{source: source, fetchLink: fetchAndCleanContent}
}

// ResolveParentText returns the concatenated text of the item's ancestors,
// oldest first, ending at the top-level post when the chain reaches one.
// ok=false means no context could be assembled.
func (r *Resolver) ResolveParentText(ctx context.Context, item *model.ContentItem) (string, bool) {
	if item == nil || item.ParentID == "" {
		return "", false
	}

	var parts []string
	currentID := item.ID
	for depth := 0; depth < maxDepth; depth++ {
		parent, err := r.source.FetchParent(ctx, currentID)
		if err != nil {
			logger.Log.Warnf("parent lookup failed for %s: %v", currentID, err)
			break
		}
		if parent == nil {
			break
		}

		text := r.parentText(parent)
		if text != "" {
			// ancestors accumulate oldest-first
			parts = append([]string{text}, parts...)
		}

		if parent.IsPost || parent.ParentID == "" {
			break
		}
		currentID = parent.ID
	}

	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// parentText extracts usable text from a parent item. Link posts carry no
// body of their own, so the linked page's readable text stands in.
func (r *Resolver) parentText(parent *model.ContentItem) string {
	body := strings.TrimSpace(parent.Body)
	if body != "" {
		return body
	}

	if parent.IsPost && parent.URL != "" {
		text, err := r.fetchLink(parent.URL)
		if err != nil {
			logger.Log.Debugf("link content fetch failed for %s: %v", parent.URL, err)
			return ""
		}
		return strings.TrimSpace(text)
	}
	return ""
}

func fetchAndCleanContent(url string) (string, error) {
	article, err := readability.FromURL(url, 30*time.Second)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}
