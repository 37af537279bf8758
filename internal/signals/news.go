// Package signals collects evidence about markets from RSS feeds, the
// social search API, and market data. Collectors normalize everything into
// types.Signal with a programmatically assigned source tier; info types are
// assigned later during estimation.
package signals

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"polymarket-predictor/internal/classify"
	"polymarket-predictor/internal/config"
	"polymarket-predictor/pkg/types"
)

// newsMaxAge drops feed items older than this.
const newsMaxAge = 2 * time.Hour

// seenRetention bounds the dedup map.
const seenRetention = 24 * time.Hour

// itemsPerFeed caps how many entries each feed contributes per poll.
const itemsPerFeed = 10

// NewsCollector polls RSS/Atom feeds and emits headline signals. Feed items
// carry only a title, so every news signal is headline-only.
type NewsCollector struct {
	feeds      []config.Feed
	classifier *classify.Classifier
	parser     *gofeed.Parser
	logger     *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time // headline -> first seen
}

// NewNewsCollector builds a collector over the configured feed list.
func NewNewsCollector(feeds []config.Feed, classifier *classify.Classifier, logger *slog.Logger) *NewsCollector {
	return &NewsCollector{
		feeds:      feeds,
		classifier: classifier,
		parser:     gofeed.NewParser(),
		logger:     logger.With("component", "news"),
		seen:       make(map[string]time.Time),
	}
}

// Collect fetches all feeds and returns fresh, unseen headlines as signals.
// A failing feed is logged and skipped; it never fails the collection.
func (c *NewsCollector) Collect(ctx context.Context) []types.Signal {
	c.pruneSeen()
	now := time.Now()
	var out []types.Signal

	for _, feed := range c.feeds {
		parsed, err := c.parser.ParseURLWithContext(feed.URL, ctx)
		if err != nil {
			c.logger.Warn("feed fetch failed", "feed", feed.Name, "error", err)
			continue
		}
		items := parsed.Items
		if len(items) > itemsPerFeed {
			items = items[:itemsPerFeed]
		}
		for _, item := range items {
			headline := strings.TrimSpace(item.Title)
			if headline == "" || !c.markSeen(headline, now) {
				continue
			}

			published := now
			if item.PublishedParsed != nil {
				published = *item.PublishedParsed
			}
			if now.Sub(published) > newsMaxAge {
				continue
			}

			tier := c.classifier.Classify(classify.Source{Kind: "news", Domain: feed.Domain})
			out = append(out, types.Signal{
				SourceKind:   "news",
				SourceTier:   tier,
				Text:         headline,
				Credibility:  tier.Credibility(),
				Author:       feed.Name,
				Timestamp:    published,
				HeadlineOnly: true,
			})
		}
	}
	return out
}

// markSeen records a headline, returning false if it was already known.
func (c *NewsCollector) markSeen(headline string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[headline]; ok {
		return false
	}
	c.seen[headline] = now
	return true
}

func (c *NewsCollector) pruneSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-seenRetention)
	for h, ts := range c.seen {
		if ts.Before(cutoff) {
			delete(c.seen, h)
		}
	}
}
