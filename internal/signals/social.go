package signals

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-predictor/internal/classify"
	"polymarket-predictor/internal/config"
	"polymarket-predictor/pkg/types"
)

// Pre-filter floors: accounts below these are noise regardless of content.
const (
	minFollowers  = 1000
	minEngagement = 10
)

// dedupOverlap is the token-overlap ratio above which two posts are the
// same content.
const dedupOverlap = 0.8

// maxSocialSignals caps signals returned per market.
const maxSocialSignals = 10

// socialPost is the wire shape of one post from the search API.
type socialPost struct {
	Text            string `json:"text"`
	CreatedAt       string `json:"created_at"`
	EngagementScore int    `json:"engagement_score"`
	Author          struct {
		ScreenName     string `json:"screen_name"`
		Verified       bool   `json:"verified"`
		FollowersCount int    `json:"followers_count"`
		FollowingCount int    `json:"following_count"`
		Bio            string `json:"bio"`
	} `json:"author"`
}

type searchResponse struct {
	Posts []socialPost `json:"posts"`
	Data  []socialPost `json:"data"`
}

// SocialCollector searches the social API for market keywords and turns
// qualifying posts into signals.
type SocialCollector struct {
	http       *resty.Client
	classifier *classify.Classifier
	logger     *slog.Logger
}

// NewSocialCollector builds a collector over the configured search API.
func NewSocialCollector(cfg config.SignalsConfig, classifier *classify.Classifier, logger *slog.Logger) *SocialCollector {
	http := resty.New().
		SetBaseURL(cfg.SocialBaseURL).
		SetTimeout(cfg.FetchTimeout).
		SetHeader("X-API-Key", cfg.SocialAPIKey).
		SetRetryCount(1)
	return &SocialCollector{http: http, classifier: classifier, logger: logger.With("component", "social")}
}

// Collect searches for the market's keywords and returns up to
// maxSocialSignals pre-filtered, deduplicated signals, highest credibility
// first. Errors degrade to an empty result.
func (c *SocialCollector) Collect(ctx context.Context, marketKeywords []string) []types.Signal {
	if len(marketKeywords) == 0 {
		return nil
	}

	var result searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":     strings.Join(marketKeywords, " OR "),
			"queryType": "Latest",
		}).
		SetResult(&result).
		Get("/search")
	if err != nil {
		c.logger.Warn("social search failed", "error", err)
		return nil
	}
	if resp.IsError() {
		c.logger.Warn("social search rejected", "status", resp.StatusCode())
		return nil
	}
	posts := result.Posts
	if len(posts) == 0 {
		posts = result.Data
	}

	var filtered []socialPost
	for _, p := range posts {
		if p.Author.FollowersCount < minFollowers || p.EngagementScore < minEngagement {
			continue
		}
		if isBotAccount(p) {
			continue
		}
		filtered = append(filtered, p)
	}
	filtered = dedupeByContent(filtered)

	now := time.Now()
	signals := make([]types.Signal, 0, len(filtered))
	for _, p := range filtered {
		tier := c.classifier.Classify(classify.Source{
			Kind:      "social",
			Handle:    p.Author.ScreenName,
			Verified:  p.Author.Verified,
			Followers: p.Author.FollowersCount,
			Bio:       p.Author.Bio,
		})
		ts := now
		if p.CreatedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
				ts = parsed
			}
		}
		text := p.Text
		if len(text) > 280 {
			text = text[:280]
		}
		signals = append(signals, types.Signal{
			SourceKind:  "social",
			SourceTier:  tier,
			Text:        text,
			Credibility: tier.Credibility(),
			Author:      p.Author.ScreenName,
			Followers:   p.Author.FollowersCount,
			Engagement:  p.EngagementScore,
			Timestamp:   ts,
		})
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Credibility > signals[j].Credibility
	})
	if len(signals) > maxSocialSignals {
		signals = signals[:maxSocialSignals]
	}
	return signals
}

// isBotAccount applies cheap heuristics: bot-ish names and wildly
// unbalanced follow ratios.
func isBotAccount(p socialPost) bool {
	name := strings.ToLower(p.Author.ScreenName)
	for _, marker := range []string{"bot", "autopost", "feed"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	if p.Author.FollowersCount > 0 && p.Author.FollowingCount > 0 &&
		float64(p.Author.FollowingCount)/float64(p.Author.FollowersCount) > 50 {
		return true
	}
	return false
}

// dedupeByContent drops posts whose token sets overlap a kept post by more
// than dedupOverlap.
func dedupeByContent(posts []socialPost) []socialPost {
	var kept []socialPost
	var keptSets []map[string]bool

	for _, p := range posts {
		words := tokenSet(p.Text)
		if len(words) == 0 {
			continue
		}
		dup := false
		for _, seen := range keptSets {
			if overlap(words, seen) > dedupOverlap {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, p)
			keptSets = append(keptSets, words)
		}
	}
	return kept
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}

func overlap(a, b map[string]bool) float64 {
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
