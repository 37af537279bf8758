// Package classify assigns credibility tiers to signal sources.
//
// Tier assignment is purely programmatic: curated handle and domain lists
// decide S1-S3, account metadata decides S4, the source kind decides S5,
// and everything else falls through to S6. The language model never
// assigns tiers.
package classify

import (
	"strings"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/pkg/types"
)

// ExpertMinFollowers is the follower floor for the S4 verified-expert tier.
const ExpertMinFollowers = 50_000

// Source describes one signal origin for classification. For social posts
// Handle/Verified/Followers/Bio are set; for news items Domain is set; for
// market data only Kind is set.
type Source struct {
	Kind      string // "news", "social", "market_data"
	Handle    string
	Domain    string
	Verified  bool
	Followers int
	Bio       string
}

// Classifier resolves sources to tiers using the curated source lists.
type Classifier struct {
	officialHandles      map[string]struct{}
	wireHandles          map[string]struct{}
	institutionalHandles map[string]struct{}
	officialDomains      []string
	wireDomains          []string
	institutionalDomains []string
	expertKeywords       []string
}

// New builds a classifier from the known-sources document. Handles are
// matched case-insensitively; domains match on exact host or any parent
// suffix ("data.bls.gov" matches "bls.gov").
func New(ks *config.KnownSources) *Classifier {
	return &Classifier{
		officialHandles:      handleSet(ks.OfficialHandles),
		wireHandles:          handleSet(ks.WireHandles),
		institutionalHandles: handleSet(ks.InstitutionalHandles),
		officialDomains:      lowerAll(ks.OfficialDomains),
		wireDomains:          lowerAll(ks.WireDomains),
		institutionalDomains: lowerAll(ks.InstitutionalDomains),
		expertKeywords:       lowerAll(ks.ExpertBioKeywords),
	}
}

// Classify returns the tier for a source. Order matters: the curated lists
// win over account metadata, and market data is always S5.
func (c *Classifier) Classify(src Source) types.SourceTier {
	if src.Kind == "market_data" {
		return types.TierS5
	}

	handle := normalizeHandle(src.Handle)
	domain := strings.ToLower(strings.TrimSpace(src.Domain))

	if _, ok := c.officialHandles[handle]; ok && handle != "" {
		return types.TierS1
	}
	if domainMatches(domain, c.officialDomains) {
		return types.TierS1
	}
	if _, ok := c.wireHandles[handle]; ok && handle != "" {
		return types.TierS2
	}
	if domainMatches(domain, c.wireDomains) {
		return types.TierS2
	}
	if _, ok := c.institutionalHandles[handle]; ok && handle != "" {
		return types.TierS3
	}
	if domainMatches(domain, c.institutionalDomains) {
		return types.TierS3
	}

	if src.Verified && src.Followers >= ExpertMinFollowers && c.hasExpertKeyword(src.Bio) {
		return types.TierS4
	}

	return types.TierS6
}

func (c *Classifier) hasExpertKeyword(bio string) bool {
	bio = strings.ToLower(bio)
	for _, kw := range c.expertKeywords {
		if strings.Contains(bio, kw) {
			return true
		}
	}
	return false
}

// domainMatches reports whether host equals a listed domain or is a
// subdomain of one.
func domainMatches(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func handleSet(handles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		set[normalizeHandle(h)] = struct{}{}
	}
	return set
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
