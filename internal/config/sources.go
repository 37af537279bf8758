package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KnownSources is the curated source list used by the tier classifier:
// social handles and RSS domains for the top three credibility tiers, plus
// the bio keywords that qualify a verified account as a domain expert.
type KnownSources struct {
	OfficialHandles      []string `yaml:"official_handles"`      // S1
	OfficialDomains      []string `yaml:"official_domains"`      // S1
	WireHandles          []string `yaml:"wire_handles"`          // S2
	WireDomains          []string `yaml:"wire_domains"`          // S2
	InstitutionalHandles []string `yaml:"institutional_handles"` // S3
	InstitutionalDomains []string `yaml:"institutional_domains"` // S3
	ExpertBioKeywords    []string `yaml:"expert_bio_keywords"`   // S4 qualifier
}

// Feed is one RSS/Atom feed the news collector polls.
type Feed struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Domain string `yaml:"domain"` // canonical domain, used for tier classification
}

// FeedList is the rss_feeds.yaml document.
type FeedList struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadKnownSources reads and parses the known-sources YAML document.
func LoadKnownSources(path string) (*KnownSources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read known sources: %w", err)
	}
	var ks KnownSources
	if err := yaml.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse known sources: %w", err)
	}
	return &ks, nil
}

// LoadFeeds reads and parses the RSS feed list.
func LoadFeeds(path string) (*FeedList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed list: %w", err)
	}
	var fl FeedList
	if err := yaml.Unmarshal(data, &fl); err != nil {
		return nil, fmt.Errorf("parse feed list: %w", err)
	}
	if len(fl.Feeds) == 0 {
		return nil, fmt.Errorf("feed list %s contains no feeds", path)
	}
	return &fl, nil
}
