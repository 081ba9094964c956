package graph

import (
	"math"
	"net/url"

	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/pkg/urlutil"
)

/*
Responsibilities

- Classify every link on every crawled page as a backlink or outbound edge
- Aggregate backlinks into referring-domain and follow/nofollow counts
- Derive the bounded "estimated authority" heuristic

The builder never fetches, never mutates a Page, and never decides crawl
termination; it only turns a finished page set into one Metrics record.
*/

// BuildMetrics aggregates pages (already crawled) into the Metrics record
// for targetDomain, per spec.md §4.6.
func BuildMetrics(pages []extractor.Page, targetDomain string) Metrics {
	var backlinks []Backlink
	referringDomains := make(map[string]struct{})

	for _, page := range pages {
		sourceIsTarget := urlutil.IsSameBaseDomain(mustParseURL(page.URL), targetDomain)

		for _, link := range page.Links {
			linkURL := mustParseURL(link.Href)
			if !urlutil.IsSameBaseDomain(linkURL, targetDomain) {
				continue // outbound: not reported in metrics
			}
			if sourceIsTarget {
				continue // same-domain edge, not a backlink
			}

			backlinks = append(backlinks, Backlink{
				SourceURL: page.URL,
				TargetURL: link.Href,
				Anchor:    link.Anchor,
				Nofollow:  link.IsNofollow,
			})
			referringDomains[page.Domain] = struct{}{}
		}
	}

	m := Metrics{
		ReferringDomains: len(referringDomains),
		TotalBacklinks:   len(backlinks),
		PagesCrawled:     len(pages),
		Backlinks:        backlinks,
	}

	for _, bl := range backlinks {
		if bl.Nofollow {
			m.NofollowCount++
		} else {
			m.FollowCount++
		}
	}

	if m.TotalBacklinks > 0 {
		m.FollowPct = round2(100 * float64(m.FollowCount) / float64(m.TotalBacklinks))
	}

	m.EstimatedDA = round1(estimatedDA(m.ReferringDomains, m.TotalBacklinks))

	return m
}

// estimatedDA is a deliberately modest, bounded local heuristic. It is not
// a replication of any third-party authority metric; any surface
// displaying it must label it "estimated".
func estimatedDA(referringDomains, totalBacklinks int) float64 {
	score := math.Log10(1+float64(referringDomains))*10 + math.Log10(1+float64(totalBacklinks))*5
	return math.Min(100, math.Max(0, score))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// mustParseURL tolerates an unparseable URL string (should not occur for
// already-canonicalized data) by returning a zero-value URL, which fails
// every base-domain comparison harmlessly rather than panicking.
func mustParseURL(raw string) url.URL {
	parsed, err := url.Parse(raw)
	if err != nil {
		return url.URL{}
	}
	return *parsed
}
