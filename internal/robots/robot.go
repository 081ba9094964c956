package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration, process-wide
- Enforce allow/disallow rules before fetch

The crawler checks robots when it processes a dequeued URL, before
fetching it. A fetch failure of
any kind (network error, non-2xx, parse error) caches an empty ruleSet,
which is permissive: everything is allowed. This is deliberate — a broken
robots endpoint must never silently prevent all crawling.
*/

// fetchTimeout bounds the robots.txt fetch independently of the caller's
// per-request timeout; it does not count against the crawl's request budget.
const fetchTimeout = 10 * time.Second

// Robot is the process-wide, host-keyed robots.txt decision cache.
type Robot struct {
	mu           sync.Mutex
	fetcher      *RobotsFetcher
	userAgent    string
	rules        map[string]ruleSet
	metadataSink metadata.MetadataSink
}

// NewCachedRobot constructs a Robot backed by an in-memory, process-wide cache.
func NewCachedRobot(metadataSink metadata.MetadataSink) Robot {
	return Robot{
		fetcher:      NewRobotsFetcher(metadataSink, "", cache.NewMemoryCache()),
		rules:        make(map[string]ruleSet),
		metadataSink: metadataSink,
	}
}

// Init sets the user-agent under which robots.txt groups are resolved.
func (r *Robot) Init(userAgent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userAgent = userAgent
	r.fetcher.userAgent = userAgent
}

// Allowed reports whether userAgent may fetch target, per the cached rules
// for target's host. It fetches and caches robots.txt for the host on first
// use. Any fetch or parse failure caches an empty, permissive ruleSet.
func (r *Robot) Allowed(ctx context.Context, domain string, target url.URL, userAgent string) bool {
	return r.Decide(ctx, target).Allowed
}

// Decide is Allowed plus the observability detail (reason, crawl-delay) the
// crawler's rate limiter wants. domain is derived from target.Host.
func (r *Robot) Decide(ctx context.Context, target url.URL) Decision {
	host := target.Host

	r.mu.Lock()
	rs, cached := r.rules[host]
	userAgent := r.userAgent
	r.mu.Unlock()

	if !cached {
		rs = r.fetchAndCache(ctx, target.Scheme, host, userAgent)
	}

	if !rs.hasGroups {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet}
	}
	if !rs.matchedGroup {
		return Decision{Url: target, Allowed: true, Reason: UserAgentNotMatched}
	}

	allowed, reason := rs.Allowed(target.Path)
	return Decision{
		Url:        target,
		Allowed:    allowed,
		Reason:     reason,
		CrawlDelay: rs.CrawlDelay(),
	}
}

func (r *Robot) fetchAndCache(ctx context.Context, scheme, host, userAgent string) ruleSet {
	if scheme == "" {
		scheme = "https"
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	result, err := r.fetcher.Fetch(fetchCtx, scheme, host)

	var rs ruleSet
	if err != nil {
		if r.metadataSink != nil {
			r.metadataSink.RecordError(
				time.Now(),
				"robots",
				"Fetch",
				mapRobotsErrorToMetadataCause(err),
				err.Error(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrHost, host)},
			)
		}
		rs = ruleSet{host: host, userAgent: userAgent, fetchedAt: time.Now()}
	} else {
		rs = MapResponseToRuleSet(result.Response, userAgent, result.FetchedAt)
	}

	r.mu.Lock()
	r.rules[host] = rs
	r.mu.Unlock()

	return rs
}
