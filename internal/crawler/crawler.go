package crawler

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kellanvoss/linkgraph/internal/config"
	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/fetcher"
	"github.com/kellanvoss/linkgraph/internal/frontier"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/internal/robots"
	"github.com/kellanvoss/linkgraph/pkg/limiter"
	"github.com/kellanvoss/linkgraph/pkg/retry"
	"github.com/kellanvoss/linkgraph/pkg/timeutil"
	"github.com/kellanvoss/linkgraph/pkg/urlutil"
)

/*
Responsibilities

- Own the per-job frontier, seen-set, and results for the duration of one crawl
- Drive a bounded-concurrency worker pool against the frontier
- Consult the Robots Cache, pace requests through the rate limiter, fetch,
  and extract, pushing newly-discovered same-base-domain links back in

The crawler never persists anything and never computes metrics; it only
turns seed URLs into a completed Result.

Termination discipline: naive "while queue not empty" loops terminate
prematurely because workers may be in-flight holding URLs they have not
yet expanded. The frontier is only declared drained after K consecutive
quiet checks find it empty *and* no worker is in flight.
*/

const (
	quietCheckInterval  = 500 * time.Millisecond
	quietCheckLimit     = 3
	dequeueTimeout      = 2 * time.Second
	dequeuePollInterval = 50 * time.Millisecond
)

// Crawler runs one crawl job at a time; state for the job (frontier,
// seen-set, results) lives on the stack of Run, not on the struct, so a
// single Crawler value may run jobs sequentially or be wrapped for
// concurrent jobs by the caller.
type Crawler struct {
	cfg          config.Config
	robot        *robots.Robot
	fetcher      fetcher.Fetcher
	extractor    extractor.Extractor
	limiter      limiter.RateLimiter
	metadataSink metadata.MetadataSink
}

func NewCrawler(
	cfg config.Config,
	robot *robots.Robot,
	htmlFetcher fetcher.Fetcher,
	domExtractor extractor.Extractor,
	rateLimiter limiter.RateLimiter,
	metadataSink metadata.MetadataSink,
) Crawler {
	return Crawler{
		cfg:          cfg,
		robot:        robot,
		fetcher:      htmlFetcher,
		extractor:    domExtractor,
		limiter:      rateLimiter,
		metadataSink: metadataSink,
	}
}

// retryParamFor adapts a crawl job's Config into the RetryParam the
// fetcher's internal retry-with-backoff wrapper expects.
func retryParamFor(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.RequestDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration()),
	)
}

// Run drives one crawl job to completion per spec.md §4.5: seeds the
// frontier, dispatches bounded-concurrency workers, and returns every page
// fetched. Per-URL failures (robots deny, transport skip, malformed HTML)
// are never surfaced as errors; only empty seeds and context cancellation
// fail the whole job.
func (c *Crawler) Run(ctx context.Context, seedURLs []url.URL, targetDomain string) (Result, error) {
	if len(seedURLs) == 0 {
		return Result{}, ErrEmptySeeds
	}

	c.limiter.SetBaseDelay(c.cfg.RequestDelay())
	c.limiter.SetJitter(c.cfg.Jitter())
	c.limiter.SetRandomSeed(c.cfg.RandomSeed())

	f := frontier.NewFrontier()
	for _, seed := range seedURLs {
		canon := urlutil.Canonicalize(seed)
		f.Submit(canon.String(), canon)
	}

	var (
		mu        sync.Mutex
		results   []extractor.Page
		pagesDone int32
		inFlight  int32
		wg        sync.WaitGroup
	)

	sem := make(chan struct{}, c.cfg.MaxConcurrent())
	retryParam := retryParamFor(c.cfg)

	quiet := 0
	for int(atomic.LoadInt32(&pagesDone)) < c.cfg.MaxPages() {
		if int(atomic.LoadInt32(&pagesDone)+atomic.LoadInt32(&inFlight)) >= c.cfg.MaxPages() {
			select {
			case <-ctx.Done():
				wg.Wait()
				return Result{Pages: results, PagesDone: int(pagesDone)}, ctx.Err()
			case <-time.After(dequeuePollInterval):
			}
			continue
		}
		target, ok := dequeueWithTimeout(ctx, f, dequeueTimeout)
		if !ok {
			if atomic.LoadInt32(&inFlight) == 0 {
				quiet++
				if quiet >= quietCheckLimit {
					break
				}
			} else {
				quiet = 0
			}
			select {
			case <-ctx.Done():
				wg.Wait()
				return Result{Pages: results, PagesDone: int(pagesDone)}, ctx.Err()
			case <-time.After(quietCheckInterval):
			}
			continue
		}
		quiet = 0

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return Result{Pages: results, PagesDone: int(pagesDone)}, ctx.Err()
		}

		atomic.AddInt32(&inFlight, 1)
		wg.Add(1)
		go func(u url.URL) {
			defer wg.Done()
			defer func() { <-sem }()
			defer atomic.AddInt32(&inFlight, -1)

			page, ok := c.processURL(ctx, f, u, targetDomain, retryParam)
			if !ok {
				return
			}
			mu.Lock()
			results = append(results, page)
			mu.Unlock()
			atomic.AddInt32(&pagesDone, 1)
		}(target)
	}

	wg.Wait()
	return Result{Pages: results, PagesDone: int(atomic.LoadInt32(&pagesDone))}, nil
}

// dequeueWithTimeout polls the frontier for up to timeout. The frontier
// itself never blocks, so the bounded wait lives here, per §4.5's
// "dequeue with a bounded timeout (~2s)".
func dequeueWithTimeout(ctx context.Context, f *frontier.Frontier, timeout time.Duration) (url.URL, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if u, ok := f.Dequeue(); ok {
			return u, true
		}
		if time.Now().After(deadline) {
			return url.URL{}, false
		}
		select {
		case <-ctx.Done():
			return url.URL{}, false
		case <-time.After(dequeuePollInterval):
		}
	}
}

// processURL executes the per-URL pipeline (§4.5 steps 1-7): pace, check
// robots, fetch, extract, and feed discovered same-base-domain links back
// into the frontier. It reports ok=false for every skip condition; none of
// those are errors.
func (c *Crawler) processURL(ctx context.Context, f *frontier.Frontier, target url.URL, targetDomain string, retryParam retry.RetryParam) (extractor.Page, bool) {
	host := target.Host

	if delay := c.limiter.ResolveDelay(host); delay > 0 {
		select {
		case <-ctx.Done():
			return extractor.Page{}, false
		case <-time.After(delay):
		}
	}

	if c.cfg.RespectRobots() && !c.robot.Allowed(ctx, urlutil.DomainOf(target), target, c.cfg.UserAgent()) {
		return extractor.Page{}, false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PerRequestTimeout())
	defer cancel()

	fetchParam := fetcher.NewFetchParam(target, c.cfg.UserAgent())
	result, fetchErr := c.fetcher.Fetch(fetchCtx, 0, fetchParam, retryParam)
	c.limiter.MarkLastFetchAsNow(host)
	if fetchErr != nil {
		return extractor.Page{}, false
	}

	page, extractErr := c.extractor.Extract(result.URL(), targetDomain, result.Body())
	if extractErr != nil {
		return extractor.Page{}, false
	}

	for _, link := range page.Links {
		linkURL, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		if !urlutil.IsSameBaseDomain(*linkURL, targetDomain) {
			continue
		}
		canon, err := urlutil.CanonicalizeRaw(link.Href, nil)
		if err != nil {
			continue
		}
		f.Submit(canon.String(), canon)
	}

	return page, true
}
