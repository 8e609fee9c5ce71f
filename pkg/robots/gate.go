// Package robots answers robots.txt policy and politeness questions for the
// crawler. Policies are fetched lazily per host and cached for the crawl's
// lifetime; politeness pacing is enforced per registered domain.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ruvinda/webharvest/pkg/urlutil"
)

// robotsFetchTimeout bounds the robots.txt request so an unreachable
// endpoint cannot stall the crawl.
const robotsFetchTimeout = 10 * time.Second

// Decision is the answer to a policy query for one URL.
type Decision struct {
	Permit     bool
	CrawlDelay time.Duration
}

// policy is the cached robots state for one host. A nil group means no
// usable robots.txt was found and everything is permitted.
type policy struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
}

// Gate owns the per-host robots cache and the per-domain rate limiters.
// All methods are safe for concurrent use.
type Gate struct {
	client    *http.Client
	userAgent string
	minDelay  time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	policies map[string]*policy       // keyed by host
	limiters map[string]*rate.Limiter // keyed by registered domain

	fetches singleflight.Group
}

// New creates a Gate. minDelay is the politeness floor applied when a site
// specifies no Crawl-delay of its own.
func New(client *http.Client, userAgent string, minDelay time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{
		client:    client,
		userAgent: userAgent,
		minDelay:  minDelay,
		logger:    logger.With().Str("component", "robots").Logger(),
		policies:  make(map[string]*policy),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the configured user agent may fetch rawURL, along
// with the site's Crawl-delay if it declares one. The first query for a
// host fetches and caches /robots.txt; an unreachable or unparseable
// robots endpoint defaults to permit-all with a logged warning.
func (g *Gate) Allow(ctx context.Context, rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Decision{Permit: false}
	}

	p := g.policyFor(ctx, u)
	if p.group == nil {
		return Decision{Permit: true, CrawlDelay: p.crawlDelay}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Decision{Permit: p.group.Test(path), CrawlDelay: p.crawlDelay}
}

// Wait blocks until a request to rawURL's registered domain is allowed by
// the politeness schedule: at least max(Crawl-delay, minDelay) between
// consecutive requests, one in-flight request per domain. Returns early
// with an error only when ctx is cancelled.
func (g *Gate) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL for politeness wait: %q", rawURL)
	}

	d := g.Allow(ctx, rawURL)
	interval := g.minDelay
	if d.CrawlDelay > interval {
		interval = d.CrawlDelay
	}

	return g.limiterFor(u, interval).Wait(ctx)
}

// policyFor returns the cached policy for the URL's host, fetching
// robots.txt on first use. Concurrent first queries for the same host are
// collapsed into one fetch.
func (g *Gate) policyFor(ctx context.Context, u *url.URL) *policy {
	g.mu.Lock()
	if p, ok := g.policies[u.Host]; ok {
		g.mu.Unlock()
		return p
	}
	g.mu.Unlock()

	v, _, _ := g.fetches.Do(u.Host, func() (interface{}, error) {
		p := g.fetchPolicy(ctx, u)
		g.mu.Lock()
		g.policies[u.Host] = p
		g.mu.Unlock()
		return p, nil
	})
	return v.(*policy)
}

// fetchPolicy retrieves and parses robots.txt for the URL's host.
func (g *Gate) fetchPolicy(ctx context.Context, u *url.URL) *policy {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	ctx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		g.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt request failed, permitting all")
		return &policy{}
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt unreachable, permitting all")
		return &policy{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Missing robots.txt is the common case; only server errors are
		// worth a warning.
		if resp.StatusCode >= 500 {
			g.logger.Warn().Str("url", robotsURL).Int("status", resp.StatusCode).Msg("robots.txt fetch failed, permitting all")
		} else {
			g.logger.Debug().Str("url", robotsURL).Int("status", resp.StatusCode).Msg("no robots.txt, permitting all")
		}
		return &policy{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		g.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt read failed, permitting all")
		return &policy{}
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt parse failed, permitting all")
		return &policy{}
	}

	group := robots.FindGroup(g.userAgent)
	if group == nil {
		return &policy{}
	}
	return &policy{group: group, crawlDelay: group.CrawlDelay}
}

// limiterFor returns the politeness limiter for the URL's registered
// domain, creating it on first use. If a host later declares a longer
// Crawl-delay than the limiter was created with, the limiter is slowed to
// honor it.
func (g *Gate) limiterFor(u *url.URL, interval time.Duration) *rate.Limiter {
	domain := urlutil.RegisteredDomain(u.Hostname())

	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		g.limiters[domain] = lim
		return lim
	}

	if want := rate.Every(interval); want < lim.Limit() {
		lim.SetLimit(want)
	}
	return lim
}
