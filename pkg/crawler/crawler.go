// Package crawler wires the frontier, robots gate, fetcher, extractor,
// image harvester, and record sink into a bounded, polite crawl.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ruvinda/webharvest/internal/config"
	"github.com/ruvinda/webharvest/internal/models"
	"github.com/ruvinda/webharvest/pkg/extractor"
	"github.com/ruvinda/webharvest/pkg/fetcher"
	"github.com/ruvinda/webharvest/pkg/frontier"
	"github.com/ruvinda/webharvest/pkg/images"
	"github.com/ruvinda/webharvest/pkg/robots"
	"github.com/ruvinda/webharvest/pkg/sink"
	"github.com/ruvinda/webharvest/pkg/urlutil"
)

// State is the orchestrator's lifecycle phase.
type State int32

const (
	// Running means workers are popping and processing tasks.
	Running State = iota

	// Draining means cancellation was requested: in-flight tasks finish,
	// no new tasks are popped.
	Draining

	// Stopped is terminal.
	Stopped
)

// idlePoll is how long a worker waits before re-checking an empty queue
// while other workers may still discover links.
const idlePoll = 25 * time.Millisecond

// Crawler owns the crawl loop. Construct with New, run once with Run.
type Crawler struct {
	cfg    config.CrawlConfig
	logger zerolog.Logger

	frontier  *frontier.Frontier
	gate      *robots.Gate
	fetcher   *fetcher.Fetcher
	extractor extractor.Extractor
	images    *images.Harvester
	sink      *sink.Sink

	// seedDomains holds the registered domains of the seeds, for
	// same-registered-domain scoping.
	seedDomains map[string]bool

	state  atomic.Int32
	active atomic.Int32

	// popMu makes pop-and-mark-active atomic so idle workers can tell an
	// empty queue from one about to be refilled.
	popMu sync.Mutex

	statsMu sync.Mutex
	stats   models.Stats
}

// Option configures a Crawler beyond what the config file expresses.
type Option func(*Crawler)

// WithExtractor substitutes a site-specific extractor for the configured one.
func WithExtractor(e extractor.Extractor) Option {
	return func(c *Crawler) { c.extractor = e }
}

// New builds a fully wired Crawler from configuration. It validates the
// configuration and opens the sink and images directory before any network
// activity, so misconfiguration fails fast.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	client := &http.Client{Timeout: cfg.Crawl.RequestTimeout}

	ext, err := extractor.New(cfg.Extractor.Name, cfg.Extractor.ContentSelectors)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	harvester, err := images.New(client, cfg.Output.ImagesDir, cfg.Crawl.PerPageImageLimit, cfg.Crawl.UserAgent, logger)
	if err != nil {
		return nil, err
	}

	recordSink, err := sink.Open(cfg.Output.Path)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		cfg:    cfg.Crawl,
		logger: logger.With().Str("component", "crawler").Logger(),
		frontier: frontier.New(cfg.Crawl.MaxPages,
			frontier.WithMaxDepth(cfg.Crawl.MaxDepth)),
		gate: robots.New(client, cfg.Crawl.UserAgent, cfg.Crawl.MinDelay, logger),
		fetcher: fetcher.New(client, cfg.Crawl.UserAgent, logger,
			fetcher.WithRetryBudget(cfg.Crawl.RetryBudget),
			fetcher.WithBackoffBase(cfg.Crawl.BackoffBase),
			fetcher.WithMaxBodySize(cfg.Crawl.MaxBodySize)),
		extractor:   ext,
		images:      harvester,
		sink:        recordSink,
		seedDomains: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, seed := range cfg.Crawl.Seeds {
		normalized, ok := urlutil.NormalizeString(seed)
		if !ok {
			recordSink.Close()
			return nil, fmt.Errorf("configuration: invalid seed URL: %q", seed)
		}
		u, _ := url.Parse(normalized)
		c.seedDomains[urlutil.RegisteredDomain(u.Hostname())] = true
		c.frontier.Push(models.CrawlTask{URL: normalized, Depth: 0})
	}

	return c, nil
}

// State returns the orchestrator's current phase.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

// Run executes the crawl until the frontier empties, the page budget is
// spent, or ctx is cancelled. It always closes the sink. The returned
// stats are valid even on error; the error is non-nil only for sink
// failures, which abort the crawl.
func (c *Crawler) Run(ctx context.Context) (models.Stats, error) {
	start := time.Now()
	c.state.Store(int32(Running))

	// Flip to Draining the moment cancellation is requested, so workers
	// stop popping even before they next observe ctx.Done.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.state.CompareAndSwap(int32(Running), int32(Draining))
		case <-watchDone:
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.MaxWorkers; i++ {
		g.Go(func() error { return c.worker(gctx) })
	}
	err := g.Wait()
	close(watchDone)

	c.state.Store(int32(Stopped))

	if cerr := c.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}

	c.statsMu.Lock()
	c.stats.Duration = time.Since(start)
	c.stats.ImagesDownloaded, c.stats.ImagesFailed = c.images.Stats()
	stats := c.stats
	c.statsMu.Unlock()

	c.logger.Info().
		Int("pages", stats.PagesFetched).
		Int("denied", stats.PagesDenied).
		Int("skipped", stats.PagesSkipped).
		Int("failed", stats.PagesFailed).
		Int("images", stats.ImagesDownloaded).
		Dur("duration", stats.Duration).
		Msg("crawl finished")

	return stats, err
}

// worker pops and processes tasks until the frontier is exhausted or the
// crawl is draining. Only a sink failure returns an error, which cancels
// the whole group.
func (c *Crawler) worker(ctx context.Context) error {
	for {
		if c.State() != Running {
			return nil
		}

		task, ok := c.pop()
		if !ok {
			if c.frontier.Exhausted() || c.active.Load() == 0 {
				return nil
			}
			// Another worker may still push links; wait and re-check.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePoll):
			}
			continue
		}

		err := c.process(ctx, task)
		c.active.Add(-1)
		if err != nil {
			return err
		}
	}
}

// pop atomically takes a task and marks this worker active, so an idle
// worker never mistakes a momentarily empty queue for a finished crawl.
func (c *Crawler) pop() (models.CrawlTask, bool) {
	c.popMu.Lock()
	defer c.popMu.Unlock()
	task, ok := c.frontier.Pop()
	if ok {
		c.active.Add(1)
	}
	return task, ok
}

// process runs the full pipeline for one task. Per-page failures are
// logged and counted, never returned; the only error out of here is a
// sink write failure.
func (c *Crawler) process(ctx context.Context, task models.CrawlTask) error {
	log := c.logger.With().Str("url", task.URL).Int("depth", task.Depth).Logger()

	var res fetcher.Result
	decision := c.gate.Allow(ctx, task.URL)
	if !decision.Permit {
		res = fetcher.DeniedResult("disallowed by robots.txt")
	} else {
		if err := c.gate.Wait(ctx, task.URL); err != nil {
			// Cancelled while waiting for the politeness slot.
			return nil
		}
		// Past the gate the task runs to completion even if the crawl is
		// cancelled mid-flight, so draining persists in-flight pages
		// instead of counting them as failures. The request timeout
		// bounds the detached fetch.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		res = c.fetcher.Fetch(fctx, task.URL)
		cancel()
	}

	switch res.Outcome {
	case fetcher.Success:
		// handled below
	case fetcher.Denied:
		log.Info().Str("reason", res.Reason).Msg("page skipped")
		c.count(func(s *models.Stats) { s.PagesDenied++ })
		return nil
	default:
		log.Warn().Str("reason", res.Reason).Str("outcome", res.Outcome.String()).Msg("page skipped")
		c.count(func(s *models.Stats) {
			s.PagesFailed++
			if res.Exhausted {
				s.RetriesExhausted++
			}
		})
		return nil
	}

	if !fetcher.IsHTML(res.ContentType) {
		log.Debug().Str("content_type", res.ContentType).Msg("page skipped: not a web page")
		c.count(func(s *models.Stats) { s.PagesSkipped++ })
		return nil
	}

	extracted, err := c.extractor.Extract(res.FinalURL, res.Body)
	if err != nil {
		log.Warn().Err(err).Msg("page skipped: extraction failed")
		c.count(func(s *models.Stats) { s.PagesFailed++ })
		return nil
	}

	refs := c.images.Harvest(context.WithoutCancel(ctx), task.URL, extracted.Images)
	outbound := c.normalizeLinks(res.FinalURL, extracted.Links)

	record := models.CrawlRecord{
		URL:           task.URL,
		Title:         extracted.Title,
		Text:          extracted.Text,
		Images:        refs,
		OutboundLinks: outbound,
		FetchedAt:     time.Now().UTC(),
	}
	if err := c.sink.Append(record); err != nil {
		log.Error().Err(err).Msg("record sink failed, aborting crawl")
		return err
	}
	c.count(func(s *models.Stats) { s.PagesFetched++ })
	log.Info().Int("links", len(outbound)).Int("images", len(refs)).Msg("page crawled")

	for _, link := range outbound {
		if c.inScope(link) {
			c.frontier.Push(models.CrawlTask{URL: link, Depth: task.Depth + 1})
		}
	}
	return nil
}

// normalizeLinks resolves and canonicalizes extracted links against the
// final page URL, dropping non-crawlable ones and duplicates while keeping
// discovery order.
func (c *Crawler) normalizeLinks(pageURL string, links []string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	out := make([]string, 0, len(links))
	for _, link := range links {
		normalized, ok := urlutil.Normalize(base, link)
		if !ok || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// inScope applies same-registered-domain scoping against the seed domains.
func (c *Crawler) inScope(link string) bool {
	if !c.cfg.SameRegisteredDomainOnly {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return c.seedDomains[urlutil.RegisteredDomain(u.Hostname())]
}

// count applies a mutation to the stats under the stats lock.
func (c *Crawler) count(fn func(*models.Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
