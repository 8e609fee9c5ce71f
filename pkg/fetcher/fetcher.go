// Package fetcher performs single-page HTTP retrieval with bounded retry,
// exponential backoff, and outcome classification.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Outcome classifies the result of fetching one URL.
type Outcome int

const (
	// Success means a 200 response with a readable body.
	Success Outcome = iota

	// Retryable marks transient failures: timeouts, connection errors,
	// 5xx responses, and 403 (anti-bot throttling is common and often
	// clears on a later attempt).
	Retryable

	// Denied marks pages that policy forbids fetching. The fetcher never
	// produces this on its own; the crawler constructs it for robots
	// denials so all page outcomes share one type.
	Denied

	// Permanent marks failures that retrying cannot fix: 404 and other
	// non-retryable 4xx, or a retry budget exhausted on a Retryable.
	Permanent
)

// String returns the outcome name for logs and counters.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Denied:
		return "denied"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a fetch. Body, FinalURL, and ContentType
// are populated only on Success; StatusCode is set whenever a response was
// received; Reason explains non-success outcomes.
type Result struct {
	Outcome     Outcome
	StatusCode  int
	Body        []byte
	FinalURL    string
	ContentType string
	Reason      string

	// Exhausted marks a Permanent result that started as Retryable and
	// used up the retry budget.
	Exhausted bool
}

// DeniedResult builds a Denied result for a URL that policy forbids.
func DeniedResult(reason string) Result {
	return Result{Outcome: Denied, Reason: reason}
}

// Renderer renders a URL into HTML, for pages that require JavaScript
// execution. No implementation ships with the crawler; injecting one swaps
// the body source without touching retry or classification logic.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Fetcher retrieves pages with a fixed retry budget and jittered
// exponential backoff. Safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	retryBudget int
	backoffBase time.Duration
	maxBodySize int64
	renderer    Renderer
	logger      zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetryBudget sets the number of retries after the initial attempt.
func WithRetryBudget(n int) Option {
	return func(f *Fetcher) { f.retryBudget = n }
}

// WithBackoffBase sets the base duration for exponential backoff.
func WithBackoffBase(d time.Duration) Option {
	return func(f *Fetcher) { f.backoffBase = d }
}

// WithMaxBodySize caps how many bytes of a response body are read.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) { f.maxBodySize = n }
}

// WithRenderer injects a JavaScript renderer used to produce page bodies.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// New creates a Fetcher around the given client.
func New(client *http.Client, userAgent string, logger zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		userAgent:   userAgent,
		retryBudget: 3,
		backoffBase: time.Second,
		maxBodySize: 10 * 1024 * 1024,
		logger:      logger.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves one URL. A Retryable outcome is retried up to the budget
// with backoff; once the budget is exhausted the result escalates to
// Permanent. The context is checked before every retry sleep so a
// cancelled crawl stops promptly.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) Result {
	var last Result

	for attempt := 0; attempt <= f.retryBudget; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.backoff(attempt-1)); err != nil {
				last.Reason = fmt.Sprintf("cancelled during backoff: %v", err)
				return escalate(last)
			}
			f.logger.Debug().Str("url", pageURL).Int("attempt", attempt+1).Msg("retrying fetch")
		}

		last = f.fetchOnce(ctx, pageURL)
		if last.Outcome != Retryable {
			return last
		}
		if ctx.Err() != nil {
			break
		}
	}

	f.logger.Warn().Str("url", pageURL).Str("reason", last.Reason).
		Int("attempts", f.retryBudget+1).Msg("retry budget exhausted")
	return escalate(last)
}

// escalate turns an exhausted Retryable into a Permanent result.
func escalate(r Result) Result {
	r.Outcome = Permanent
	r.Exhausted = true
	if r.Reason == "" {
		r.Reason = "retry budget exhausted"
	} else {
		r.Reason = "retry budget exhausted: " + r.Reason
	}
	return r
}

// fetchOnce performs a single GET attempt and classifies the outcome.
func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{Outcome: Permanent, Reason: fmt.Sprintf("invalid request: %v", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Outcome: Retryable, Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to body read below
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500:
		return Result{
			Outcome:    Retryable,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("status %d", resp.StatusCode),
		}
	default:
		return Result{
			Outcome:    Permanent,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return Result{Outcome: Retryable, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("body read failed: %v", err)}
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	contentType := resp.Header.Get("Content-Type")

	if f.renderer != nil && IsHTML(contentType) {
		if rendered, err := f.renderer.Render(ctx, finalURL); err == nil {
			body = rendered
		} else {
			f.logger.Warn().Str("url", finalURL).Err(err).Msg("renderer failed, using fetched body")
		}
	}

	return Result{
		Outcome:     Success,
		StatusCode:  resp.StatusCode,
		Body:        body,
		FinalURL:    finalURL,
		ContentType: contentType,
	}
}

// backoff computes the sleep before retry i: base * 2^i plus jitter of up
// to half the base value.
func (f *Fetcher) backoff(i int) time.Duration {
	d := f.backoffBase * time.Duration(1<<uint(i))
	if f.backoffBase > 0 {
		d += time.Duration(rand.Int63n(int64(f.backoffBase)/2 + 1))
	}
	return d
}

// sleep waits for d or until the context is cancelled.
func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsHTML reports whether a Content-Type denotes a parseable web page.
func IsHTML(contentType string) bool {
	mime := strings.TrimSpace(strings.Split(strings.ToLower(contentType), ";")[0])
	switch mime {
	case "text/html", "application/xhtml+xml", "application/xhtml", "text/xml", "application/xml", "":
		return true
	}
	return false
}
