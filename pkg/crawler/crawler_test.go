package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvinda/webharvest/internal/config"
	"github.com/ruvinda/webharvest/internal/models"
)

// testConfig returns a config tuned for fast local crawls against httptest
// servers.
func testConfig(t *testing.T, seed string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Crawl.Seeds = []string{seed}
	cfg.Crawl.MaxPages = 50
	cfg.Crawl.MaxWorkers = 1
	cfg.Crawl.RequestTimeout = 5 * time.Second
	cfg.Crawl.RetryBudget = 1
	cfg.Crawl.BackoffBase = time.Millisecond
	cfg.Crawl.MinDelay = 0
	cfg.Output.Path = filepath.Join(dir, "records.ndjson")
	cfg.Output.ImagesDir = filepath.Join(dir, "images")
	return cfg
}

func runCrawl(t *testing.T, cfg *config.Config) (models.Stats, []models.CrawlRecord) {
	t.Helper()
	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, c.State())

	return stats, readRecords(t, cfg.Output.Path)
}

func readRecords(t *testing.T, path string) []models.CrawlRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []models.CrawlRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r models.CrawlRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.NoError(t, scanner.Err())
	return records
}

func page(links ...string) string {
	body := "<html><head><title>page</title></head><body>"
	for _, l := range links {
		body += fmt.Sprintf(`<a href="%s">link</a>`, l)
	}
	return body + "</body></html>"
}

func TestCrawlBudgetAndBacklinkDedup(t *testing.T) {
	// Page graph A -> {B, C, D}, B -> {A}. With a budget of three pages the
	// crawl emits exactly three records and never revisits A despite the
	// back-link.
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/b", "/c", "/d"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/a"))
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	mux.HandleFunc("/d", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/a")
	cfg.Crawl.MaxPages = 3

	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 3, stats.PagesFetched)
	require.Len(t, records, 3)

	// BFS order with one worker: A, then B, then the first sibling of A
	// still in budget.
	assert.Equal(t, server.URL+"/a", records[0].URL)
	assert.Equal(t, server.URL+"/b", records[1].URL)
	assert.Equal(t, server.URL+"/c", records[2].URL)

	seen := make(map[string]int)
	for _, r := range records {
		seen[r.URL]++
	}
	assert.Equal(t, 1, seen[server.URL+"/a"], "A crawled twice despite back-link")
}

func TestCrawlStopsWhenFrontierExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/only"))
	})
	mux.HandleFunc("/only", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 2, stats.PagesFetched)
	assert.Len(t, records, 2)
}

func TestCrawlRespectsRobots(t *testing.T) {
	var privateFetches int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/public", "/private/secret"))
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	mux.HandleFunc("/private/secret", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&privateFetches, 1)
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, int32(0), atomic.LoadInt32(&privateFetches), "robots-denied URL was fetched")
	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 1, stats.PagesDenied)
	for _, r := range records {
		assert.NotContains(t, r.URL, "/private/")
	}
}

func TestCrawlSkipsFailuresAndContinues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/missing", "/broken", "/good"))
	})
	mux.HandleFunc("/missing", http.NotFound)
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 2, stats.PagesFailed)
	assert.Equal(t, 1, stats.RetriesExhausted)
	assert.Len(t, records, 2)
}

func TestCrawlCountsNonHTMLAsSkippedNotFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/brochure.pdf", "/good"))
	})
	mux.HandleFunc("/brochure.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 1, stats.PagesSkipped)
	assert.Equal(t, 0, stats.PagesFailed)
	assert.Len(t, records, 2)
}

func TestCrawlSameRegisteredDomainScoping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("https://elsewhere-entirely.org/offsite", "/onsite"))
	})
	mux.HandleFunc("/onsite", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 2, stats.PagesFetched)
	require.Len(t, records, 2)

	// The off-domain link is recorded as an outbound link but never crawled.
	assert.Contains(t, records[0].OutboundLinks, "https://elsewhere-entirely.org/offsite")
	for _, r := range records {
		assert.NotContains(t, r.URL, "elsewhere-entirely.org")
	}
}

func TestCrawlNormalizesDiscoveredLinks(t *testing.T) {
	var fetches sync.Map
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fetches.Store(r.URL.String(), true)
		// Same resource under different fragments plus junk schemes.
		fmt.Fprint(w, page("/page#intro", "/page#reviews", "mailto:x@example.com", "javascript:void(0)"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fetches.Store(r.URL.String(), true)
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	assert.Equal(t, 2, stats.PagesFetched)
	require.Len(t, records, 2)
	assert.Equal(t, []string{server.URL + "/page"}, records[0].OutboundLinks)
}

func TestCrawlDownloadsImagesWithDedup(t *testing.T) {
	var imageFetches int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img src="/shared.png" alt="shared"><a href="/two">next</a></body></html>`)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img src="/shared.png" alt="shared again"></body></html>`)
	})
	mux.HandleFunc("/shared.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&imageFetches, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	require.Len(t, records, 2)
	require.Len(t, records[0].Images, 1)
	require.Len(t, records[1].Images, 1)
	assert.Equal(t, records[0].Images[0].LocalPath, records[1].Images[0].LocalPath)
	assert.Equal(t, int32(1), atomic.LoadInt32(&imageFetches), "shared image downloaded more than once")
	assert.Equal(t, 1, stats.ImagesDownloaded)

	data, err := os.ReadFile(records[0].Images[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestCrawlImageFailureDoesNotDropPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img src="/gone.png" alt="missing"></body></html>`)
	})
	mux.HandleFunc("/gone.png", http.NotFound)
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	stats, records := runCrawl(t, cfg)

	require.Len(t, records, 1)
	require.Len(t, records[0].Images, 1)
	assert.Empty(t, records[0].Images[0].LocalPath)
	assert.Equal(t, "missing", records[0].Images[0].AltText)
	assert.Equal(t, 1, stats.ImagesFailed)
}

func TestCrawlPolitenessSpacing(t *testing.T) {
	var mu sync.Mutex
	var pageTimes []time.Time
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pageTimes = append(pageTimes, time.Now())
		mu.Unlock()
		fmt.Fprint(w, page("/b", "/c"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pageTimes = append(pageTimes, time.Now())
		mu.Unlock()
		fmt.Fprint(w, page())
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pageTimes = append(pageTimes, time.Now())
		mu.Unlock()
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	cfg.Crawl.MaxWorkers = 4
	cfg.Crawl.MinDelay = 120 * time.Millisecond

	stats, _ := runCrawl(t, cfg)
	require.Equal(t, 3, stats.PagesFetched)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pageTimes, 3)
	for i := 1; i < len(pageTimes); i++ {
		gap := pageTimes[i].Sub(pageTimes[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond,
			"consecutive same-domain fetches %d and %d too close", i-1, i)
	}
}

func TestCrawlCancellationDrains(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		links := make([]string, 20)
		for i := range links {
			links[i] = fmt.Sprintf("/p%d", i)
		}
		fmt.Fprint(w, page(links...))
	})
	for i := 0; i < 20; i++ {
		mux.HandleFunc(fmt.Sprintf("/p%d", i), func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() { close(release) })
			time.Sleep(20 * time.Millisecond)
			fmt.Fprint(w, page())
		})
	}
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-release
		cancel()
	}()

	stats, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Stopped, c.State())
	// The seed page completed; cancellation stopped the crawl well short
	// of the 21 reachable pages.
	assert.GreaterOrEqual(t, stats.PagesFetched, 1)
	assert.Less(t, stats.PagesFetched, 21)

	// Everything persisted is complete and parseable.
	records := readRecords(t, cfg.Output.Path)
	assert.Len(t, records, stats.PagesFetched)
}

func TestCrawlDrainingFinishesInFlightPage(t *testing.T) {
	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("/slow"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, page())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t, server.URL+"/")
	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	// Cancel while /slow is being served: the in-flight page still
	// completes and is persisted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	stats, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 0, stats.PagesFailed)

	records := readRecords(t, cfg.Output.Path)
	require.Len(t, records, 2)
	assert.Equal(t, server.URL+"/slow", records[1].URL)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.Crawl.Seeds = []string{"not a url"}
	cfg.Output.Path = filepath.Join(t.TempDir(), "records.ndjson")
	cfg.Output.ImagesDir = t.TempDir()

	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestNewRejectsZeroBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Crawl.Seeds = []string{"https://example.com/"}
	cfg.Crawl.MaxPages = 0

	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_pages")
}
