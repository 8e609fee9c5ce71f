package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(opts ...Option) *Fetcher {
	client := &http.Client{Timeout: 5 * time.Second}
	base := []Option{WithBackoffBase(time.Millisecond)}
	return New(client, "webharvest/1.0", zerolog.Nop(), append(base, opts...)...)
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "webharvest/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	res := newFetcher().Fetch(context.Background(), server.URL+"/page")

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, server.URL+"/page", res.FinalURL)
	assert.Contains(t, string(res.Body), "hello")
	assert.True(t, IsHTML(res.ContentType))
}

func TestFetch404IsPermanentWithoutRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	res := newFetcher(WithRetryBudget(3)).Fetch(context.Background(), server.URL)

	assert.Equal(t, Permanent, res.Outcome)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetch5xxRetriesExactlyBudgetPlusOne(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	res := newFetcher(WithRetryBudget(3)).Fetch(context.Background(), server.URL)

	assert.Equal(t, Permanent, res.Outcome)
	assert.Contains(t, res.Reason, "retry budget exhausted")
	assert.True(t, res.Exhausted)
	// Initial attempt plus R retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestFetch403RetriesThenRecovers(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>finally</html>"))
	}))
	defer server.Close()

	res := newFetcher(WithRetryBudget(3)).Fetch(context.Background(), server.URL)

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchConnectionErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // refuse all connections

	res := newFetcher(WithRetryBudget(1)).Fetch(context.Background(), server.URL)

	assert.Equal(t, Permanent, res.Outcome)
	assert.Contains(t, res.Reason, "retry budget exhausted")
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFetcher(WithRetryBudget(5), WithBackoffBase(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() { done <- f.Fetch(ctx, server.URL) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, Permanent, res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not stop after cancellation")
	}
}

func TestFetchBodySizeCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	res := newFetcher(WithMaxBodySize(100)).Fetch(context.Background(), server.URL)

	require.Equal(t, Success, res.Outcome)
	assert.Len(t, res.Body, 100)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved here"))
	})

	res := newFetcher().Fetch(context.Background(), server.URL+"/old")

	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, server.URL+"/new", res.FinalURL)
}

type staticRenderer struct{ html string }

func (r staticRenderer) Render(ctx context.Context, url string) ([]byte, error) {
	return []byte(r.html), nil
}

func TestFetchUsesInjectedRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><noscript>enable js</noscript></html>"))
	}))
	defer server.Close()

	f := newFetcher(WithRenderer(staticRenderer{html: "<html>rendered</html>"}))
	res := f.Fetch(context.Background(), server.URL)

	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, "<html>rendered</html>", string(res.Body))
}

func TestDeniedResult(t *testing.T) {
	res := DeniedResult("robots disallow")
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, "robots disallow", res.Reason)
	assert.Equal(t, "denied", res.Outcome.String())
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML("text/html; charset=utf-8"))
	assert.True(t, IsHTML("application/xhtml+xml"))
	assert.True(t, IsHTML("")) // missing header: assume page, let the extractor decide
	assert.False(t, IsHTML("image/png"))
	assert.False(t, IsHTML("application/pdf"))
}
