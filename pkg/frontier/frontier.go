// Package frontier manages the crawl queue: discovered-but-not-yet-fetched
// URLs in BFS order, with deduplication and a hard page budget.
package frontier

import (
	"container/list"
	"sync"

	"github.com/ruvinda/webharvest/internal/models"
)

// Frontier is a FIFO queue of crawl tasks with an integrated visited set.
// Push and Pop are atomic with respect to concurrent callers; a URL is
// yielded by Pop at most once for the frontier's lifetime.
//
// URLs must be normalized before they reach the frontier; the visited set
// compares strings exactly.
type Frontier struct {
	mu       sync.Mutex
	queue    *list.List
	visited  map[string]bool
	maxPages int
	maxDepth int // 0 = unlimited
	popped   int
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithMaxDepth drops pushed tasks deeper than depth. Zero means unlimited.
func WithMaxDepth(depth int) Option {
	return func(f *Frontier) { f.maxDepth = depth }
}

// New creates a Frontier with a hard page budget. Once maxPages tasks have
// been popped, Pop returns false regardless of queue contents.
func New(maxPages int, opts ...Option) *Frontier {
	f := &Frontier{
		queue:    list.New(),
		visited:  make(map[string]bool),
		maxPages: maxPages,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Push enqueues a task unless its URL has been seen before. Duplicate
// pushes are silent no-ops, so callers never need to pre-check membership.
func (f *Frontier) Push(task models.CrawlTask) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.visited[task.URL] {
		return
	}
	if f.maxDepth > 0 && task.Depth > f.maxDepth {
		return
	}

	f.visited[task.URL] = true
	f.queue.PushBack(task)
}

// Pop removes and returns the oldest task. It returns false when the queue
// is empty or the page budget is spent.
func (f *Frontier) Pop() (models.CrawlTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.popped >= f.maxPages {
		return models.CrawlTask{}, false
	}

	front := f.queue.Front()
	if front == nil {
		return models.CrawlTask{}, false
	}
	f.queue.Remove(front)
	f.popped++

	return front.Value.(models.CrawlTask), true
}

// Remaining returns the number of queued tasks.
func (f *Frontier) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// Seen reports whether a URL has ever been enqueued.
func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited[url]
}

// Exhausted reports whether the page budget is spent.
func (f *Frontier) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popped >= f.maxPages
}
