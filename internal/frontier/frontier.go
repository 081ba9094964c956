package frontier

import (
	"net/url"
	"sync"
)

/*
Frontier Responsibilities
- Hold the per-job FIFO of URLs awaiting fetch
- Deduplicate via the seen-set: at-most-once enqueue per canonical URL
- Know nothing about fetching, extraction, robots, or storage

The frontier is owned exclusively by one crawl job and discarded at job
end (spec's Ownership rule in §3). It is safe for concurrent Submit/
Dequeue from multiple workers.
*/

// Frontier is the per-job queue of canonical URLs to visit, paired with
// the seen-set that guarantees at-most-once enqueue.
type Frontier struct {
	mu    sync.Mutex
	queue FIFOQueue[url.URL]
	seen  Set[string]
}

func NewFrontier() *Frontier {
	return &Frontier{
		queue: *NewFIFOQueue[url.URL](),
		seen:  NewSet[string](),
	}
}

// Submit enqueues u if its canonical string form has not already been
// seen. Returns true if the URL was newly enqueued.
func (f *Frontier) Submit(canonicalKey string, u url.URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen.Contains(canonicalKey) {
		return false
	}
	f.seen.Add(canonicalKey)
	f.queue.Enqueue(u)
	return true
}

// Dequeue pops the next URL, if any.
func (f *Frontier) Dequeue() (url.URL, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Dequeue()
}

// VisitedCount returns the number of URLs ever submitted (the seen-set
// size), not merely the pages successfully fetched.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen.Size()
}

// Len reports how many URLs currently sit in the queue awaiting a worker.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Size()
}
