package crawler

import "github.com/kellanvoss/linkgraph/internal/extractor"

// Result is one crawl job's accumulated output: every page fetched, in
// completion order, ready for the graph builder and the job store.
type Result struct {
	Pages     []extractor.Page
	PagesDone int
}
