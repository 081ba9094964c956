package fetcher

import (
	"context"
	"net/http"

	"github.com/kellanvoss/linkgraph/pkg/failure"
	"github.com/kellanvoss/linkgraph/pkg/retry"
)

type Fetcher interface {
	Init(httpClient *http.Client)
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
