package fetcher_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kellanvoss/linkgraph/internal/fetcher"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/pkg/failure"
	"github.com/kellanvoss/linkgraph/pkg/retry"
	"github.com/kellanvoss/linkgraph/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSink builds a real metadata.Recorder (MetadataSink.RecordCrawlStats
// takes an unexported parameter type, so no external package can satisfy
// the interface with a hand-written mock) backed by a buffer so tests can
// assert on what got logged.
func newTestSink(t *testing.T) (metadata.MetadataSink, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	recorder := metadata.NewRecorder(logger)
	return &recorder, &buf
}

func createTestRetryParam(maxAttempts int) retry.RetryParam {
	return retry.NewRetryParam(
		10*time.Millisecond, // baseDelay
		5*time.Millisecond,  // jitter
		42,                  // randomSeed
		maxAttempts,
		timeutil.NewBackoffParam(10*time.Millisecond, 2.0, 100*time.Millisecond),
	)
}

func newTestFetcher(t *testing.T) (fetcher.HtmlFetcher, *bytes.Buffer) {
	t.Helper()
	sink, buf := newTestSink(t)
	f := fetcher.NewHtmlFetcher(sink)
	f.Init(&http.Client{})
	return f, buf
}

func TestHtmlFetcher_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>Hello World</body></html>"))
	}))
	defer server.Close()

	f, buf := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))

	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, result.Code())
	assert.Equal(t, "<html><body>Hello World</body></html>", string(result.Body()))
	assert.Contains(t, buf.String(), "msg=fetch")
	assert.Contains(t, buf.String(), "http_status=200")
	assert.NotContains(t, buf.String(), "pipeline error")
}

func TestHtmlFetcher_Fetch_DecodesNonUTF8Charset(t *testing.T) {
	// "café" in ISO-8859-1: the trailing "é" is byte 0xE9, not valid UTF-8
	// on its own, so a raw byte->string cast would mangle it.
	latin1Body := []byte("<html><body>caf\xe9</body></html>")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.WriteHeader(http.StatusOK)
		w.Write(latin1Body)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))

	require.Nil(t, err)
	assert.Equal(t, "<html><body>café</body></html>", string(result.Body()))
	assert.True(t, strings.ContainsRune(string(result.Body()), 'é'))
}

func TestHtmlFetcher_Fetch_NonHTMLContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "not html"}`))
	}))
	defer server.Close()

	f, buf := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 1, param, createTestRetryParam(3))

	require.NotNil(t, err)
	var fetchErr *fetcher.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsRetryable())
	assert.Contains(t, buf.String(), "pipeline error")
}

func TestHtmlFetcher_Fetch_HTTP404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))

	require.NotNil(t, err)
	var fetchErr *fetcher.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsRetryable())
}

func TestHtmlFetcher_Fetch_HTTP403(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))

	require.NotNil(t, err)
	var fetchErr *fetcher.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsRetryable())
}

func TestHtmlFetcher_Fetch_HTTP500_RetriesThenFails(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f, buf := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(2))

	require.NotNil(t, err)
	assert.GreaterOrEqual(t, requestCount, 2)

	var retryErr *retry.RetryError
	require.True(t, errors.As(err, &retryErr))
	assert.Contains(t, buf.String(), "pipeline error")
}

func TestHtmlFetcher_Fetch_HTTP429_Retryable(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(2))

	require.NotNil(t, err)
	assert.GreaterOrEqual(t, requestCount, 2)

	var retryErr *retry.RetryError
	assert.True(t, errors.As(err, &retryErr))
}

func TestHtmlFetcher_Fetch_SuccessAfterRetry(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>Success</html>"))
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))

	require.Nil(t, err)
	assert.Equal(t, 2, requestCount)
	assert.Equal(t, http.StatusOK, result.Code())
}

func TestHtmlFetcher_FetchResult_Accessors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Custom-Header", "test-value")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>Test</html>"))
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	result, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(3))
	require.Nil(t, err)

	assert.Equal(t, fetchUrl.String(), result.URL().String())
	assert.Equal(t, http.StatusOK, result.Code())
	assert.Equal(t, uint64(len("<html>Test</html>")), result.SizeByte())

	headers := result.Headers()
	assert.Equal(t, "text/html; charset=utf-8", headers["Content-Type"])
	assert.Equal(t, "test-value", headers["X-Custom-Header"])
}

func TestFetchError_Classification(t *testing.T) {
	tests := []struct {
		name            string
		statusCode      int
		contentType     string
		expectRetryable bool
	}{
		{name: "500 retryable", statusCode: http.StatusInternalServerError, contentType: "text/html", expectRetryable: true},
		{name: "502 retryable", statusCode: http.StatusBadGateway, contentType: "text/html", expectRetryable: true},
		{name: "503 retryable", statusCode: http.StatusServiceUnavailable, contentType: "text/html", expectRetryable: true},
		{name: "400 not retryable", statusCode: http.StatusBadRequest, contentType: "text/html", expectRetryable: false},
		{name: "401 not retryable", statusCode: http.StatusUnauthorized, contentType: "text/html", expectRetryable: false},
		{name: "403 not retryable", statusCode: http.StatusForbidden, contentType: "text/html", expectRetryable: false},
		{name: "404 not retryable", statusCode: http.StatusNotFound, contentType: "text/html", expectRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			f, _ := newTestFetcher(t)
			fetchUrl, _ := url.Parse(server.URL)
			param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

			_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))

			require.NotNil(t, err)
			var fetchErr *fetcher.FetchError
			if errors.As(err, &fetchErr) {
				assert.Equal(t, tt.expectRetryable, fetchErr.IsRetryable())
			}
		})
	}
}

func TestHtmlFetcher_FetchError_Severity(t *testing.T) {
	retryableErr := &fetcher.FetchError{Message: "test error", Retryable: true, Cause: fetcher.ErrCauseNetworkFailure}
	var classified failure.ClassifiedError = retryableErr
	assert.Equal(t, failure.SeverityRecoverable, classified.Severity())

	nonRetryableErr := &fetcher.FetchError{Message: "test error", Retryable: false, Cause: fetcher.ErrCauseContentTypeInvalid}
	classified = nonRetryableErr
	assert.Equal(t, failure.SeverityFatal, classified.Severity())
}

func TestHtmlFetcher_Fetch_ReadResponseBodyError(t *testing.T) {
	// Hijack the connection and close it after a partial body so
	// io.ReadAll(resp.Body) returns an error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, bufrw, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()

		headers := "HTTP/1.1 200 OK\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"Content-Length: 100\r\n" +
			"\r\n"
		_, err = bufrw.WriteString(headers)
		require.NoError(t, err)
		_, err = bufrw.WriteString("partial")
		require.NoError(t, err)
		bufrw.Flush()
		conn.Close()
	}))
	defer server.Close()

	f, buf := newTestFetcher(t)
	fetchUrl, _ := url.Parse(server.URL)
	param := fetcher.NewFetchParam(*fetchUrl, "test-user-agent")

	_, err := f.Fetch(context.Background(), 0, param, createTestRetryParam(1))

	require.NotNil(t, err)
	var retryErr *retry.RetryError
	require.True(t, errors.As(err, &retryErr))
	assert.Contains(t, retryErr.Error(), fetcher.ErrCauseReadResponseBodyError)
	assert.Contains(t, buf.String(), "pipeline error")
}
