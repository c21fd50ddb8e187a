package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
	"github.com/cdsetool/cdsetool-go/pkg/monitor"
	"github.com/cdsetool/cdsetool-go/pkg/query"
)

// TestAttemptDownloadRetriesTransientFailures mirrors the specification's
// retry scenario: a GET that returns 503 three times before succeeding
// must still produce exactly one complete file, with the retries absorbed
// transparently by the retrying transport.
func TestAttemptDownloadRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	payload := []byte("0123456789012345678901234567890123456789012345678901234567890123456789012345678901234567890123456789")[:100]

	var getCount int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			n := atomic.AddInt64(&getCount, 1)
			if n <= 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Length", "100")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	client := httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Timeout: 10 * time.Second})

	dir := t.TempDir()
	localPath := filepath.Join(dir, "product.bin")

	mon := monitor.NoopMonitor{}
	status := mon.Status()

	err := attemptDownload(context.Background(), client, server.URL, localPath, status)
	require.NoError(t, err)

	assert.Equal(t, int64(4), atomic.LoadInt64(&getCount))

	written, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, payload, written)

	_, size, downloaded := status.Snapshot()
	assert.Equal(t, int64(100), size)
	assert.Equal(t, int64(100), downloaded)
}

// TestAttemptDownloadPersistentFailureReturnsError covers the boundary
// guarantee that a server returning a non-200 status forever must still
// produce a bounded failure, not an infinite retry loop: streamingGet's
// backoff.Retry is capped at maxFileAttempts tries.
func TestAttemptDownloadPersistentFailureReturnsError(t *testing.T) {
	orig := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = orig })

	var getCount int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			atomic.AddInt64(&getCount, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	// A plain, non-retrying client isolates streamingGet's own retry bound
	// from the retryablehttp transport's transparent transport-level retries.
	client := server.Client()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "product.bin")
	mon := monitor.NoopMonitor{}
	status := mon.Status()

	err := attemptDownload(context.Background(), client, server.URL, localPath, status)
	require.Error(t, err)
	assert.Equal(t, int64(maxFileAttempts), atomic.LoadInt64(&getCount))
}

// TestAttemptDownloadMissingContentLengthIsRetryable covers the boundary
// guarantee that a 200 response with no Content-Length can't silently
// report size-0 success: it must be treated as a fatal-for-this-attempt
// error so the caller's retry loop fires.
func TestAttemptDownloadMissingContentLengthIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			// For a small body written without a flush, net/http computes
			// and sends a Content-Length itself. Flushing before the first
			// write makes the server use chunked transfer encoding instead,
			// and the client then reports a ContentLength of -1.
			w.Header().Set("Transfer-Encoding", "chunked")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			_, _ = w.Write([]byte("body"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	client := server.Client()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "product.bin")
	mon := monitor.NoopMonitor{}
	status := mon.Status()

	err := attemptDownload(context.Background(), client, server.URL, localPath, status)
	assert.Error(t, err)
}

// TestAttemptDownloadFollowsRedirect exercises the HEAD-based redirect
// resolution before the streaming GET runs against the final location.
func TestAttemptDownloadFollowsRedirect(t *testing.T) {
	t.Parallel()

	payload := []byte("redirected-body")

	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.Header().Set("Content-Length", "15")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload)
		}
	}))
	defer final.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.Redirect(w, r, final.URL, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer redirector.Close()

	client := httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Timeout: 10 * time.Second})

	dir := t.TempDir()
	localPath := filepath.Join(dir, "redirected.bin")
	mon := monitor.NoopMonitor{}
	status := mon.Status()

	err := attemptDownload(context.Background(), client, redirector.URL, localPath, status)
	require.NoError(t, err)

	written, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

// TestDownloadFeatureSkipsExistingFile covers the overwrite-existing
// invariant: when the destination file is already present and overwrite is
// not requested, no network call happens and the result reports success.
func TestDownloadFeatureSkipsExistingFile(t *testing.T) {
	t.Parallel()

	var called int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&called, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	title := "S2B_MSIL1C_TESTPRODUCT"
	require.NoError(t, os.WriteFile(filepath.Join(dir, title+".zip"), []byte("stale"), 0o644))

	feature := query.Feature{
		ID: "feature-id",
		Properties: query.Properties{
			Title:      title,
			Collection: "SENTINEL-2",
			Services: &query.Services{
				Download: &query.Download{URL: server.URL},
			},
		},
	}

	result := DownloadFeature(context.Background(), feature, dir, Options{})
	assert.True(t, result.Success)
	assert.Equal(t, int64(0), atomic.LoadInt64(&called))
}

// TestDownloadFeatureMissingURLFails covers the guard for a feature with
// no download URL or title: it must fail fast without touching the
// filesystem or network.
func TestDownloadFeatureMissingURLFails(t *testing.T) {
	t.Parallel()

	feature := query.Feature{ID: "feature-id", Properties: query.Properties{Title: "no-url-product"}}

	dir := t.TempDir()
	result := DownloadFeature(context.Background(), feature, dir, Options{})
	assert.False(t, result.Success)
}
