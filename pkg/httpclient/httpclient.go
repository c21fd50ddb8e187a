// Package httpclient builds the retryable HTTP clients shared by the
// credential manager, the collection descriptor cache, and the query
// iterator. It wraps hashicorp/go-retryablehttp with the backoff policy
// and retry-on-status set from the CDSE tool specification.
package httpclient

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cdsetool/cdsetool-go/pkg/logger"
)

// RetryStatusCodes is the set of HTTP status codes the specification
// treats as transient and worth retrying.
var RetryStatusCodes = map[int]bool{
	413: true,
	429: true,
	500: true,
	502: true,
	503: true,
}

// Options configures a client built by New.
type Options struct {
	// MaxRetries is the number of retries after the first attempt (4 for
	// plain GETs, 14 for token exchanges: 5 and 15 attempts in all).
	MaxRetries int
	// Timeout applies to each individual request.
	Timeout time.Duration
	// Proxies maps a URL scheme ("http", "https") to a proxy URL.
	Proxies map[string]string
}

// DefaultGETRetries and DefaultTokenRetries give catalogue GETs 5 attempts
// and token-endpoint POSTs 15 attempts (first attempt plus retries).
const (
	DefaultGETRetries   = 4
	DefaultTokenRetries = 14
	DefaultTimeout      = 120 * time.Second
	backoffFactor       = 0.5
)

// New builds an *http.Client whose Transport retries transient failures
// with exponential backoff (factor 0.5) honouring Retry-After, and that
// times out each request after opts.Timeout.
func New(opts Options) *http.Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultGETRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = time.Duration(float64(time.Second) * backoffFactor)
	rc.RetryWaitMax = 60 * time.Second
	rc.CheckRetry = checkRetry
	rc.Backoff = retryAfterAwareBackoff
	// Once retries are exhausted, hand back the last response (and error,
	// if any) instead of replacing it with a generic "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// The inner client never follows redirects: the returned outer client
	// follows them, and a caller that sets CheckRedirect on a client built
	// around this Transport sees each 3xx response itself.
	rc.HTTPClient = &http.Client{
		Timeout:       opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	if len(opts.Proxies) > 0 {
		transport := rc.HTTPClient.Transport
		httpTransport, ok := transport.(*http.Transport)
		if !ok || httpTransport == nil {
			httpTransport = http.DefaultTransport.(*http.Transport).Clone()
		} else {
			httpTransport = httpTransport.Clone()
		}
		httpTransport.Proxy = proxyFunc(opts.Proxies)
		rc.HTTPClient.Transport = httpTransport
	}

	return rc.StandardClient()
}

func proxyFunc(proxies map[string]string) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		raw, ok := proxies[req.URL.Scheme]
		if !ok || raw == "" {
			return http.ProxyFromEnvironment(req)
		}
		return url.Parse(raw)
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Network-level faults (connection reset, chunked-encoding
		// truncation, protocol errors) are exactly the transient faults
		// the spec says to retry.
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if RetryStatusCodes[resp.StatusCode] {
		return true, nil
	}
	return false, nil
}

// retryAfterAwareBackoff honours a server's Retry-After header when
// present, falling back to exponential backoff with up to 25% jitter.
func retryAfterAwareBackoff(minWait, maxWait time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := time.ParseDuration(ra + "s"); err == nil {
				return secs
			}
		}
	}

	mult := math.Pow(2, float64(attempt)) * float64(minWait)
	wait := time.Duration(mult)
	if wait > maxWait {
		wait = maxWait
	}
	jitter := time.Duration(rand.Float64() * 0.25 * float64(wait)) //nolint:gosec // jitter only, not security sensitive
	return wait + jitter
}

// LogTransientFailure logs a retryable HTTP condition at warn level, the
// way the download engine and query pager do for each failed attempt.
func LogTransientFailure(op string, statusCode int, err error) {
	if err != nil {
		logger.Warnf("%s: transient failure, retrying: %v", op, err)
		return
	}
	logger.Warnf("%s: unexpected status %d, retrying", op, statusCode)
}
