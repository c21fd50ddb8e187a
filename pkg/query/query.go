package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
	"github.com/cdsetool/cdsetool-go/pkg/collection"
	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
	"github.com/cdsetool/cdsetool-go/pkg/logger"
)

// SearchURLTemplate is the CDSE OpenSearch query endpoint.
const SearchURLTemplate = "https://catalogue.dataspace.copernicus.eu/resto/api/collections/%s/search.json"

const (
	defaultMaxRecords = 2000
	maxPageAttempts   = 10
	pageBackoff       = 60 * time.Second
)

// Options configures a FeatureQuery.
type Options struct {
	Proxies             map[string]string
	ValidateSearchTerms bool // validation runs only when true; the zero value skips it
	Client              *http.Client
}

// FeatureQuery is a lazy, paginated, re-entrant iterator over a catalogue
// search result set. It buffers fetched features in order and exposes
// random access, a length (possibly unknown until exhausted), and a fresh
// forward cursor on every call to All, so independent traversals never
// interfere with each other.
type FeatureQuery struct {
	mu           sync.Mutex
	features     []Feature
	nextURL      string
	exhausted    bool
	totalResults int // -1 == unknown
	client       *http.Client
}

// NewFeatureQuery validates searchTerms against the collection's
// descriptor when opts.ValidateSearchTerms is true and returns a
// FeatureQuery ready to page through results. With the zero value of
// Options no validation runs and the terms are sent as serialised. Validation
// failures are returned immediately; page-fetch failures are retried
// internally and only surface once retries are exhausted.
func NewFeatureQuery(ctx context.Context, cache *collection.Cache, coll string, searchTerms map[string]interface{}, opts Options) (*FeatureQuery, error) {
	validate := true
	if !opts.ValidateSearchTerms {
		validate = false
	}

	queryURL, err := buildQueryURL(ctx, cache, coll, searchTerms, validate)
	if err != nil {
		return nil, err
	}
	queryURL = setExactCount(queryURL, true)

	client := opts.Client
	if client == nil {
		client = httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Proxies: opts.Proxies})
	}

	return &FeatureQuery{
		nextURL:      queryURL,
		totalResults: -1,
		client:       client,
	}, nil
}

func buildQueryURL(ctx context.Context, cache *collection.Cache, coll string, searchTerms map[string]interface{}, validate bool) (string, error) {
	var desc collection.Descriptor
	if validate {
		var err error
		desc, err = cache.Describe(ctx, coll)
		if err != nil {
			return "", err
		}
	}

	// Stable key order keeps the generated URL deterministic, which in
	// turn makes tests (and logs) reproducible.
	keys := make([]string, 0, len(searchTerms))
	for k := range searchTerms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	q.Set("maxRecords", fmt.Sprintf("%d", defaultMaxRecords))
	for _, k := range keys {
		v := searchTerms[k]
		var serialized string
		if validate {
			var err error
			serialized, err = validateTerm(desc, k, v)
			if err != nil {
				return "", err
			}
		} else {
			serialized = serializeTerm(v)
		}
		q.Set(k, serialized)
	}

	base := fmt.Sprintf(SearchURLTemplate, coll)
	return base + "?" + q.Encode(), nil
}

// setExactCount rewrites the exactCount query parameter: the first page
// requests an exact total (exactCount=1), later pages ask the server to
// skip that work (exactCount=0).
func setExactCount(rawURL string, first bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if first {
		q.Set("exactCount", "1")
	} else {
		q.Set("exactCount", "0")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Len returns the total number of matching features, triggering one fetch
// if it isn't known yet. It returns -1 if the server never reports a
// total and iteration hasn't exhausted all pages.
func (q *FeatureQuery) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	known := q.totalResults >= 0
	q.mu.Unlock()
	if known {
		return q.totalResults, nil
	}
	if err := q.fetchNextPage(ctx); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalResults, nil
}

// At returns the i-th feature (0-indexed) in server order, fetching
// further pages as needed. It returns an error if i is out of range once
// all pages have been consumed.
func (q *FeatureQuery) At(ctx context.Context, i int) (Feature, error) {
	for {
		q.mu.Lock()
		if i < len(q.features) {
			f := q.features[i]
			q.mu.Unlock()
			return f, nil
		}
		done := q.exhausted
		q.mu.Unlock()

		if done {
			return Feature{}, fmt.Errorf("index %d out of range", i)
		}
		if err := q.fetchNextPage(ctx); err != nil {
			return Feature{}, err
		}
	}
}

// All returns a fresh forward cursor over every feature in the result
// set, fetching additional pages lazily as the cursor advances. Because
// FeatureQuery buffers everything it has fetched, multiple concurrent
// calls to All are fully independent traversals.
func (q *FeatureQuery) All(ctx context.Context) func(yield func(Feature) bool) {
	return func(yield func(Feature) bool) {
		for i := 0; ; i++ {
			f, err := q.At(ctx, i)
			if err != nil {
				return
			}
			if !yield(f) {
				return
			}
		}
	}
}

func (q *FeatureQuery) fetchNextPage(ctx context.Context) error {
	q.mu.Lock()
	if q.exhausted {
		q.mu.Unlock()
		return nil
	}
	nextURL := q.nextURL
	q.mu.Unlock()

	if nextURL == "" {
		q.mu.Lock()
		q.exhausted = true
		if q.totalResults < 0 {
			q.totalResults = len(q.features)
		}
		q.mu.Unlock()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pageBackoff
	bo.MaxInterval = pageBackoff
	bo.Multiplier = 1
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0

	attempt := 0
	p, err := backoff.Retry(ctx, func() (page, error) {
		attempt++
		pg, err := q.requestPage(ctx, nextURL)
		if err != nil {
			logger.Warnf("query page fetch failed (attempt %d/%d): %v", attempt, maxPageAttempts, err)
			return page{}, err
		}
		return pg, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxPageAttempts))
	if err != nil {
		return fmt.Errorf("fetching query page after %d attempts: %w", maxPageAttempts, err)
	}

	q.mu.Lock()
	q.features = append(q.features, p.Features...)
	if p.Properties.TotalResults != nil {
		q.totalResults = *p.Properties.TotalResults
	}
	next := p.nextURL()
	if next == "" {
		q.exhausted = true
		if q.totalResults < 0 {
			q.totalResults = len(q.features)
		}
	} else {
		q.nextURL = setExactCount(next, false)
	}
	q.mu.Unlock()
	return nil
}

func (q *FeatureQuery) requestPage(ctx context.Context, pageURL string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page{}, err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return page{}, cdseerrors.New(
			cdseerrors.TypeQueryPageFetchFailed,
			fmt.Sprintf("query endpoint returned status %d", resp.StatusCode),
		)
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, err
	}
	return p, nil
}
