// Package collection fetches and caches each CDSE collection's
// search-term schema: the "describe" document listing valid search terms,
// their regex patterns, and their inclusive numeric bounds.
package collection

import (
	"context"
	"encoding/xml"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"sync"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
)

// DescribeURLTemplate is the CDSE OpenSearch "describe" document endpoint.
// It is a var, not a const, so tests can point it at a mock server.
var DescribeURLTemplate = "https://catalogue.dataspace.copernicus.eu/resto/api/collections/%s/describe.xml"

const maxDescribeAttempts = 10

// Term describes one valid search-term name for a collection.
type Term struct {
	Name         string
	Pattern      *regexp.Regexp
	MinInclusive *big.Float
	MaxInclusive *big.Float
	Title        string
}

// Descriptor is the immutable, per-collection search-term schema.
type Descriptor struct {
	Collection string
	Terms      map[string]Term
}

// Keys returns the descriptor's search-term names, used to build
// "available terms are: ..." messages.
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d.Terms))
	for k := range d.Terms {
		keys = append(keys, k)
	}
	return keys
}

// Cache memoises descriptors per collection, process-wide for the
// lifetime of the *Cache value (one instance is created per run and
// threaded through, rather than a package-level global).
type Cache struct {
	mu      sync.Mutex
	entries map[string]Descriptor
	client  *http.Client
}

// New constructs an empty Cache. client is reused for every describe.xml
// fetch; pass nil to use a default retrying client.
func New(client *http.Client) *Cache {
	if client == nil {
		client = httpclient.New(httpclient.Options{MaxRetries: maxDescribeAttempts - 1})
	}
	return &Cache{entries: make(map[string]Descriptor), client: client}
}

// Describe returns the search-term descriptor for collection, fetching and
// parsing describe.xml on first use and memoising the result thereafter.
func (c *Cache) Describe(ctx context.Context, collection string) (Descriptor, error) {
	c.mu.Lock()
	if d, ok := c.entries[collection]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := c.fetch(ctx, collection)
	if err != nil {
		return Descriptor{}, err
	}

	c.mu.Lock()
	// Another goroutine may have filled this concurrently; both computed
	// values are deterministic for the same collection, so last write is
	// fine (idempotent double-fill, per the spec's design note).
	c.entries[collection] = d
	c.mu.Unlock()
	return d, nil
}

func (c *Cache) fetch(ctx context.Context, collection string) (Descriptor, error) {
	url := fmt.Sprintf(DescribeURLTemplate, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Descriptor{}, cdseerrors.Wrap(cdseerrors.TypeUnknownCollection, collection, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Descriptor{}, cdseerrors.Wrap(cdseerrors.TypeUnknownCollection, collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, cdseerrors.New(
			cdseerrors.TypeUnknownCollection,
			fmt.Sprintf("unable to find collection %q (status %d); see https://documentation.dataspace.copernicus.eu/APIs/OpenSearch.html#collections", collection, resp.StatusCode),
		)
	}

	var doc openSearchDescription
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Descriptor{}, cdseerrors.Wrap(cdseerrors.TypeUnknownCollection, collection, err)
	}

	d := Descriptor{Collection: collection, Terms: make(map[string]Term)}
	for _, u := range doc.URLs {
		if u.Type != "application/json" {
			continue
		}
		for _, p := range u.Parameters {
			if p.Name == "" {
				continue
			}
			term := Term{Name: p.Name, Title: p.Title}
			if p.Pattern != "" {
				re, err := regexp.Compile(p.Pattern)
				if err == nil {
					term.Pattern = re
				}
			}
			if p.MinInclusive != "" {
				if f, ok := new(big.Float).SetString(p.MinInclusive); ok {
					term.MinInclusive = f
				}
			}
			if p.MaxInclusive != "" {
				if f, ok := new(big.Float).SetString(p.MaxInclusive); ok {
					term.MaxInclusive = f
				}
			}
			d.Terms[p.Name] = term
		}
	}
	return d, nil
}

// openSearchDescription mirrors the OpenSearch description document's
// shape closely enough to pull out the JSON Url node's parameter list.
type openSearchDescription struct {
	XMLName xml.Name   `xml:"OpenSearchDescription"`
	URLs    []urlNode  `xml:"Url"`
}

type urlNode struct {
	Type       string          `xml:"type,attr"`
	Parameters []parameterNode `xml:",any"`
}

type parameterNode struct {
	Name         string `xml:"name,attr"`
	Pattern      string `xml:"pattern,attr"`
	MinInclusive string `xml:"minInclusive,attr"`
	MaxInclusive string `xml:"maxInclusive,attr"`
	Title        string `xml:"title,attr"`
}
