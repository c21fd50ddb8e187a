// Package query builds validated CDSE OpenSearch query URLs and exposes a
// lazy, paginated, re-entrant iterator over the matching features.
package query

import (
	"encoding/json"
)

// Feature is a single catalogue result. The package treats it as opaque,
// read-through JSON; only the fields the core relies on are modelled here,
// and unrecognised fields survive round trips via the Raw payload.
type Feature struct {
	ID         string          `json:"id"`
	Properties Properties      `json:"properties"`
	Raw        json.RawMessage `json:"-"`
}

// Properties is the subset of a feature's "properties" object the
// download engine and CLI rely on.
type Properties struct {
	Title      string     `json:"title"`
	Collection string     `json:"collection"`
	Services   *Services  `json:"services,omitempty"`
	Links      []Link     `json:"links,omitempty"`
}

// Services carries the direct-download URL, when the provider exposes one.
type Services struct {
	Download *Download `json:"download,omitempty"`
}

// Download holds the product's full-archive download URL.
type Download struct {
	URL string `json:"url"`
}

// Link is one entry in a feature's properties.links array.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// DownloadURL returns the feature's full-product download URL, or "" if
// the provider didn't expose one.
func (f Feature) DownloadURL() string {
	if f.Properties.Services == nil || f.Properties.Services.Download == nil {
		return ""
	}
	return f.Properties.Services.Download.URL
}

// UnmarshalJSON preserves the original payload in Raw while still
// populating the typed fields, so a feature can be read-through and later
// re-serialised (e.g. for `query search --json`) without losing fields the
// core doesn't model.
func (f *Feature) UnmarshalJSON(data []byte) error {
	type alias Feature
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Feature(a)
	f.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original payload when available, falling back to
// the typed fields otherwise.
func (f Feature) MarshalJSON() ([]byte, error) {
	if len(f.Raw) > 0 {
		return f.Raw, nil
	}
	type alias Feature
	return json.Marshal(alias(f))
}

// page is the shape of one OpenSearch search.json response.
type page struct {
	Features   []Feature      `json:"features"`
	Properties pageProperties `json:"properties"`
}

type pageProperties struct {
	TotalResults *int       `json:"totalResults"`
	Links        []Link     `json:"links"`
}

func (p page) nextURL() string {
	for _, l := range p.Properties.Links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}
