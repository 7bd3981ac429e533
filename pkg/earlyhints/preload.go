// Package earlyhints builds and serves Early Hints preload test navigations.
//
// A test page calls LoaderURL to get the address of the loader, navigates
// there, and the Loader answers with a 103 Early Hints response listing the
// preloads before serving the test document. The test document reads the
// same preloads back with PreloadsFromRequest (server side) or from its own
// query string (browser side).
package earlyhints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	// LoaderPath is the loader location relative to the page that starts
	// the navigation.
	LoaderPath = "resources/early-hints-test-loader"

	paramTestURL  = "test_url"
	paramPreloads = "preloads"
)

var (
	// ErrMissingTestURL is returned when the loader query has no test_url.
	ErrMissingTestURL = errors.New("earlyhints: missing test_url parameter")
	// ErrInvalidPreload is returned when a preloads value is not a JSON
	// preload descriptor or its as_attr is not an HTTP token.
	ErrInvalidPreload = errors.New("earlyhints: invalid preload")
)

// Preload is one resource announced in the Early Hints response. URL is
// relative to the test URL. As is written into the Link header unquoted, so
// it must be a token ("script", "style", "fetch").
type Preload struct {
	URL string `json:"url"`
	As  string `json:"as_attr"`
}

func (p Preload) validate() error {
	if !httpguts.ValidHeaderFieldName(p.As) {
		return fmt.Errorf("%w: as_attr %q is not a token", ErrInvalidPreload, p.As)
	}
	return nil
}

// LoaderParams is everything the loader needs to answer one navigation.
type LoaderParams struct {
	TestURL  string
	Preloads []Preload
}

// EncodeParams serializes testURL and preloads into loader query parameters:
// test_url once, then one JSON-encoded preloads value per descriptor in order.
func EncodeParams(testURL string, preloads []Preload) (url.Values, error) {
	v := url.Values{}
	v.Set(paramTestURL, testURL)
	for _, p := range preloads {
		if err := p.validate(); err != nil {
			return nil, err
		}
		enc, err := encodePreload(p)
		if err != nil {
			return nil, err
		}
		v.Add(paramPreloads, enc)
	}
	return v, nil
}

// encodePreload matches JSON.stringify output, which does not escape HTML
// characters.
func encodePreload(p Preload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("earlyhints: encode preload %q: %w", p.URL, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// LoaderURL returns the loader URL for a navigation started from base.
func LoaderURL(base *url.URL, testURL string, preloads []Preload) (*url.URL, error) {
	if base == nil {
		return nil, errors.New("earlyhints: nil base URL")
	}
	params, err := EncodeParams(testURL, preloads)
	if err != nil {
		return nil, err
	}
	ref := &url.URL{Path: LoaderPath, RawQuery: params.Encode()}
	return base.ResolveReference(ref), nil
}

// DecodePreloads parses every preloads value in v, in order. A query with no
// preloads yields an empty, non-nil slice.
func DecodePreloads(v url.Values) ([]Preload, error) {
	raw := v[paramPreloads]
	preloads := make([]Preload, 0, len(raw))
	for i, s := range raw {
		var p Preload
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("%w: preloads[%d]: %w", ErrInvalidPreload, i, err)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("preloads[%d]: %w", i, err)
		}
		preloads = append(preloads, p)
	}
	return preloads, nil
}

// ParseLoaderParams extracts the loader parameters from a query.
func ParseLoaderParams(v url.Values) (LoaderParams, error) {
	testURL := v.Get(paramTestURL)
	if testURL == "" {
		return LoaderParams{}, ErrMissingTestURL
	}
	preloads, err := DecodePreloads(v)
	if err != nil {
		return LoaderParams{}, err
	}
	return LoaderParams{TestURL: testURL, Preloads: preloads}, nil
}

// PreloadsFromRequest reads the preloads a navigation was started with from
// the request query. It is the only place the request URL is consulted.
func PreloadsFromRequest(r *http.Request) ([]Preload, error) {
	return DecodePreloads(r.URL.Query())
}
