// Package pagination parses the cursor pagination query parameters shared by
// the list endpoints and provides the opaque token codec the repositories use
// for their resume cursors.
package pagination

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is the fallback number of items returned when the
	// client omits page_size.
	DefaultPageSize = 50
	// MaxPageSize caps page_size to prevent unbounded reads.
	MaxPageSize = 100
)

// Params carries the pagination values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options control the size bounds applied while parsing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses page_size and page_token from the request query string.
func FromRequest(r *http.Request, opts Options) Params {
	if r == nil {
		return FromQuery(nil, opts)
	}
	return FromQuery(r.URL.Query(), opts)
}

// FromQuery parses the supplied query values. Unparseable or non-positive
// page_size values fall back to the default; oversized requests are clamped.
func FromQuery(values url.Values, opts Options) Params {
	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	max := opts.MaxPageSize
	if max <= 0 {
		max = MaxPageSize
	}
	if fallback > max {
		fallback = max
	}

	params := Params{PageSize: fallback}
	if values == nil {
		return params
	}

	params.PageToken = strings.TrimSpace(values.Get("page_token"))
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			params.PageSize = size
		}
	}
	if params.PageSize > max {
		params.PageSize = max
	}
	return params
}

// ClampPageSize bounds a repository page size between the fallback and max.
func ClampPageSize(size, fallback, max int) int {
	if size <= 0 {
		return fallback
	}
	if size > max {
		return max
	}
	return size
}
