package pagination

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPage is used when the client omits page or sends a non-numeric value.
	DefaultPage = 1
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 10
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Params carries the 1-based page window requested by the client.
type Params struct {
	Page     int
	PageSize int
}

// Offset returns the number of rows skipped before the requested page.
func (p Params) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Validate reports ErrInvalidPage when the window starts beyond the addressable offset range.
func (p Params) Validate() error {
	if p.PageSize > 0 && p.Page > 1 && p.Page-1 > math.MaxInt/p.PageSize {
		return fmt.Errorf("%w: page %d is out of range for pageSize %d", ErrInvalidPage, p.Page, p.PageSize)
	}
	return nil
}

// Options control how Parse behaves for a given handler layer.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

var (
	ErrInvalidPage     = errors.New("pagination: invalid page")
	ErrInvalidPageSize = errors.New("pagination: invalid pageSize")
)

// FromRequest parses the page window from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page and pageSize from the query string. Missing or non-numeric values fall back to
// the defaults. Numeric values below one, or a page whose offset overflows, are rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	page, err := parsePositive(values.Get("page"), DefaultPage, ErrInvalidPage)
	if err != nil {
		return Params{}, err
	}

	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	pageSize, err := parsePositive(values.Get("pageSize"), defaultPageSize, ErrInvalidPageSize)
	if err != nil {
		return Params{}, err
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	params := Params{Page: page, PageSize: pageSize}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

func parsePositive(raw string, fallback int, invalid error) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) {
		if value > 0 {
			// saturated; the page window check or the pageSize clamp decides
			return value, nil
		}
		return 0, fmt.Errorf("%w: out of range", invalid)
	}
	if err != nil {
		return fallback, nil
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", invalid)
	}
	return value, nil
}

// Must ensures Page and PageSize are always initialised before use.
func Must(params Params) Params {
	if params.Page <= 0 {
		params.Page = DefaultPage
	}
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}
