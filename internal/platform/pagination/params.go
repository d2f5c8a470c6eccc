package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize to keep list queries bounded.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 64
)

// Cursor is the Firestore cursor payload carried inside a page token.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params bundles paging and equality filters extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	// Filters maps an allowed query key to its values. Repeated keys and comma separated lists
	// are both accepted.
	Filters map[string][]string
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters lists query keys that may appear as filters; anything else is ignored.
	AllowedFilters []string
	// FilterValues optionally restricts the accepted values per filter key.
	FilterValues map[string][]string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes query values and returns normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
	}

	filters, err := parseFilters(values, opts)
	if err != nil {
		return Params{}, err
	}
	params.Filters = filters
	return params, nil
}

// First returns the first value of a filter or "".
func (p Params) First(key string) string {
	if values := p.Filters[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func parsePageSize(raw string, opts Options) (int, error) {
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

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxPageSize), nil
}

func parseFilters(values url.Values, opts Options) (map[string][]string, error) {
	var filters map[string][]string
	for _, key := range opts.AllowedFilters {
		var accepted map[string]struct{}
		if allowed := opts.FilterValues[key]; len(allowed) > 0 {
			accepted = make(map[string]struct{}, len(allowed))
			for _, value := range allowed {
				accepted[value] = struct{}{}
			}
		}

		seen := make(map[string]struct{})
		for _, raw := range values[key] {
			for _, part := range strings.Split(raw, ",") {
				value := strings.TrimSpace(part)
				if value == "" {
					continue
				}
				if len(value) > maxFilterValueLength {
					return nil, fmt.Errorf("%w: %s value too long", ErrInvalidFilter, key)
				}
				if accepted != nil {
					value = strings.ToLower(value)
					if _, ok := accepted[value]; !ok {
						return nil, fmt.Errorf("%w: %s=%q is not supported", ErrInvalidFilter, key, value)
					}
				}
				if _, dup := seen[value]; dup {
					continue
				}
				seen[value] = struct{}{}
				if filters == nil {
					filters = make(map[string][]string)
				}
				filters[key] = append(filters[key], value)
			}
		}
	}
	return filters, nil
}
