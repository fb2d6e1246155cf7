package pagination

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// Params are page-number pagination parameters
type Params struct {
	Page     int
	PageSize int
}

// Offset returns the number of rows to skip
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ParseParams reads page (>= 1) and page_size (1..MaxLimit) from the query string
func ParseParams(r *http.Request) (Params, error) {
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		return Params{}, err
	}
	if page < 1 {
		return Params{}, queryError("page", "Input should be greater than or equal to 1")
	}

	size, err := httputil.ParseQueryInt(r, "page_size", DefaultLimit)
	if err != nil {
		return Params{}, err
	}
	if size < 1 || size > MaxLimit {
		return Params{}, queryError("page_size", fmt.Sprintf("Input should be between 1 and %d", MaxLimit))
	}

	return Params{Page: page, PageSize: size}, nil
}

// PageInfo describes an offset page
type PageInfo struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	Pages       int  `json:"pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// NewPageInfo computes page counts for total rows
func NewPageInfo(total int, p Params) PageInfo {
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return PageInfo{
		Total:       total,
		Page:        p.Page,
		PageSize:    p.PageSize,
		Pages:       pages,
		HasNext:     p.Page < pages,
		HasPrevious: p.Page > 1,
	}
}

// OffsetPage is a page-number paginated response
type OffsetPage[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

// NewOffsetPage builds the response body
func NewOffsetPage[T any](items []T, total int, p Params) OffsetPage[T] {
	if items == nil {
		items = []T{}
	}
	return OffsetPage[T]{Items: items, PageInfo: NewPageInfo(total, p)}
}
