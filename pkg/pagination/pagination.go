// Package pagination reads list paging from the query string and shapes the
// page envelope list endpoints return.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrInvalid = errors.New("pagination: invalid paging parameter")

type Params struct {
	Limit  int
	Offset int
}

// Limit reads ?limit=. A missing value yields 0 so the caller's own default
// applies; values above max are clamped when max > 0.
func Limit(c echo.Context, max int) (int, error) {
	v := c.QueryParam("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit %q", ErrInvalid, v)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// Parse reads ?limit=&offset= for offset-paged lists.
func Parse(c echo.Context) (Params, error) {
	limit, err := Limit(c, MaxLimit)
	if err != nil {
		return Params{}, err
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	p := Params{Limit: limit}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("%w: offset %q", ErrInvalid, v)
		}
		p.Offset = n
	}
	return p, nil
}

type Page[T any] struct {
	Data    []T    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Next    string `json:"next,omitempty"`
}

// NewPage wraps one page of items. When more rows remain, Next repeats the
// request's query against path with the following offset.
func NewPage[T any](items []T, total int, p Params, path string, query url.Values) Page[T] {
	if items == nil {
		items = []T{}
	}
	pg := Page[T]{
		Data:    items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(items) < total,
	}
	if pg.HasMore {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(p.Limit))
		q.Set("offset", strconv.Itoa(p.Offset+len(items)))
		pg.Next = path + "?" + q.Encode()
	}
	return pg
}
