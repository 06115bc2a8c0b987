package pagination

import (
	"net/url"
	"strconv"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Pagination is an offset window over a stable ordering.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type PageInfo struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	NextOffset int  `json:"next_offset,omitempty"`
	HasMore    bool `json:"has_more"`
}

// Normalize clamps limit into [1, max] and offset to >= 0.
func (p Pagination) Normalize(max int) Pagination {
	if max <= 0 {
		max = MaxLimit
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > max {
		p.Limit = max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// FromQuery reads "limit" and "offset" query parameters, ignoring malformed values.
func FromQuery(q url.Values) Pagination {
	var p Pagination
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		p.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		p.Offset = v
	}
	return p
}

// BuildPageInfo expects data fetched with limit+1 rows so that a full extra row signals more.
func BuildPageInfo[T any](data []T, p Pagination) ([]T, *PageInfo) {
	info := &PageInfo{Offset: p.Offset, Limit: p.Limit}
	if len(data) > p.Limit {
		data = data[:p.Limit]
		info.HasMore = true
		info.NextOffset = p.Offset + p.Limit
	}
	return data, info
}
