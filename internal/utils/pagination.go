// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
)

// Page bounds used by list endpoints.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s as a base-10 int after trimming spaces. Empty or
// malformed input yields def.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageRequest is a validated page/page_size pair.
type PageRequest struct {
	Page     int
	PageSize int
}

// ParsePage reads raw page and page_size values, applying defaults and
// clamping page to >= 1 and page size to [1, MaxPageSize].
func ParsePage(page, pageSize string) PageRequest {
	p := AtoiDefault(page, DefaultPage)
	if p < 1 {
		p = 1
	}
	ps := AtoiDefault(pageSize, DefaultPageSize)
	if ps < 1 {
		ps = 1
	}
	if ps > MaxPageSize {
		ps = MaxPageSize
	}
	return PageRequest{Page: p, PageSize: ps}
}

// Offset is the number of rows to skip for this page.
func (p PageRequest) Offset() int { return (p.Page - 1) * p.PageSize }

// PageInfo carries pagination metadata for list responses.
type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// NewPageInfo describes page p of a result set holding total items.
func NewPageInfo(p PageRequest, total int64) PageInfo {
	pages := 0
	if p.PageSize > 0 {
		pages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return PageInfo{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
	}
}
