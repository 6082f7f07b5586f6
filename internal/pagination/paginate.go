// Package pagination implements the Paginator (C6): a pure, stateless
// slicing function shared by the data-fetch and file-browse endpoints.
package pagination

import (
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

const (
	minPageSize = 1
	maxPageSize = 500
)

// Page is the paginated projection of a Table.
type Page struct {
	Data         *model.Table `json:"data"`
	CurrentPage  int          `json:"current_page"`
	TotalPages   int          `json:"total_pages"`
	TotalRecords int          `json:"total_records"`
}

// Paginate slices result into the requested page. Out-of-range page and
// page_size are clamped to the nearest valid value rather than
// rejected; the same (result, page, page_size) always yields a
// byte-equal Page.
func Paginate(result *model.Table, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total := result.Len()
	totalPages := ceilDiv(total, pageSize)
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize

	return Page{
		Data:         result.Slice(start, end),
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalRecords: total,
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}
