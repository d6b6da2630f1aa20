package httpapi

import (
	"math"
	"net/http"
	"strconv"
)

// defaultPageLimit and maxPageLimit bound /api/emails and
// /api/emails-with-summaries pagination. Adapted from the teacher's
// internal/api/pagination.go (same page/limit/offset math), generalized
// from a single caller to any list endpoint in this package.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// pageParams holds parsed pagination values from query params.
type pageParams struct {
	Page   int
	Limit  int
	Offset int
}

// pageMeta contains pagination metadata for a paginatedResponse.
type pageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// paginatedResponse wraps list data with pagination metadata.
type paginatedResponse struct {
	Data       any      `json:"data"`
	Pagination pageMeta `json:"pagination"`
}

// parsePagination extracts page and limit from query params, defaulting
// and capping limit at defaultPageLimit/maxPageLimit.
func parsePagination(r *http.Request) pageParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return pageParams{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// newPaginatedResponse builds a paginatedResponse from data, the params
// that produced it, and the total row count.
func newPaginatedResponse(data any, params pageParams, total int64) paginatedResponse {
	totalPages := int(math.Ceil(float64(total) / float64(params.Limit)))
	if totalPages < 1 {
		totalPages = 1
	}

	return paginatedResponse{
		Data: data,
		Pagination: pageMeta{
			Page:       params.Page,
			Limit:      params.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    params.Page < totalPages,
		},
	}
}
