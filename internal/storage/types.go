package storage

import (
	"errors"

	"github.com/scrypster/twinrag/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a compare-and-swap lost against a concurrent
	// writer, or a duplicate key on insert.
	ErrConflict = errors.New("conflict")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`      // 1-indexed
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 200).
	Limit int

	// SortBy specifies the field to sort by.
	SortBy string

	// SortOrder is "asc" or "desc" (default: "desc").
	SortOrder string

	// Status filters sources by status. Empty means no filter.
	Status types.SourceStatus

	// IncludeDeactivated includes soft-deactivated sources.
	IncludeDeactivated bool
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"title":      true,
		"status":     true,
	}
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
}

// Offset returns the row offset of the requested page.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status   types.JobStatus // empty means any
	SourceID string
	Limit    int // default 100
}

// VectorEntry is one embedding keyed by chunk id.
type VectorEntry struct {
	ChunkID  string
	SourceID string
	Vector   []float32
}

// VectorMatch is one nearest-neighbour hit.
type VectorMatch struct {
	ChunkID  string
	SourceID string
	Score    float64 // cosine similarity, higher is closer
}
