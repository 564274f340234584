package models

import (
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// ListParams carries pagination and sorting for list endpoints.
type ListParams struct {
	Skip      int
	Limit     int
	SortBy    string
	SortOrder string
}

// Normalize clamps paging values and checks sort fields against allowed.
// The first allowed column is the default sort.
func (p *ListParams) Normalize(allowed []string) error {
	if p.Skip < 0 {
		p.Skip = 0
	}

	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}

	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}

	if p.SortBy == "" && len(allowed) > 0 {
		p.SortBy = allowed[0]
	}

	if !slices.Contains(allowed, p.SortBy) {
		return fmt.Errorf("%w: sort_by must be one of %s", ErrInvalidSort, strings.Join(allowed, ", "))
	}

	switch strings.ToLower(p.SortOrder) {
	case "", "desc":
		p.SortOrder = "DESC"
	case "asc":
		p.SortOrder = "ASC"
	default:
		return fmt.Errorf("%w: sort_order must be asc or desc", ErrInvalidSort)
	}

	return nil
}

// OrderBy renders the ORDER BY clause. Only safe after Normalize.
func (p *ListParams) OrderBy() string {
	return fmt.Sprintf("ORDER BY %s %s, id %s", p.SortBy, p.SortOrder, p.SortOrder)
}

// Page is a list result with the total count before paging.
type Page[T any] struct {
	Items []T
	Total int
}
