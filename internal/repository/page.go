package repository

import (
	"errors"
	"strings"
)

// ErrUnknownSortProperty is returned when a sort references a property
// outside the implementation's column whitelist.
var ErrUnknownSortProperty = errors.New("unknown sort property")

// Direction is a sort direction for an Order clause.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order pairs a domain property with a sort direction.
// Properties are domain names (e.g. "lastName"), not column names;
// implementations map them to columns through a whitelist.
type Order struct {
	Property  string
	Direction Direction
}

// PageRequest holds page-based pagination and sorting parameters.
// Page is zero-based.
type PageRequest struct {
	Page int
	Size int
	Sort []Order
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize returns a copy with page/size clamped to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset converts page/size into a row offset.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// ParseOrder parses a "property,direction" sort expression (e.g.
// "lastName,desc"). Direction defaults to ascending when omitted.
func ParseOrder(expr string) (Order, bool) {
	parts := strings.SplitN(expr, ",", 2)
	prop := strings.TrimSpace(parts[0])
	if prop == "" {
		return Order{}, false
	}
	o := Order{Property: prop, Direction: Asc}
	if len(parts) == 2 {
		switch strings.ToLower(strings.TrimSpace(parts[1])) {
		case "desc":
			o.Direction = Desc
		case "asc", "":
			o.Direction = Asc
		default:
			return Order{}, false
		}
	}
	return o, true
}

// Page is a generic pagination result wrapper.
// T is typically a model type.
type Page[T any] struct {
	Items         []T
	TotalElements int
	Page          int
	Size          int
}

// TotalPages derives the page count from the total element count.
func (p *Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.TotalElements + p.Size - 1) / p.Size
}

// HasNext reports whether a following page exists.
func (p *Page[T]) HasNext() bool {
	return p.Page+1 < p.TotalPages()
}
