package lists

import "errors"

var (
	// ErrListNotFound is returned when a list lookup finds no matching record
	ErrListNotFound = errors.New("list not found")

	// ErrListItemNotFound is returned when a list item lookup or delete misses
	ErrListItemNotFound = errors.New("list item not found")
)
