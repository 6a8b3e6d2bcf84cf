package records

import "errors"

// ErrRecordNotFound is returned when a generic record lookup misses
var ErrRecordNotFound = errors.New("record not found")
