package feeds

import "errors"

// ErrFeedNotFound is returned when a feed generator lookup misses
var ErrFeedNotFound = errors.New("feed generator not found")
