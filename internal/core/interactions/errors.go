package interactions

import "errors"

var (
	// ErrLikeNotFound is returned when a like lookup or delete misses
	ErrLikeNotFound = errors.New("like not found")

	// ErrRepostNotFound is returned when a repost lookup or delete misses
	ErrRepostNotFound = errors.New("repost not found")
)
