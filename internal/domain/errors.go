package domain

import "errors"

var (
	// ErrNotAFeed is returned when fetched bytes cannot be parsed as a
	// syndication document.
	ErrNotAFeed = errors.New("not a valid feed document")

	// ErrDuplicateURI is returned when a feed URI update or insert would
	// collide with another feed's URI.
	ErrDuplicateURI = errors.New("feed URI already exists")

	ErrFeedNotFound = errors.New("feed not found")

	ErrArticleNotFound = errors.New("article not found")
)
