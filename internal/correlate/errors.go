package correlate

import "errors"

var (
	// ErrDuplicateKey means a key was sent twice while still pending. The
	// newer send time replaces the old one.
	ErrDuplicateKey = errors.New("correlate: duplicate pending key")

	// ErrUnmatched is returned for responses with no pending entry.
	ErrUnmatched = errors.New("correlate: unmatched response")

	// ErrOutOfOrder is returned when a response matches a transaction entry
	// that is not at the head of its transaction.
	ErrOutOfOrder = errors.New("correlate: response out of order")

	// ErrClosed is returned once the tracker has been discarded.
	ErrClosed = errors.New("correlate: tracker closed")

	ErrUnknownTransaction = errors.New("correlate: unknown transaction")
)
