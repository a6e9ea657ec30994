package remote

import "errors"

var (
	// ErrUnauthenticated is returned when a write is attempted without a
	// signed-in user.
	ErrUnauthenticated = errors.New("usuario no autenticado")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrRealtimeUnsupported is returned by backends without a change feed.
	ErrRealtimeUnsupported = errors.New("realtime subscriptions not supported by backend")

	// ErrUnknownTable is returned for table names outside Tables.
	ErrUnknownTable = errors.New("unknown table")

	// ErrClosed is returned after the client has been closed.
	ErrClosed = errors.New("client closed")
)
