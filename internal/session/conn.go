// Package session keeps the server-side registry of live connections and
// drives heartbeat and echo for each of them.
package session

import "context"

// Conn abstracts one accepted bidirectional text connection.
// This interface isolates transport details from session logic.
type Conn interface {
	// Read reads a single text frame.
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) (string, error)

	// Write sends a single text frame.
	Write(ctx context.Context, text string) error

	// Close closes the connection. Closing twice is harmless.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
