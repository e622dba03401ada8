// Package client implements the connection manager: one logical session
// against the echo server that survives transport loss, backs off between
// attempts and reports connection health to a Sink.
package client

import (
	"context"

	"github.com/omochice/toy-socket-echo/pkg/protocol"
)

// Conn is one established transport connection.
// Both the WebSocket transport and test doubles satisfy this interface.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) (string, error)

	// Write sends a single text frame.
	Write(ctx context.Context, text string) error

	// Close closes the connection. Closing twice is harmless.
	Close() error
}

// Dialer opens transport connections to the server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Sink receives the consumer-facing events of a Manager.
// Calls are made from the Manager's event loop and must not block.
type Sink interface {
	StatusChanged(online bool)
	MessageReceived(text string, origin protocol.Origin)
	ErrorShown(kind ErrorKind)
	ErrorCleared()
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) StatusChanged(bool)                      {}
func (NopSink) MessageReceived(string, protocol.Origin) {}
func (NopSink) ErrorShown(ErrorKind)                    {}
func (NopSink) ErrorCleared()                           {}
