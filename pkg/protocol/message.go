// Package protocol defines the text wire contract shared by the echo server
// and the connection manager.
package protocol

const (
	// Heartbeat is the reserved liveness payload. It travels in both
	// directions and is never application data.
	Heartbeat = "--heartbeat--"

	// EchoPrefix marks a payload as server-originated.
	EchoPrefix = "Server received: "
)

// Origin tells the consumer where a displayed message came from.
type Origin int

const (
	OriginServer Origin = iota
	OriginClient
	OriginError
)

// String returns the string representation of Origin
func (o Origin) String() string {
	switch o {
	case OriginServer:
		return "server"
	case OriginClient:
		return "client"
	case OriginError:
		return "error"
	default:
		return "unknown"
	}
}

// IsHeartbeat reports whether payload is the liveness sentinel.
// The comparison is exact: surrounding whitespace makes it ordinary data.
func IsHeartbeat(payload string) bool {
	return payload == Heartbeat
}

// Echo wraps an inbound payload into the server acknowledgement.
func Echo(payload string) string {
	return EchoPrefix + payload
}
