package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/omochice/toy-socket-echo/internal/client"
	"github.com/omochice/toy-socket-echo/pkg/protocol"
)

// terminalSink renders manager events as plain lines.
type terminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out}
}

func (s *terminalSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *terminalSink) StatusChanged(online bool) {
	if online {
		s.printf("* connected")
		return
	}
	s.printf("* disconnected")
}

func (s *terminalSink) MessageReceived(text string, origin protocol.Origin) {
	switch origin {
	case protocol.OriginClient:
		s.printf("> %s", text)
	case protocol.OriginError:
		s.printf("! %s", text)
	default:
		s.printf("< %s", text)
	}
}

func (s *terminalSink) ErrorShown(kind client.ErrorKind) {
	s.printf("! %s", kind.Detail())
}

func (s *terminalSink) ErrorCleared() {}
