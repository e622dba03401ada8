package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-socket-echo/internal/session"
)

func TestRegistry_Accept(t *testing.T) {
	registry := session.NewRegistry()
	handler := session.NewHandler(registry)

	s := handler.Accept(context.Background(), newMockConn("127.0.0.1:1234"))
	defer s.Close()

	assert.Equal(t, 1, registry.Len())
	got, ok := registry.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_MultipleSessions(t *testing.T) {
	registry := session.NewRegistry()
	handler := session.NewHandler(registry)

	for i := 0; i < 3; i++ {
		handler.Accept(context.Background(), newMockConn("127.0.0.1:1234"))
	}

	assert.Equal(t, 3, registry.Len())

	sessions := registry.Sessions()
	require.Len(t, sessions, 3)
	assert.Less(t, sessions[0].ID, sessions[1].ID)

	registry.CloseAll()
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := session.NewRegistry()
	handler := session.NewHandler(registry)

	s := handler.Accept(context.Background(), newMockConn("127.0.0.1:1234"))
	s.Close()

	assert.False(t, registry.Unregister(s.ID))
	assert.False(t, registry.Unregister("unknown"))
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_ContextCancelReapsSession(t *testing.T) {
	registry := session.NewRegistry()
	handler := session.NewHandler(registry)

	ctx, cancel := context.WithCancel(context.Background())
	s := handler.Accept(ctx, newMockConn("127.0.0.1:1234"))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not reaped after context cancel")
	}
	assert.Equal(t, 0, registry.Len())
}
