package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/omochice/toy-socket-echo/internal/session"
)

func newTracedHandler(t *testing.T) (*session.Handler, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h, _ := newHandler(t, session.WithTracer(provider.Tracer("session-test")))
	return h, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSession_Span(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(conn *mockConn)
		wantReason string
		wantCode   codes.Code
	}{
		{
			name:       "peer close",
			prepare:    func(conn *mockConn) { close(conn.readCh) },
			wantReason: "closed",
			wantCode:   codes.Unset,
		},
		{
			name:       "read error",
			prepare:    func(conn *mockConn) { conn.readErr = errors.New("malformed frame") },
			wantReason: "read_error",
			wantCode:   codes.Error,
		},
		{
			name: "write error",
			prepare: func(conn *mockConn) {
				conn.writeErr = errors.New("broken pipe")
				conn.readCh <- "doomed"
			},
			wantReason: "write_error",
			wantCode:   codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, recorder := newTracedHandler(t)
			conn := newMockConn("127.0.0.1:1234")
			tt.prepare(conn)

			h.Serve(context.Background(), conn)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]

			assert.Equal(t, "session", span.Name())
			assert.Equal(t, tt.wantCode, span.Status().Code)

			reason, ok := spanAttr(span, "session.close_reason")
			require.True(t, ok)
			assert.Equal(t, tt.wantReason, reason.AsString())

			id, ok := spanAttr(span, "session.id")
			require.True(t, ok)
			assert.NotEmpty(t, id.AsString())
		})
	}
}

func TestSession_OneSpanPerConnection(t *testing.T) {
	h, recorder := newTracedHandler(t)

	for i := 0; i < 3; i++ {
		conn := newMockConn("127.0.0.1:1234")
		close(conn.readCh)
		h.Serve(context.Background(), conn)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	ids := map[string]bool{}
	for _, span := range spans {
		id, _ := spanAttr(span, "session.id")
		ids[id.AsString()] = true
	}
	assert.Len(t, ids, 3)
}
