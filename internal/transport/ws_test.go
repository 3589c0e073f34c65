package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ackServer accepts WebSocket connections, reads one message per delivery,
// and answers with the configured ack.
func ackServer(t *testing.T, ack wsAck) (*httptest.Server, *[]string) {
	t.Helper()

	var received []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received = append(received, string(data))
			if err := wsjson.Write(ctx, conn, ack); err != nil {
				return
			}
		}
	}))
	return server, &received
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWS_Deliver(t *testing.T) {
	server, received := ackServer(t, wsAck{OK: true})
	defer server.Close()

	tr := NewWS(wsURL(server), "", nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Deliver(ctx, []byte(`{"id":"op-1"}`)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := tr.Deliver(ctx, []byte(`{"id":"op-2"}`)); err != nil {
		t.Fatalf("second Deliver failed: %v", err)
	}

	if len(*received) != 2 {
		t.Errorf("server received %d messages, want 2", len(*received))
	}
}

func TestWS_DeliverRejectedAck(t *testing.T) {
	server, _ := ackServer(t, wsAck{OK: false, Error: "unknown session"})
	defer server.Close()

	tr := NewWS(wsURL(server), "", nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := tr.Deliver(ctx, []byte(`{"id":"op-1"}`))
	if err == nil {
		t.Fatal("expected error for rejected ack")
	}
	if !strings.Contains(err.Error(), "unknown session") {
		t.Errorf("error = %v, want backend reason included", err)
	}
}

func TestWS_DeliverDialFailure(t *testing.T) {
	tr := NewWS("ws://127.0.0.1:1/never", "", nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Deliver(ctx, []byte("{}")); err == nil {
		t.Error("expected dial error")
	}
}

func TestWS_RedialsAfterServerRestart(t *testing.T) {
	server, _ := ackServer(t, wsAck{OK: true})

	tr := NewWS(wsURL(server), "", nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Deliver(ctx, []byte(`{"id":"op-1"}`)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	// Kill the connection out from under the transport.
	server.CloseClientConnections()
	server.Close()

	if err := tr.Deliver(ctx, []byte(`{"id":"op-2"}`)); err == nil {
		t.Error("expected failure against closed server")
	}
}
