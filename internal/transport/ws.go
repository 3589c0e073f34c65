package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsAck is the backend's reply to a delivered operation.
type wsAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WS delivers operations over a WebSocket connection to the gateway. The
// connection is dialed lazily on first delivery and redialed after any
// failure, so a drain that starts while the link is flapping just reports
// failed attempts back to the queue.
type WS struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	token  string
	logger *slog.Logger
}

// NewWS creates a WebSocket transport targeting url.
func NewWS(url, token string, logger *slog.Logger) *WS {
	if logger == nil {
		logger = slog.Default()
	}
	return &WS{
		url:    url,
		token:  token,
		logger: logger.With("transport", "websocket"),
	}
}

func (w *WS) Deliver(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connLocked(ctx)
	if err != nil {
		return err
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		w.dropLocked()
		return fmt.Errorf("write operation: %w", err)
	}

	var ack wsAck
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		w.dropLocked()
		return fmt.Errorf("read ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("backend rejected operation: %s", ack.Error)
	}
	return nil
}

// connLocked returns the live connection, dialing if needed.
func (w *WS) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}

	opts := &websocket.DialOptions{}
	if w.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + w.token}}
	}

	conn, _, err := websocket.Dial(ctx, w.url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.logger.Debug("connected", "url", w.url)
	w.conn = conn
	return conn, nil
}

// dropLocked discards a broken connection so the next delivery redials.
func (w *WS) dropLocked() {
	if w.conn != nil {
		_ = w.conn.Close(websocket.StatusInternalError, "transport reset")
		w.conn = nil
	}
}

func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(websocket.StatusNormalClosure, "shutting down")
	w.conn = nil
	return err
}
