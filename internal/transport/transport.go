// Package transport provides delivery adapters for the offline sync queue.
// Each adapter makes exactly one delivery attempt per call; the queue owns
// the retry schedule and backoff, so a transport never retries internally.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helix-desktop/helix-sync/internal/config"
	"github.com/helix-desktop/helix-sync/internal/queue"
)

// Transport delivers one serialized operation per call.
type Transport interface {
	Deliver(ctx context.Context, payload []byte) error
	Close() error
}

// Sync adapts a Transport into a queue sync function. The whole operation
// envelope (id, type, data, attempts) goes over the wire so the backend can
// deduplicate redelivered attempts by operation id.
func Sync[T any](tr Transport) queue.SyncFunc[T] {
	return func(ctx context.Context, op *queue.Operation[T]) error {
		payload, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("marshal operation %s: %w", op.ID, err)
		}
		return tr.Deliver(ctx, payload)
	}
}

// FromConfig builds the transport selected in the daemon config. A nil
// Transport (no error) means no transport is configured and drains are
// manual.
func FromConfig(cfg config.TransportConfig, logger *slog.Logger) (Transport, error) {
	switch cfg.Kind {
	case "http":
		return NewHTTP(cfg.URL, cfg.Token, logger), nil
	case "websocket":
		return NewWS(cfg.URL, cfg.Token, logger), nil
	case "mqtt":
		return NewMQTT(cfg.Broker, cfg.Topic, logger)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Kind)
	}
}
