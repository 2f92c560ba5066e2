package roomclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcoot/planning-poker/internal/model"
)

// Transport names accepted by NewTransport
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Stream is one live push connection to a room. Recv blocks until the next
// event arrives or the connection fails; Close unblocks it.
type Stream interface {
	Recv() (model.Event, error)
	Close() error
}

// Transport opens push streams. The context passed to Connect bounds the
// handshake only; the stream lives until it is closed or fails.
type Transport interface {
	Connect(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (Stream, error)
}

// NewTransport creates the named transport for the server at baseURL
func NewTransport(kind, baseURL string) (Transport, error) {
	switch strings.ToLower(kind) {
	case "", TransportSSE:
		return NewSSETransport(baseURL), nil
	case TransportWebSocket, "websocket":
		return NewWebSocketTransport(baseURL), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: must be %q or %q", kind, TransportSSE, TransportWebSocket)
	}
}

// handshakeFailed maps a rejected stream handshake to a model error
func handshakeFailed(resp *http.Response, body []byte) error {
	if resp == nil {
		return model.ErrTransport
	}
	return decodeError(resp.StatusCode, body)
}

// transportError marks a broken stream
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
}

// decodeFrame parses an event envelope. A frame that cannot be decoded is
// surfaced as an unknown event so the receiver resyncs instead of failing.
func decodeFrame(name string, data []byte) model.Event {
	event, err := model.DecodeEvent(data)
	if err != nil {
		return model.UnknownEvent{Kind: model.EventType(name), Payload: append([]byte(nil), data...)}
	}
	return event
}
