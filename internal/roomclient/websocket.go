package roomclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/planning-poker/internal/model"
)

const (
	// The server pings every 30s; a peer silent for longer is gone
	wsReadWait = 75 * time.Second

	wsCloseWait = time.Second
)

// WebSocketTransport streams room events over a websocket
type WebSocketTransport struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWebSocketTransport creates a websocket transport for the server at
// baseURL, given with an http or https scheme
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	base := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	return &WebSocketTransport{
		baseURL: base,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

// Connect dials the room's websocket
func (t *WebSocketTransport) Connect(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+string(playerID))

	conn, resp, err := t.dialer.DialContext(ctx, t.baseURL+roomPath(roomID, "/ws"), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, handshakeFailed(resp, body)
		}
		return nil, transportError("connect", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsCloseWait))
	})

	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Recv reads the next text frame. Control frames are handled while reading.
func (s *wsStream) Recv() (model.Event, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, transportError("read", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return decodeFrame("", data), nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseWait))
		err = s.conn.Close()
	})
	return err
}
