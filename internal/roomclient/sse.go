package roomclient

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mcoot/planning-poker/internal/model"
)

// SSETransport streams room events over server-sent events
type SSETransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewSSETransport creates an SSE transport for the server at baseURL
func NewSSETransport(baseURL string) *SSETransport {
	return &SSETransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
	}
}

// Connect opens the room's event stream
func (t *SSETransport) Connect(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (Stream, error) {
	// The stream outlives ctx; ctx only bounds getting the response headers
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.baseURL+roomPath(roomID, "/events"), nil)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+string(playerID))

	resp, err := t.httpClient.Do(req)
	if !stop() || err != nil {
		cancel()
		if err == nil {
			_ = resp.Body.Close()
			err = ctx.Err()
		}
		return nil, transportError("connect", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, handshakeFailed(resp, body)
	}

	// Snapshots carry the whole vote history on one data line, so lines are
	// read without a length cap
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Recv parses frames until one carries an event. Comment lines are keepalives.
func (s *sseStream) Recv() (model.Event, error) {
	var currentEvent string
	var dataLines []string

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			// A partial line at EOF never completes a frame
			return nil, transportError("read", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			// End of event
			if len(dataLines) > 0 {
				return decodeFrame(currentEvent, []byte(strings.Join(dataLines, "\n"))), nil
			}
			currentEvent = ""
			dataLines = nil
		}
	}
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}
