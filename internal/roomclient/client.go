// Package roomclient talks to a poker server over HTTP and its push streams.
package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcoot/planning-poker/internal/api/apierr"
	"github.com/mcoot/planning-poker/internal/api/request"
	"github.com/mcoot/planning-poker/internal/api/response"
	"github.com/mcoot/planning-poker/internal/model"
)

// DefaultTimeout bounds a single command round trip
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for the room API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BaseURL returns the server address the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs an HTTP request. Error responses are mapped back to model
// errors; anything that prevents a response becomes model.ErrTransport.
func (c *Client) do(ctx context.Context, method, path string, playerID model.PlayerID, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if playerID != "" {
		req.Header.Set("Authorization", "Bearer "+string(playerID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", model.ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// decodeError turns an error response body into a model error
func decodeError(status int, body []byte) error {
	var errResp apierr.ErrorResponse
	_ = json.Unmarshal(body, &errResp)
	return apierr.FromResponse(status, errResp)
}

func roomPath(roomID model.RoomID, suffix string) string {
	return "/api/v1/rooms/" + url.PathEscape(string(roomID)) + suffix
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	var health response.Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", "", nil, &health); err != nil {
		return err
	}
	if health.Status != "ok" {
		return fmt.Errorf("%w: server reported status %q", model.ErrTransport, health.Status)
	}
	return nil
}

// CreateRoom creates a room and returns it together with the creator's id
func (c *Client) CreateRoom(ctx context.Context, name string) (model.RoomID, model.PlayerID, error) {
	var m response.Membership
	err := c.do(ctx, http.MethodPost, "/api/v1/rooms", "", request.CreateRoomRequest{Name: name}, &m)
	if err != nil {
		return "", "", err
	}
	return m.RoomID, m.PlayerID, nil
}

// JoinRoom joins a room as a new player
func (c *Client) JoinRoom(ctx context.Context, roomID model.RoomID, name string) (model.PlayerID, error) {
	var m response.Membership
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "/join"), "", request.JoinRoomRequest{Name: name}, &m)
	if err != nil {
		return "", err
	}
	return m.PlayerID, nil
}

// FetchRoom returns the room as playerID sees it
func (c *Client) FetchRoom(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error) {
	var room model.Room
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, ""), playerID, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Summary returns the room's statistics and history
func (c *Client) Summary(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*response.Summary, error) {
	var summary response.Summary
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "/summary"), playerID, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Vote submits a card for the current round
func (c *Client) Vote(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, card model.Card) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/vote"), playerID, request.VoteRequest{Card: string(card)}, nil)
}

// Reveal shows every vote
func (c *Client) Reveal(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/reveal"), playerID, nil, nil)
}

// Reset archives the round and starts a new one
func (c *Client) Reset(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/reset"), playerID, nil, nil)
}

// SetLink sets the room's link. An empty link clears it.
func (c *Client) SetLink(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, link string) error {
	return c.do(ctx, http.MethodPatch, roomPath(roomID, "/link"), playerID, request.SetLinkRequest{Link: link}, nil)
}

// TransferCreator hands the creator role from one player to another
func (c *Client) TransferCreator(ctx context.Context, roomID model.RoomID, fromID, toID model.PlayerID) error {
	body := request.TransferCreatorRequest{NewCreatorID: string(toID)}
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/transfer-creator"), fromID, body, nil)
}

// ClaimCreator takes the creator role of a room that has none
func (c *Client) ClaimCreator(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/claim-creator"), playerID, nil, nil)
}

// Leave removes the player from the room
func (c *Client) Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/leave"), playerID, nil, nil)
}
