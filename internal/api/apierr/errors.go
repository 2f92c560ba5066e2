package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcoot/planning-poker/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidName     = "INVALID_NAME"
	CodeInvalidCard     = "INVALID_CARD"
	CodeInvalidLink     = "INVALID_LINK"
	CodeMissingID       = "MISSING_ID"
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodePlayerNotFound  = "PLAYER_NOT_FOUND"
	CodeNotCreator      = "NOT_CREATOR"
	CodeAlreadyRevealed = "ALREADY_REVEALED"
	CodeNotRevealed     = "NOT_REVEALED"
	CodeNoVotes         = "NO_VOTES"
	CodeCreatorAssigned = "CREATOR_ASSIGNED"
	CodeAlreadyCreator  = "ALREADY_CREATOR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// sentinels maps every model sentinel to its wire code and status.
// The client side uses the same table in reverse.
var sentinels = []struct {
	err    error
	code   string
	status int
}{
	{model.ErrInvalidName, CodeInvalidName, http.StatusBadRequest},
	{model.ErrInvalidCard, CodeInvalidCard, http.StatusBadRequest},
	{model.ErrInvalidLink, CodeInvalidLink, http.StatusBadRequest},
	{model.ErrMissingID, CodeMissingID, http.StatusBadRequest},
	{model.ErrRoomNotFound, CodeRoomNotFound, http.StatusNotFound},
	{model.ErrPlayerNotFound, CodePlayerNotFound, http.StatusNotFound},
	{model.ErrNotCreator, CodeNotCreator, http.StatusForbidden},
	{model.ErrAlreadyRevealed, CodeAlreadyRevealed, http.StatusConflict},
	{model.ErrNotRevealed, CodeNotRevealed, http.StatusConflict},
	{model.ErrNoVotes, CodeNoVotes, http.StatusConflict},
	{model.ErrCreatorAssigned, CodeCreatorAssigned, http.StatusConflict},
	{model.ErrAlreadyCreator, CodeAlreadyCreator, http.StatusConflict},
}

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// StatusOf returns the HTTP status WriteError would use for err
func StatusOf(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &httpError{s.status, APIError{s.code, s.err.Error()}}
		}
	}

	// Unlisted model errors still map by kind
	switch model.KindOf(err) {
	case model.KindValidation:
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, err.Error()}}
	case model.KindNotFound:
		return &httpError{http.StatusNotFound, APIError{CodeRoomNotFound, err.Error()}}
	case model.KindForbidden:
		return &httpError{http.StatusForbidden, APIError{CodeNotCreator, err.Error()}}
	case model.KindInvalidState:
		return &httpError{http.StatusConflict, APIError{CodeInvalidRequest, err.Error()}}
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// FromResponse rebuilds the error an API call failed with. Known codes map
// back to their model sentinel; server failures become transport errors and
// anything else keeps the kind implied by its status.
func FromResponse(status int, body ErrorResponse) error {
	for _, s := range sentinels {
		if s.code == body.Error.Code {
			return s.err
		}
	}

	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", model.ErrTransport, msg)
	}
	return &remoteError{kind: kindForStatus(status), msg: msg}
}

// remoteError is an unrecognized server error carrying the kind implied by its status
type remoteError struct {
	kind model.Kind
	msg  string
}

func (e *remoteError) Error() string    { return e.msg }
func (e *remoteError) Kind() model.Kind { return e.kind }

func kindForStatus(status int) model.Kind {
	switch status {
	case http.StatusBadRequest:
		return model.KindValidation
	case http.StatusNotFound:
		return model.KindNotFound
	case http.StatusForbidden:
		return model.KindForbidden
	case http.StatusConflict:
		return model.KindInvalidState
	default:
		return model.KindUnknown
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
