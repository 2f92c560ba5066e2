package model

import "errors"

// Kind classifies errors for propagation to callers
type Kind string

const (
	KindUnknown      Kind = ""
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInvalidState Kind = "invalid_state"
	KindTransport    Kind = "transport"
)

// Error is a classified sentinel error
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Kind returns the error's classification
func (e *Error) Kind() Kind {
	return e.kind
}

// Common errors used across the application
var (
	// Validation errors
	ErrInvalidName = newError(KindValidation, "invalid player name")
	ErrInvalidCard = newError(KindValidation, "invalid card value")
	ErrInvalidLink = newError(KindValidation, "invalid link")
	ErrMissingID   = newError(KindValidation, "missing identifier")

	// Lookup errors
	ErrRoomNotFound   = newError(KindNotFound, "room not found")
	ErrPlayerNotFound = newError(KindNotFound, "player not found in room")

	// Authorization errors
	ErrNotCreator = newError(KindForbidden, "only the room creator can perform this action")

	// State errors
	ErrAlreadyRevealed = newError(KindInvalidState, "cards are already revealed")
	ErrNotRevealed     = newError(KindInvalidState, "cards have not been revealed")
	ErrNoVotes         = newError(KindInvalidState, "no votes have been cast")
	ErrCreatorAssigned = newError(KindInvalidState, "room already has a creator")
	ErrAlreadyCreator  = newError(KindInvalidState, "player is already the creator")

	// Connection errors
	ErrTransport = newError(KindTransport, "transport failure")
)

// KindOf returns the classification of err, unwrapping as needed.
// Any error in the chain with a Kind method counts.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
