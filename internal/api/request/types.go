package request

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest is the request body for joining a room
type JoinRoomRequest struct {
	Name string `json:"name"`
}

// VoteRequest is the request body for casting a vote
type VoteRequest struct {
	Card string `json:"card"`
}

// SetLinkRequest is the request body for updating the room link
type SetLinkRequest struct {
	Link string `json:"link"`
}

// TransferCreatorRequest is the request body for transferring creator authority
type TransferCreatorRequest struct {
	NewCreatorID string `json:"newCreatorId"`
}
