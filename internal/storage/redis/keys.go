package redis

import (
	"fmt"
	"strings"

	"github.com/mcoot/planning-poker/internal/model"
)

// Key prefix for all room data
const keyPrefix = "poker"

// roomKey returns the Redis key for a Room
func roomKey(id model.RoomID) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, id)
}

// roomKeyPattern matches every room key for SCAN
func roomKeyPattern() string {
	return fmt.Sprintf("%s:room:*", keyPrefix)
}

// roomIDFromKey reverses roomKey
func roomIDFromKey(key string) model.RoomID {
	return model.RoomID(strings.TrimPrefix(key, fmt.Sprintf("%s:room:", keyPrefix)))
}
