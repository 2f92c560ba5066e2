package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/planning-poker/internal/dependencies/random"
)

// MockRandom is a mock implementation of Random for testing.
// Queued values are returned first; once exhausted, deterministic
// sequential values are generated so tests never collide.
type MockRandom struct {
	mu sync.Mutex

	codes     []string
	codeIndex int
	uuids     []string
	uuidIndex int

	generatedCodes int
	generatedUUIDs int
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Code returns the next queued code, or a generated one
func (r *MockRandom) Code(length int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.codeIndex < len(r.codes) {
		result := r.codes[r.codeIndex]
		r.codeIndex++
		return result
	}
	r.generatedCodes++
	return fmt.Sprintf("R%0*d", max(length-1, 1), r.generatedCodes)
}

// UUID returns the next queued UUID, or a generated one
func (r *MockRandom) UUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.uuidIndex < len(r.uuids) {
		result := r.uuids[r.uuidIndex]
		r.uuidIndex++
		return result
	}
	r.generatedUUIDs++
	return fmt.Sprintf("player-%d", r.generatedUUIDs)
}

// QueueCode adds values to the Code result queue
func (r *MockRandom) QueueCode(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.codes = append(r.codes, values...)
}

// QueueUUID adds values to the UUID result queue
func (r *MockRandom) QueueUUID(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.uuids = append(r.uuids, values...)
}
