package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator yields sequential identifiers such as "booking-1".
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator returns a generator for prefix, defaulting to "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NewUUIDs returns a generator of deterministic name-based UUIDs, which
// still look like the random IDs issued in production.
func NewUUIDs(namespace string) func() string {
	g := NewIDGenerator(namespace)
	space := uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace))
	return func() string {
		return uuid.NewSHA1(space, []byte(g.Next())).String()
	}
}
