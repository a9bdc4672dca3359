// Package testutil holds deterministic helpers shared by tests, the
// scenario harness and golden files.
package testutil

import (
	"fmt"
	"sync"
)

// FixedSessionGenerator returns the same edit-session id every time.
//
// Implements edit.SessionIDGenerator. Stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a fixed generator. An empty id selects
// "test-session".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}

// SequentialSessionGenerator returns "<prefix>-1", "<prefix>-2", ...
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialSessionGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialSessionGenerator creates a generator starting at 1.
func NewSequentialSessionGenerator(prefix string) *SequentialSessionGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialSessionGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialSessionGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence so the next id ends in 1.
func (g *SequentialSessionGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
