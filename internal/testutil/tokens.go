package testutil

import (
	"fmt"
	"sync"
)

// FixedTokenGenerator returns "<prefix>-1", "<prefix>-2", ... in order.
//
// This enables deterministic named-user change tokens, so the same scenario
// produces byte-identical traces.
//
// Thread-safety: FixedTokenGenerator is safe for concurrent use via internal mutex.
type FixedTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedTokenGenerator creates a generator. An empty prefix uses "token".
func NewFixedTokenGenerator(prefix string) *FixedTokenGenerator {
	if prefix == "" {
		prefix = "token"
	}
	return &FixedTokenGenerator{prefix: prefix}
}

// NewToken returns the next token in the sequence.
func (g *FixedTokenGenerator) NewToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Issued returns how many tokens have been handed out.
func (g *FixedTokenGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
