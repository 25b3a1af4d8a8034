package testfixtures

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator yields "prefix-1", "prefix-2", ... and is safe for concurrent use.
type IDGenerator struct {
	prefix string
	n      atomic.Uint64
}

// NewIDGenerator returns a generator using prefix, or "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}

// NextFunc returns Next for injection.
func (g *IDGenerator) NextFunc() func() string {
	return g.Next
}

// Issued reports how many identifiers have been handed out.
func (g *IDGenerator) Issued() int {
	return int(g.n.Load())
}
