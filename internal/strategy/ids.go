package strategy

import (
	"fmt"
	"sync"
	"time"
)

// IDGenerator issues IC_{SYMBOL}_{epoch} identifiers. A repeat within the
// same second gets a _2, _3, ... suffix. Issued ids are remembered for the
// generator's lifetime so none is ever handed out twice.
type IDGenerator struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

// NewIDGenerator returns an empty generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{issued: make(map[string]struct{})}
}

// Next returns a new identifier for symbol at the given time.
func (g *IDGenerator) Next(symbol string, at time.Time) string {
	base := fmt.Sprintf("IC_%s_%d", symbol, at.Unix())

	g.mu.Lock()
	defer g.mu.Unlock()

	id := base
	for n := 2; g.has(id); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	g.issued[id] = struct{}{}
	return id
}

func (g *IDGenerator) has(id string) bool {
	_, ok := g.issued[id]
	return ok
}
