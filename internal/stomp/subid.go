package stomp

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// IDGenerator hands out subscription ids of the form sub-<millis>-<nnn>.
// The millisecond part never goes backwards even if the wall clock does.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
	rand func(n int) int
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now, rand: rand.IntN}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.last {
		ms = g.last
	}
	g.last = ms
	return fmt.Sprintf("sub-%d-%03d", ms, g.rand(1000))
}
