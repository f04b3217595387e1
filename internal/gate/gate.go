package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/flamebridge/internal/board"
)

type Policy string

const (
	PolicyWindow Policy = "window"
	PolicyDedup  Policy = "dedup"
	PolicyBoth   Policy = "both"
)

const DefaultWindow = time.Second

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyWindow, PolicyDedup, PolicyBoth:
		return p, nil
	case "":
		return PolicyBoth, nil
	default:
		return "", fmt.Errorf("unknown gate policy %q", s)
	}
}

// Gate decides whether an incoming board is worth sending to the engine.
// State only changes when a board is admitted (or remembered).
type Gate struct {
	mu            sync.Mutex
	policy        Policy
	window        time.Duration
	lastProcessed time.Time
	lastSeen      board.Board
	seen          bool

	// our own last publish; rejected under every policy until another
	// board is admitted
	echo    board.Board
	hasEcho bool
}

func New(policy Policy, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{policy: policy, window: window}
}

func (g *Gate) Admit(b board.Board, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hasEcho && g.echo.Equal(b) {
		return false
	}
	if g.checksWindow() && !g.lastProcessed.IsZero() && now.Sub(g.lastProcessed) < g.window {
		return false
	}
	if g.checksDedup() && g.seen && g.lastSeen.Equal(b) {
		return false
	}

	if g.checksWindow() {
		g.lastProcessed = now
	}
	if g.checksDedup() {
		g.lastSeen = b
		g.seen = true
	}
	g.hasEcho = false
	return true
}

// Remember marks b as already seen, so the broker's echo of a board we
// published ourselves is not processed again.
func (g *Gate) Remember(b board.Board) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.echo = b
	g.hasEcho = true
	if g.checksDedup() {
		g.lastSeen = b
		g.seen = true
	}
}

func (g *Gate) Policy() Policy { return g.policy }

func (g *Gate) checksWindow() bool { return g.policy == PolicyWindow || g.policy == PolicyBoth }

func (g *Gate) checksDedup() bool { return g.policy == PolicyDedup || g.policy == PolicyBoth }
