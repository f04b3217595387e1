package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/flamebridge/internal/board"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func boards() (board.Board, board.Board) {
	a := board.Empty(board.Standard)
	return a, a.Set(0, 0, board.Positive)
}

func TestWindow(t *testing.T) {
	a, b := boards()
	g := New(PolicyWindow, time.Second)

	require.True(t, g.Admit(a, t0))
	assert.False(t, g.Admit(b, t0.Add(500*time.Millisecond)), "inside the window")
	assert.True(t, g.Admit(b, t0.Add(1100*time.Millisecond)), "after the window")
}

func TestWindow_RejectionDoesNotExtend(t *testing.T) {
	a, b := boards()
	g := New(PolicyWindow, time.Second)

	require.True(t, g.Admit(a, t0))
	require.False(t, g.Admit(b, t0.Add(900*time.Millisecond)))
	// measured from t0, not from the rejected attempt
	assert.True(t, g.Admit(b, t0.Add(1000*time.Millisecond)))
}

func TestDedup(t *testing.T) {
	a, b := boards()
	g := New(PolicyDedup, time.Second)

	require.True(t, g.Admit(a, t0))
	assert.False(t, g.Admit(a, t0.Add(time.Hour)), "same board twice")
	assert.True(t, g.Admit(b, t0), "timing does not matter")
	assert.True(t, g.Admit(a, t0), "a differs from the last admitted board again")
}

func TestBoth(t *testing.T) {
	a, b := boards()
	g := New(PolicyBoth, time.Second)

	require.True(t, g.Admit(a, t0))
	assert.False(t, g.Admit(a, t0.Add(2*time.Second)), "duplicate outside window")
	assert.False(t, g.Admit(b, t0.Add(100*time.Millisecond)), "new board inside window")
	assert.True(t, g.Admit(b, t0.Add(2*time.Second)))
}

func TestRemember(t *testing.T) {
	for _, policy := range []Policy{PolicyWindow, PolicyDedup, PolicyBoth} {
		t.Run(string(policy), func(t *testing.T) {
			a, b := boards()
			g := New(policy, time.Second)

			require.True(t, g.Admit(a, t0))
			g.Remember(b)

			// well past the window, the echo of our own publish is still ignored
			later := t0.Add(10 * time.Second)
			assert.False(t, g.Admit(b, later), "echo of our own publish")
			assert.False(t, g.Admit(b, later.Add(time.Second)), "repeated echo")

			// a genuine change clears it
			require.True(t, g.Admit(a, later.Add(2*time.Second)))
		})
	}
}

func TestRemember_ClearedByNextAdmission(t *testing.T) {
	a, b := boards()
	g := New(PolicyWindow, time.Second)

	g.Remember(b)
	require.True(t, g.Admit(a, t0))
	assert.True(t, g.Admit(b, t0.Add(2*time.Second)))
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"window": PolicyWindow, "dedup": PolicyDedup, "both": PolicyBoth, "": PolicyBoth}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("never")
	assert.Error(t, err)
}
