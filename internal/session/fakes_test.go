package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/flamebridge/internal/board"
	"github.com/DoyleJ11/flamebridge/internal/engine"
	"github.com/DoyleJ11/flamebridge/internal/journal"
	"github.com/DoyleJ11/flamebridge/internal/stomp"
	"github.com/DoyleJ11/flamebridge/internal/types"
)

type fakeConn struct {
	in     chan []byte
	errs   chan error
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		errs:   make(chan error, 1),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeAPI struct {
	mu        sync.Mutex
	id        int64
	finds     int
	findErr   error
	updateErr error
	updates   []board.Board
}

func (a *fakeAPI) FindBoard(ctx context.Context, game, user int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finds++
	if a.findErr != nil {
		return 0, a.findErr
	}
	return a.id, nil
}

func (a *fakeAPI) UpdateBoard(ctx context.Context, id int64, b board.Board) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id != a.id {
		return fmt.Errorf("update for unknown board %d", id)
	}
	if a.updateErr != nil {
		return a.updateErr
	}
	a.updates = append(a.updates, b)
	return nil
}

func (a *fakeAPI) setUpdateErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateErr = err
}

func (a *fakeAPI) snapshot() (finds int, updates []board.Board) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finds, append([]board.Board(nil), a.updates...)
}

// fakeEngine fails any request that arrives while another is in flight.
type fakeEngine struct {
	delay   time.Duration
	reply   func(board.Board, engine.Phase) (board.Board, error)
	busy    atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
	closed  atomic.Bool

	mu     sync.Mutex
	phases []engine.Phase
}

func flipCorner(b board.Board, _ engine.Phase) (board.Board, error) {
	return b.Set(0, 0, board.Negative), nil
}

func (e *fakeEngine) Compute(ctx context.Context, b board.Board, phase engine.Phase) (board.Board, error) {
	if e.busy.Add(1) > 1 {
		e.overlap.Store(true)
		e.busy.Add(-1)
		return board.Board{}, fmt.Errorf("%w: second request before response", engine.ErrProtocol)
	}
	defer e.busy.Add(-1)

	e.calls.Add(1)
	e.mu.Lock()
	e.phases = append(e.phases, phase)
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	reply := e.reply
	if reply == nil {
		reply = flipCorner
	}
	return reply(b, phase)
}

func (e *fakeEngine) seenPhases() []engine.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Phase(nil), e.phases...)
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *fakeJournal) Record(ctx context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *fakeJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type harness struct {
	t       *testing.T
	conn    *fakeConn
	api     *fakeAPI
	eng     *fakeEngine
	journal *fakeJournal
	s       *Session
	errc    chan error
	started atomic.Int32
}

func newHarness(t *testing.T, cfg Config, eng *fakeEngine) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		conn:    newFakeConn(),
		api:     &fakeAPI{id: 42},
		eng:     eng,
		journal: &fakeJournal{},
		errc:    make(chan error, 1),
	}
	deps := Deps{
		Dial: func(ctx context.Context) (Conn, error) { return h.conn, nil },
		StartEngine: func(ctx context.Context) (Computer, error) {
			h.started.Add(1)
			if h.eng == nil {
				return nil, errors.New("no engine in this test")
			}
			return h.eng, nil
		},
		API:     h.api,
		Journal: h.journal,
	}
	h.s = New(cfg, deps)
	return h
}

func (h *harness) run() {
	go func() { h.errc <- h.s.Run(context.Background()) }()
}

func (h *harness) written(within time.Duration) stomp.Frame {
	h.t.Helper()
	select {
	case raw := <-h.conn.out:
		f, err := stomp.Decode(raw)
		require.NoError(h.t, err)
		return f
	case <-time.After(within):
		h.t.Fatalf("timed out waiting for an outbound frame")
		return stomp.Frame{}
	}
}

func (h *harness) noWrite(within time.Duration) {
	h.t.Helper()
	select {
	case raw := <-h.conn.out:
		h.t.Fatalf("unexpected outbound frame %q", raw)
	case <-time.After(within):
	}
}

func (h *harness) deliver(raw string) {
	h.conn.in <- []byte(raw)
}

// handshake runs CONNECT/CONNECTED and returns the SUBSCRIBE frame.
func (h *harness) handshake() stomp.Frame {
	h.t.Helper()
	connect := h.written(time.Second)
	require.Equal(h.t, "CONNECT", connect.Command)
	h.deliver("CONNECTED\nversion:1.2\n\n\x00")
	sub := h.written(time.Second)
	require.Equal(h.t, "SUBSCRIBE", sub.Command)
	return sub
}

func (h *harness) wait(within time.Duration) error {
	h.t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(within):
		h.t.Fatalf("session did not stop")
		return nil
	}
}

func (h *harness) stop() error {
	h.t.Helper()
	_ = h.conn.Close()
	return h.wait(2 * time.Second)
}

var msgSeq atomic.Int64

func messageFrame(body string) string {
	return fmt.Sprintf("MESSAGE\ndestination:/topic/boards/42/next_step\nsubscription:sub-1-001\nmessage-id:m-%d\n\n%s\x00\n",
		msgSeq.Add(1), body)
}

func boardBody(t *testing.T, stage string, b board.Board) string {
	t.Helper()
	state, err := json.Marshal(b)
	require.NoError(t, err)
	body, err := json.Marshal(types.BoardMessage{Stage: stage, State: state})
	require.NoError(t, err)
	return string(body)
}
