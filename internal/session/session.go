package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/flamebridge/internal/board"
	"github.com/DoyleJ11/flamebridge/internal/engine"
	"github.com/DoyleJ11/flamebridge/internal/gate"
	"github.com/DoyleJ11/flamebridge/internal/journal"
	"github.com/DoyleJ11/flamebridge/internal/stomp"
)

var ErrAlreadyStarted = errors.New("session already started")

type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingHandshakeAck
	Subscribing
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingHandshakeAck:
		return "awaiting_handshake_ack"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Mode string

const (
	// ModeCompute asks the engine for a move and publishes it.
	ModeCompute Mode = "compute"
	// ModeObserve only logs what arrives on the sync topic.
	ModeObserve Mode = "observe"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCompute, ModeObserve:
		return m, nil
	case "":
		return ModeCompute, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) topic(boardID int64) string {
	if m == ModeObserve {
		return fmt.Sprintf("/topic/boards/%d/sync", boardID)
	}
	return fmt.Sprintf("/topic/boards/%d/next_step", boardID)
}

type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

type Dialer func(ctx context.Context) (Conn, error)

type Computer interface {
	Compute(ctx context.Context, b board.Board, phase engine.Phase) (board.Board, error)
	Close() error
}

type EngineStarter func(ctx context.Context) (Computer, error)

type BoardAPI interface {
	FindBoard(ctx context.Context, game, user int64) (int64, error)
	UpdateBoard(ctx context.Context, id int64, b board.Board) error
}

type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Config struct {
	Mode      Mode
	GameID    int64
	UserID    int64
	Shape     board.Shape
	Gate      *gate.Gate
	InboxSize int
	Logger    *zap.Logger
	Now       func() time.Time
}

type Deps struct {
	Dial        Dialer
	StartEngine EngineStarter // unused in observe mode
	API         BoardAPI
	Journal     Journal // optional
}

// Session bridges one board between the broker and the engine. It is
// single use: once Closed, a new Session is needed to reconnect.
type Session struct {
	id    string
	cfg   Config
	deps  Deps
	log   *zap.Logger
	gate  *gate.Gate
	ids   *stomp.IDGenerator
	inbox chan msg

	// owned by the worker loop
	conn    Conn
	engine  Computer
	boardID int64

	mu     sync.RWMutex
	status Status

	started  bool
	receiver sync.WaitGroup
}

type Status struct {
	SessionID       string      `json:"session_id"`
	State           string      `json:"state"`
	Mode            Mode        `json:"mode"`
	GatePolicy      gate.Policy `json:"gate_policy"`
	BoardID         int64       `json:"board_id,omitempty"`
	LastBoard       string      `json:"last_board,omitempty"`
	Received        int         `json:"received"`
	Processed       int         `json:"processed"`
	Suppressed      int         `json:"suppressed"`
	Malformed       int         `json:"malformed"`
	PublishFailures int         `json:"publish_failures"`
	LastProcessedAt *time.Time  `json:"last_processed_at,omitempty"`
}

type msg interface{ isSessionMsg() }

type frameMsg struct{ frame stomp.Frame }

func (frameMsg) isSessionMsg() {}

type closedMsg struct{ err error }

func (closedMsg) isSessionMsg() {}

func New(cfg Config, deps Deps) *Session {
	if cfg.Mode == "" {
		cfg.Mode = ModeCompute
	}
	if cfg.Shape == (board.Shape{}) {
		cfg.Shape = board.Standard
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New(gate.PolicyBoth, gate.DefaultWindow)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	id := uuid.NewString()
	s := &Session{
		id:    id,
		cfg:   cfg,
		deps:  deps,
		log:   cfg.Logger.Named("session").With(zap.String("session_id", id), zap.String("mode", string(cfg.Mode))),
		gate:  cfg.Gate,
		ids:   stomp.NewIDGenerator(),
		inbox: make(chan msg, cfg.InboxSize),
	}
	s.status = Status{
		SessionID:  id,
		State:      Disconnected.String(),
		Mode:       cfg.Mode,
		GatePolicy: cfg.Gate.Policy(),
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Status is safe to call from any goroutine.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) update(fn func(st *Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.update(func(x *Status) { x.State = st.String() })
	s.log.Debug("state", zap.Stringer("state", st))
}

// Run drives the session until the broker closes the connection, ctx is
// cancelled, or a fatal error occurs. A clean close returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		cancel()
		err = multierr.Append(err, s.teardown())
		if err != nil {
			s.log.Error("session closed", zap.Error(err))
		} else {
			s.log.Info("session closed")
		}
	}()

	s.setState(Connecting)

	if s.cfg.Mode == ModeCompute {
		eng, err := s.deps.StartEngine(ctx)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		s.engine = eng
	}

	conn, err := s.deps.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.conn = conn

	s.setState(AwaitingHandshakeAck)
	if err := conn.Write(ctx, stomp.Connect()); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	s.receiver.Add(1)
	go s.receive(ctx, conn, s.log)

	return s.loop(ctx)
}

// receive only reads and decodes; all processing happens on the loop.
func (s *Session) receive(ctx context.Context, conn Conn, log *zap.Logger) {
	defer s.receiver.Done()
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			select {
			case s.inbox <- closedMsg{err: err}:
			case <-ctx.Done():
			}
			return
		}

		f, err := stomp.Decode(raw)
		if err != nil {
			log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(raw)))
			continue
		}
		if f.Kind() == stomp.KindHeartbeat {
			continue
		}

		select {
		case s.inbox <- frameMsg{frame: f}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case m := <-s.inbox:
			switch m := m.(type) {
			case frameMsg:
				if err := s.handleFrame(ctx, m.frame); err != nil {
					if ctx.Err() != nil {
						// shutting down mid-request
						return nil
					}
					return err
				}

			case closedMsg:
				if errors.Is(m.err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("connection lost: %w", m.err)
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, f stomp.Frame) error {
	switch f.Kind() {
	case stomp.KindConnected:
		return s.onConnected(ctx, f)

	case stomp.KindMessage:
		return s.onMessage(ctx, f)

	case stomp.KindError:
		s.log.Warn("broker error", zap.String("message", f.Header("message")), zap.String("body", f.Body))

	case stomp.KindReceipt:
		s.log.Debug("receipt", zap.String("receipt_id", f.Header("receipt-id")))

	default:
		s.log.Debug("ignoring frame", zap.String("command", f.Command))
	}
	return nil
}

func (s *Session) onConnected(ctx context.Context, f stomp.Frame) error {
	if s.boardID != 0 {
		s.log.Warn("ignoring repeated CONNECTED frame")
		return nil
	}
	s.log.Info("connected", zap.String("version", f.Header("version")), zap.String("server", f.Header("server")))

	id, err := s.deps.API.FindBoard(ctx, s.cfg.GameID, s.cfg.UserID)
	if err != nil {
		return err
	}
	s.boardID = id
	s.log = s.log.With(zap.Int64("board_id", id))
	s.update(func(x *Status) { x.BoardID = id })
	s.setState(Subscribing)

	topic := s.cfg.Mode.topic(id)
	subID := s.ids.Next()
	if err := s.conn.Write(ctx, stomp.Subscribe(topic, subID, "auto")); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("subscribed", zap.String("topic", topic), zap.String("subscription", subID))

	// the broker sends no ack for SUBSCRIBE; messages may arrive right away
	s.setState(Active)
	return nil
}

// onMessage runs decode, gate, compute, publish and record in that order.
// Only an engine failure is fatal.
func (s *Session) onMessage(ctx context.Context, f stomp.Frame) error {
	if s.boardID == 0 {
		s.log.Warn("message before subscription, dropping", zap.String("destination", f.Header("destination")))
		return nil
	}
	s.update(func(x *Status) { x.Received++ })

	in, phase, err := decodeBody(s.cfg.Shape, f.Body)
	if err != nil {
		s.log.Warn("dropping malformed board", zap.Error(err), zap.String("message_id", f.Header("message-id")))
		s.update(func(x *Status) { x.Malformed++ })
		return nil
	}

	now := s.cfg.Now()
	if !s.gate.Admit(in, now) {
		s.log.Debug("suppressed", zap.String("state", board.Encode(in)))
		s.update(func(x *Status) { x.Suppressed++ })
		return nil
	}
	s.log.Info("received", zap.String("state", board.Encode(in)), zap.String("phase", string(phase)))

	if s.cfg.Mode == ModeObserve {
		s.update(func(x *Status) {
			x.LastBoard = board.Encode(in)
			x.Processed++
			x.LastProcessedAt = &now
		})
		return nil
	}

	started := s.cfg.Now()
	out, err := s.engine.Compute(ctx, in, phase)
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}
	took := s.cfg.Now().Sub(started)
	s.log.Info("respond", zap.String("state", board.Encode(out)), zap.Duration("took", took))

	if err := s.deps.API.UpdateBoard(ctx, s.boardID, out); err != nil {
		// the remote board stays stale until the next successful publish
		s.log.Error("publish failed", zap.Error(err))
		s.update(func(x *Status) { x.PublishFailures++ })
		return nil
	}

	s.gate.Remember(out)
	done := s.cfg.Now()
	s.update(func(x *Status) {
		x.LastBoard = board.Encode(out)
		x.Processed++
		x.LastProcessedAt = &done
	})

	if s.deps.Journal != nil {
		err := s.deps.Journal.Record(ctx, journal.Entry{
			SessionID: s.id,
			BoardID:   s.boardID,
			Phase:     string(phase),
			Input:     board.Encode(in),
			Output:    board.Encode(out),
			Duration:  took,
			At:        started,
		})
		if err != nil {
			s.log.Warn("journal write failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) teardown() error {
	s.setState(Closed)
	var err error
	if s.conn != nil {
		err = multierr.Append(err, s.conn.Close())
	}
	s.receiver.Wait()
	if s.engine != nil {
		err = multierr.Append(err, s.engine.Close())
	}
	return err
}
