package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/flamebridge/internal/board"
)

var ErrProtocol = errors.New("engine protocol error")

type Phase string

const (
	PhaseSetup Phase = "SETUP"
	PhasePlay  Phase = "PLAY"
)

// ParsePhase maps the stage field of a board message. Only the exact
// string PLAY is play; anything else is setup.
func ParsePhase(stage string) Phase {
	if stage == string(PhasePlay) {
		return PhasePlay
	}
	return PhaseSetup
}

func (p Phase) digit() string {
	if p == PhasePlay {
		return "1"
	}
	return "0"
}

const (
	DefaultTimeout = 30 * time.Second

	// sent once at startup: there is no previous board
	noPreviousBoard = "-1"

	closeGrace = 2 * time.Second
)

type Config struct {
	Command []string
	Env     []string
	Timeout time.Duration
	Shape   board.Shape
	Logger  *zap.Logger
}

// Process is one long-lived engine. Only one request may be in flight; the
// line protocol carries no request ids.
type Process struct {
	mu      sync.Mutex
	cfg     Config
	log     *zap.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	exited  chan struct{}
	readErr error
	waitErr error
	broken  error

	closeOnce sync.Once
}

// Start spawns the engine and performs the startup handshake.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: empty engine command", ErrProtocol)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Shape == (board.Shape{}) {
		cfg.Shape = board.Standard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Named("engine")

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stderr = &stderrLogger{log: log}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %v: %v", ErrProtocol, cfg.Command, err)
	}
	log.Info("engine started", zap.Int("pid", cmd.Process.Pid), zap.Strings("command", cfg.Command))

	p := &Process{
		cfg:    cfg,
		log:    log,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string),
		exited: make(chan struct{}),
	}
	go p.readLoop(stdout)

	if err := p.handshake(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Process) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		p.lines <- sc.Text()
	}
	p.readErr = sc.Err()
	close(p.lines)
	// stdout is gone, so the engine can never answer again. Kill it in case
	// it is still running; Wait would block forever otherwise.
	_ = p.cmd.Process.Kill()
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *Process) handshake(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeLines(noPreviousBoard); err != nil {
		return p.fail(err)
	}
	ack, err := p.readLine(ctx)
	if err != nil {
		return p.fail(err)
	}
	p.log.Debug("engine ready", zap.String("ack", ack))
	return nil
}

// Compute sends b and the phase, and returns the engine's answer.
func (p *Process) Compute(ctx context.Context, b board.Board, phase Phase) (board.Board, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken != nil {
		return board.Board{}, p.broken
	}

	if err := p.writeLines(board.Encode(b), phase.digit()); err != nil {
		return board.Board{}, p.fail(err)
	}
	reply, err := p.readLine(ctx)
	if err != nil {
		return board.Board{}, p.fail(err)
	}
	// the engine echoes a label line after every answer
	if _, err := p.readLine(ctx); err != nil {
		return board.Board{}, p.fail(err)
	}

	out, err := p.cfg.Shape.Decode(strings.TrimSpace(reply))
	if err != nil {
		return board.Board{}, p.fail(fmt.Errorf("bad reply %q: %v", reply, err))
	}
	return out, nil
}

// fail poisons the handle; a desynchronized engine cannot be trusted again.
func (p *Process) fail(err error) error {
	if !errors.Is(err, ErrProtocol) {
		err = fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	p.broken = err
	return err
}

func (p *Process) writeLines(lines ...string) error {
	for _, l := range lines {
		if _, err := io.WriteString(p.stdin, l+"\n"); err != nil {
			return fmt.Errorf("write to engine: %v", err)
		}
	}
	return nil
}

func (p *Process) readLine(ctx context.Context) (string, error) {
	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case l, ok := <-p.lines:
		if !ok {
			select {
			case <-p.exited:
				if p.readErr != nil {
					return "", fmt.Errorf("engine output failed: %v (exit: %v)", p.readErr, p.waitErr)
				}
				return "", fmt.Errorf("engine exited: %v", p.waitErr)
			case <-timer.C:
				return "", fmt.Errorf("engine closed its output and did not exit within %s", p.cfg.Timeout)
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return l, nil
	case <-timer.C:
		return "", fmt.Errorf("no reply within %s", p.cfg.Timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close ends the engine, killing it if it ignores EOF on stdin.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := p.stdin.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
		go func() {
			// drain so readLoop can reach Wait
			for range p.lines {
			}
		}()
		select {
		case <-p.exited:
		case <-time.After(closeGrace):
			p.log.Warn("engine ignored stdin close, killing")
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
		p.log.Info("engine stopped", zap.NamedError("exit", p.waitErr))
	})
	return err
}

type stderrLogger struct {
	log *zap.Logger
	buf []byte
}

func (w *stderrLogger) Write(b []byte) (int, error) {
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			w.log.Warn("engine stderr", zap.String("line", line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}
