package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var ErrTransport = errors.New("transport error")

const (
	writeTimeout = 3 * time.Second
	readLimit    = 1 << 20
)

// Conn is a websocket carrying one STOMP frame per text message.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger
}

func Dial(ctx context.Context, url string, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, url, err)
	}
	ws.SetReadLimit(readLimit)
	log.Info("transport open", zap.String("url", url))
	return &Conn{ws: ws, log: log}, nil
}

// Read blocks for the next frame. A normal close from the broker is io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}
	return data, nil
}

func (c *Conn) Write(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "bye")
	if err == nil || websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
		// already closed by the peer
		return nil
	}
	return fmt.Errorf("%w: close: %v", ErrTransport, err)
}
