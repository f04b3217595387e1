package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/flamebridge/internal/board"
	"github.com/DoyleJ11/flamebridge/internal/engine"
	"github.com/DoyleJ11/flamebridge/internal/types"
)

// decodeBody accepts every body shape seen on the board topics:
//
//	{"stage":"PLAY","state":[[...]]}   {"stage":"PLAY","state":"z0Z..."}
//	[[...]]                            z0Z...
//
// Bodies without a stage are treated as play.
func decodeBody(shape board.Shape, body string) (board.Board, engine.Phase, error) {
	data := bytes.TrimSpace([]byte(body))
	if len(data) == 0 {
		return board.Board{}, "", fmt.Errorf("%w: empty body", board.ErrMalformedEncoding)
	}

	switch data[0] {
	case '{':
		var m types.BoardMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return board.Board{}, "", fmt.Errorf("%w: %v", board.ErrMalformedEncoding, err)
		}
		if len(m.State) == 0 {
			return board.Board{}, "", fmt.Errorf("%w: message has no state", board.ErrMalformedEncoding)
		}
		phase := engine.PhasePlay
		if m.Stage != "" {
			phase = engine.ParsePhase(m.Stage)
		}
		b, err := decodeState(shape, m.State)
		return b, phase, err

	default:
		b, err := decodeState(shape, data)
		return b, engine.PhasePlay, err
	}
}

func decodeState(shape board.Shape, raw []byte) (board.Board, error) {
	switch raw[0] {
	case '"':
		var z string
		if err := json.Unmarshal(raw, &z); err != nil {
			return board.Board{}, fmt.Errorf("%w: %v", board.ErrMalformedEncoding, err)
		}
		return shape.Decode(z)

	case '[':
		var b board.Board
		if err := json.Unmarshal(raw, &b); err != nil {
			return board.Board{}, err
		}
		if b.Shape() != shape {
			return board.Board{}, fmt.Errorf("%w: grid is %dx%d, want %dx%d",
				board.ErrMalformedEncoding, b.Shape().Rows, b.Shape().Cols, shape.Rows, shape.Cols)
		}
		return b, nil

	default:
		return shape.Decode(string(raw))
	}
}
