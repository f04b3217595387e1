package types

import "encoding/json"

// BoardMessage is the body of a MESSAGE frame on a board topic.
// State is either a grid (list of rows of -1/0/1) or a compact string.
type BoardMessage struct {
	Stage string          `json:"stage,omitempty"` // "PLAY" | anything else is setup
	State json.RawMessage `json:"state"`
}

// Envelope wraps every REST response from the board API.
type Envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type BoardRef struct {
	ID int64 `json:"id"`
}
