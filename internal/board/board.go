package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedEncoding = errors.New("malformed board encoding")

type Cell int8

const (
	Negative Cell = -1
	Neutral  Cell = 0
	Positive Cell = 1
)

func (c Cell) Valid() bool {
	return c == Negative || c == Neutral || c == Positive
}

type Shape struct {
	Rows int
	Cols int
}

// Standard is the 14x14 board the jiuqi engine plays on.
var Standard = Shape{Rows: 14, Cols: 14}

func (s Shape) Len() int { return s.Rows * s.Cols }

// Board is a fully populated grid. The zero value is an empty 0x0 board.
// Boards are never mutated in place; Set returns a copy.
type Board struct {
	shape Shape
	cells []Cell
}

func New(shape Shape, cells []Cell) (Board, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return Board{}, fmt.Errorf("%w: invalid shape %dx%d", ErrMalformedEncoding, shape.Rows, shape.Cols)
	}
	if len(cells) != shape.Len() {
		return Board{}, fmt.Errorf("%w: want %d cells, got %d", ErrMalformedEncoding, shape.Len(), len(cells))
	}
	for i, c := range cells {
		if !c.Valid() {
			return Board{}, fmt.Errorf("%w: cell %d holds %d", ErrMalformedEncoding, i, c)
		}
	}
	own := make([]Cell, len(cells))
	copy(own, cells)
	return Board{shape: shape, cells: own}, nil
}

func Empty(shape Shape) Board {
	return Board{shape: shape, cells: make([]Cell, shape.Len())}
}

// FromGrid builds a board from a list of rows of -1/0/1.
func FromGrid(grid [][]int) (Board, error) {
	if len(grid) == 0 {
		return Board{}, fmt.Errorf("%w: empty grid", ErrMalformedEncoding)
	}
	shape := Shape{Rows: len(grid), Cols: len(grid[0])}
	if shape.Rows != shape.Cols {
		return Board{}, fmt.Errorf("%w: grid is %dx%d, not square", ErrMalformedEncoding, shape.Rows, shape.Cols)
	}
	cells := make([]Cell, 0, shape.Len())
	for i, row := range grid {
		if len(row) != shape.Cols {
			return Board{}, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformedEncoding, i, len(row), shape.Cols)
		}
		for _, v := range row {
			if v < -1 || v > 1 {
				return Board{}, fmt.Errorf("%w: row %d holds %d", ErrMalformedEncoding, i, v)
			}
			cells = append(cells, Cell(v))
		}
	}
	return Board{shape: shape, cells: cells}, nil
}

func (b Board) Shape() Shape { return b.shape }

func (b Board) At(r, c int) Cell {
	return b.cells[r*b.shape.Cols+c]
}

func (b Board) Set(r, c int, v Cell) Board {
	next := make([]Cell, len(b.cells))
	copy(next, b.cells)
	next[r*b.shape.Cols+c] = v
	return Board{shape: b.shape, cells: next}
}

func (b Board) Equal(o Board) bool {
	if b.shape != o.shape || len(b.cells) != len(o.cells) {
		return false
	}
	for i := range b.cells {
		if b.cells[i] != o.cells[i] {
			return false
		}
	}
	return true
}

func (b Board) Grid() [][]int {
	grid := make([][]int, b.shape.Rows)
	for r := range grid {
		row := make([]int, b.shape.Cols)
		for c := range row {
			row[c] = int(b.At(r, c))
		}
		grid[r] = row
	}
	return grid
}

func (b Board) String() string { return Encode(b) }

func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Grid())
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var grid [][]int
	if err := json.Unmarshal(data, &grid); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	parsed, err := FromGrid(grid)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// symbol table for the compact encoding; index is Cell+1
var symbols = [3]byte{'z', '0', 'Z'}

var cellOf [256]Cell

var known [256]bool

func init() {
	for i, s := range symbols {
		if known[s] {
			panic(fmt.Sprintf("board: duplicate symbol %q", s))
		}
		known[s] = true
		cellOf[s] = Cell(i - 1)
	}
}

// Encode writes one symbol per cell in row-major order.
func Encode(b Board) string {
	var sb strings.Builder
	sb.Grow(len(b.cells))
	for _, c := range b.cells {
		sb.WriteByte(symbols[c+1])
	}
	return sb.String()
}

func (s Shape) Decode(z string) (Board, error) {
	if len(z) != s.Len() {
		return Board{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedEncoding, len(z), s.Len())
	}
	out := make([]Cell, len(z))
	for i := 0; i < len(z); i++ {
		if !known[z[i]] {
			return Board{}, fmt.Errorf("%w: symbol %q at %d", ErrMalformedEncoding, z[i], i)
		}
		out[i] = cellOf[z[i]]
	}
	return Board{shape: s, cells: out}, nil
}

// Decode reads a standard 14x14 encoding.
func Decode(z string) (Board, error) {
	return Standard.Decode(z)
}
