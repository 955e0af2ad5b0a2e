// Package output implements score-matrix sinks. Every sink is addressed in
// the canonical orientation: one row per target record, one column per
// query record. Writers position a block with SetBlock and fill it with
// SetRelative.
package output

import (
	"fmt"
	"sync"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Output receives scores. Close flushes whatever the sink buffers.
type Output interface {
	SetBlock(row, col int)
	SetRelative(score float64, row, col int) error
	Close() error
}

// Aborter is implemented by sinks that hold resources or leave files behind
// before Close.
type Aborter interface {
	Abort() error
}

// Abort discards o without writing its result. Callers use it in place of
// Close when an operation fails, so no partial result is ever published.
func Abort(o Output) error {
	if a, ok := o.(Aborter); ok {
		return a.Abort()
	}
	return nil
}

// Make opens the sink selected by f's suffix, shaped for target × query.
func Make(f template.File, target, query template.FileList) (Output, error) {
	if f.Name == "" {
		return &empty{rows: len(target), cols: len(query)}, nil
	}
	switch f.Suffix() {
	case "mem":
		return &memoryOutput{Matrix: NewMatrix(target, query), name: f.Name}, nil
	case "csv":
		return &csvOutput{Matrix: NewMatrix(target, query), path: f.Name}, nil
	case "mtx":
		return &mtxOutput{Matrix: NewMatrix(target, query), file: f}, nil
	case "tail":
		return newTailFile(f, target, query)
	}
	return nil, fmt.Errorf("%w: output %s", brerr.ErrUnrecognizedFileType, f.Name)
}

// Exists reports whether the sink already holds a result.
func Exists(f template.File) bool {
	if f.Name == "" {
		return false
	}
	if f.Suffix() == "mem" {
		_, ok := Lookup(f.Name)
		return ok
	}
	return f.Exists()
}

// Matrix is a dense score matrix with a block cursor.
type Matrix struct {
	Target template.FileList
	Query  template.FileList
	Scores [][]float64

	rowOffset int
	colOffset int
}

// NewMatrix allocates a zeroed target × query matrix.
func NewMatrix(target, query template.FileList) *Matrix {
	scores := make([][]float64, len(target))
	for i := range scores {
		scores[i] = make([]float64, len(query))
	}
	return &Matrix{Target: target, Query: query, Scores: scores}
}

func (m *Matrix) SetBlock(row, col int) {
	m.rowOffset, m.colOffset = row, col
}

func (m *Matrix) SetRelative(score float64, row, col int) error {
	r, c := m.rowOffset+row, m.colOffset+col
	if r < 0 || r >= len(m.Target) || c < 0 || c >= len(m.Query) {
		return fmt.Errorf("%w: score (%d, %d) outside %dx%d output", brerr.ErrDimensionMismatch, r, c, len(m.Target), len(m.Query))
	}
	m.Scores[r][c] = score
	return nil
}

// Close is a no-op; sinks embedding Matrix flush in their own Close.
func (m *Matrix) Close() error { return nil }

// Rows and Cols report the matrix shape.
func (m *Matrix) Rows() int { return len(m.Target) }

func (m *Matrix) Cols() int { return len(m.Query) }

// empty validates coordinates and discards scores.
type empty struct {
	rows, cols           int
	rowOffset, colOffset int
}

func (e *empty) SetBlock(row, col int) { e.rowOffset, e.colOffset = row, col }

func (e *empty) SetRelative(score float64, row, col int) error {
	r, c := e.rowOffset+row, e.colOffset+col
	if r < 0 || r >= e.rows || c < 0 || c >= e.cols {
		return fmt.Errorf("%w: score (%d, %d) outside %dx%d output", brerr.ErrDimensionMismatch, r, c, e.rows, e.cols)
	}
	return nil
}

func (e *empty) Close() error { return nil }

var (
	memoryMu sync.RWMutex
	memory   = map[string]*Matrix{}
)

// memoryOutput publishes its matrix under its name when closed.
type memoryOutput struct {
	*Matrix
	name string
}

func (o *memoryOutput) Close() error {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	memory[o.name] = o.Matrix
	return nil
}

// Lookup returns a matrix published by a closed .mem output.
func Lookup(name string) (*Matrix, bool) {
	memoryMu.RLock()
	defer memoryMu.RUnlock()
	m, ok := memory[name]
	return m, ok
}

// Forget drops a published matrix.
func Forget(name string) {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	delete(memory, name)
}
