// Package field implements distributed 2D fields bound to a grid.
//
// A Field is a handle to storage covering the rank's owned tile and, for ghosted
// fields, a halo around it. Handles can be moved (Transfer) so that exactly one
// owner holds the storage at a time; a moved-from handle panics with ErrReleased
// on data access.
package field

import (
	"errors"
	"fmt"

	"github.com/danmuck/icectl/internal/grid"
)

var (
	ErrReleased      = errors.New("field: handle released")
	ErrInvalidShape  = errors.New("field: invalid shape")
	ErrNotAccessed   = errors.New("field: access outside begin/end access")
	ErrUnbalanced    = errors.New("field: end access without begin access")
	ErrOutOfBounds   = errors.New("field: index outside local storage")
	ErrGridMismatch  = errors.New("field: fields live on different grids")
	ErrShapeMismatch = errors.New("field: dof mismatch")
)

// Kind selects whether a field carries a ghost halo.
type Kind int

const (
	WithoutGhosts Kind = iota
	WithGhosts
)

type storage struct {
	grid    *grid.Grid
	meta    *Metadata
	dof     int
	ghosted bool
	width   int
	box     grid.Box
	data    []float64
	access  int
	state   int
}

// Field is a handle to distributed storage.
type Field struct {
	st *storage
}

// New allocates a field on g. width is the halo width for WithGhosts fields and
// may not exceed the grid's stencil width; it is ignored for WithoutGhosts.
func New(g *grid.Grid, name string, kind Kind, width, dof int) (*Field, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", ErrInvalidShape)
	}
	if dof < 1 {
		return nil, fmt.Errorf("%w: dof %d", ErrInvalidShape, dof)
	}
	ghosted := kind == WithGhosts
	if !ghosted {
		width = 0
	}
	if width < 0 || width > g.StencilWidth() {
		return nil, fmt.Errorf("%w: stencil width %d (grid allows %d)", ErrInvalidShape, width, g.StencilWidth())
	}
	box := g.Owned().Grow(width)
	return &Field{st: &storage{
		grid:    g,
		meta:    NewMetadata(name),
		dof:     dof,
		ghosted: ghosted,
		width:   width,
		box:     box,
		data:    make([]float64, box.Len()*dof),
	}}, nil
}

func (f *Field) mustStorage() *storage {
	if f == nil || f.st == nil {
		panic(ErrReleased)
	}
	return f.st
}

// Valid reports whether the handle still refers to storage.
func (f *Field) Valid() bool {
	return f != nil && f.st != nil
}

// Same reports whether a and b are handles to the same storage.
func Same(a, b *Field) bool {
	return a.Valid() && b.Valid() && a.st == b.st
}

// Transfer moves the storage into a new handle and invalidates f.
func (f *Field) Transfer() (*Field, error) {
	if !f.Valid() {
		return nil, ErrReleased
	}
	moved := &Field{st: f.st}
	f.st = nil
	return moved, nil
}

// Destroy releases the storage. Every handle sharing this *Field becomes invalid.
func (f *Field) Destroy() {
	if !f.Valid() {
		return
	}
	f.st.data = nil
	f.st = nil
}

func (f *Field) Grid() *grid.Grid    { return f.mustStorage().grid }
func (f *Field) Metadata() *Metadata { return f.mustStorage().meta }
func (f *Field) Name() string        { return f.mustStorage().meta.Name() }
func (f *Field) Dof() int            { return f.mustStorage().dof }
func (f *Field) HasGhosts() bool     { return f.mustStorage().ghosted }
func (f *Field) StencilWidth() int   { return f.mustStorage().width }
func (f *Field) LocalBox() grid.Box  { return f.mustStorage().box }
func (f *Field) StateCounter() int   { return f.mustStorage().state }
func (f *Field) IncStateCounter()    { f.mustStorage().state++ }
func (f *Field) Accessed() int       { return f.mustStorage().access }
func (f *Field) String() string      { return describe(f) }

func describe(f *Field) string {
	if !f.Valid() {
		return "field(released)"
	}
	return fmt.Sprintf("field(%s dof=%d ghosts=%d)", f.st.meta.Name(), f.st.dof, f.st.width)
}

// BeginAccess opens point-wise access. Calls nest; each needs a matching EndAccess.
func (f *Field) BeginAccess() {
	f.mustStorage().access++
}

func (f *Field) EndAccess() error {
	st := f.mustStorage()
	if st.access == 0 {
		return fmt.Errorf("%w: %s", ErrUnbalanced, st.meta.Name())
	}
	st.access--
	return nil
}

func (st *storage) index(i, j, k int) int {
	if st.access == 0 {
		panic(fmt.Errorf("%w: %s(%d,%d)", ErrNotAccessed, st.meta.Name(), i, j))
	}
	if !st.box.Contains(i, j) || k < 0 || k >= st.dof {
		panic(fmt.Errorf("%w: %s(%d,%d,%d) box=%+v", ErrOutOfBounds, st.meta.Name(), i, j, k, st.box))
	}
	return ((j-st.box.Ys)*st.box.Xm+(i-st.box.Xs))*st.dof + k
}

// At returns component 0 at (i, j). The point must be owned or in the halo.
func (f *Field) At(i, j int) float64 {
	st := f.mustStorage()
	return st.data[st.index(i, j, 0)]
}

func (f *Field) Set(i, j int, v float64) {
	st := f.mustStorage()
	st.data[st.index(i, j, 0)] = v
}

// AtK returns component k at (i, j).
func (f *Field) AtK(i, j, k int) float64 {
	st := f.mustStorage()
	return st.data[st.index(i, j, k)]
}

func (f *Field) SetK(i, j, k int, v float64) {
	st := f.mustStorage()
	st.data[st.index(i, j, k)] = v
}

// Vector returns the first two components at (i, j).
func (f *Field) Vector(i, j int) (float64, float64) {
	st := f.mustStorage()
	n := st.index(i, j, 0)
	if st.dof < 2 {
		return st.data[n], 0
	}
	return st.data[n], st.data[n+1]
}

// SetAll sets every local value, halo included. It does not require access.
func (f *Field) SetAll(c float64) {
	st := f.mustStorage()
	for n := range st.data {
		st.data[n] = c
	}
	st.state++
}

// CopyFrom copies local values (halo included) from src, which must share grid and shape.
func (f *Field) CopyFrom(src *Field) error {
	st, other := f.mustStorage(), src.mustStorage()
	if st.grid != other.grid {
		return ErrGridMismatch
	}
	if st.dof != other.dof || st.box != other.box {
		return fmt.Errorf("%w: %s <- %s", ErrShapeMismatch, st.meta.Name(), other.meta.Name())
	}
	copy(st.data, other.data)
	st.state++
	return nil
}

// Local returns the backing slice, halo included, in the layout of LocalBox.
// Writes through it bypass the access counter.
func (f *Field) Local() []float64 {
	return f.mustStorage().data
}

// OwnedValues returns the owned values (no halo) in j-major, i, component order.
func (f *Field) OwnedValues() []float64 {
	st := f.mustStorage()
	owned := st.grid.Owned()
	out := make([]float64, 0, owned.Len()*st.dof)
	for j := owned.Ys; j < owned.Ys+owned.Ym; j++ {
		row := ((j-st.box.Ys)*st.box.Xm + (owned.Xs - st.box.Xs)) * st.dof
		out = append(out, st.data[row:row+owned.Xm*st.dof]...)
	}
	return out
}
