package vec

import (
	"context"
	"fmt"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
)

const rootRank = 0

// boxHeader is the number of leading values in a gather payload describing the
// sender's tile.
const boxHeader = 4

// Array is a gathered field in natural order: j-major, then i, then component.
type Array struct {
	Shape []int
	Data  []float64
}

// Empty reports whether the array carries no values, as on non-root ranks.
func (a Array) Empty() bool {
	return len(a.Data) == 0
}

// ToProcZero gathers fields of one shape onto rank 0. It keeps no state
// between calls.
type ToProcZero struct {
	grid *grid.Grid
	dof  int
	dim  int
}

// NewToProcZero validates the shape up front. Three-dimensional fields are not
// supported.
func NewToProcZero(g *grid.Grid, dof, dim int) (*ToProcZero, error) {
	if dim == 3 {
		return nil, fmt.Errorf("%w: gathering 3D fields", ErrNotImplemented)
	}
	if dim != 1 && dim != 2 {
		return nil, fmt.Errorf("%w: dim %d", ErrInvalidShape, dim)
	}
	if dof < 1 {
		return nil, fmt.Errorf("%w: dof %d", ErrInvalidShape, dof)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", ErrInvalidShape)
	}
	return &ToProcZero{grid: g, dof: dof, dim: dim}, nil
}

func (t *ToProcZero) Dof() int { return t.dof }
func (t *ToProcZero) Dim() int { return t.dim }

// Shape is the shape of the array returned on the root rank.
func (t *ToProcZero) Shape() []int {
	mx, my := t.grid.Mx(), t.grid.My()
	switch {
	case t.dim == 1:
		return []int{my * mx * t.dof}
	case t.dof == 1:
		return []int{my, mx}
	default:
		return []int{my, mx, t.dof}
	}
}

// Communicate gathers f's owned values. Every rank must call it; only rank 0
// gets a populated Array.
func (t *ToProcZero) Communicate(ctx context.Context, f *field.Field) (Array, error) {
	if f.Grid() != t.grid {
		return Array{}, field.ErrGridMismatch
	}
	if f.Dof() != t.dof {
		return Array{}, fmt.Errorf("%w: field %s has dof %d, gather expects %d", ErrInvalidShape, f.Name(), f.Dof(), t.dof)
	}

	owned := t.grid.Owned()
	values := f.OwnedValues()
	payload := make([]float64, 0, boxHeader+len(values))
	payload = append(payload, float64(owned.Xs), float64(owned.Xm), float64(owned.Ys), float64(owned.Ym))
	payload = append(payload, values...)

	c := t.grid.Comm()
	parts, err := c.Gather(ctx, rootRank, payload)
	if err != nil {
		return Array{}, fmt.Errorf("gather %s: %w", f.Name(), err)
	}
	if c.Rank() != rootRank {
		return Array{}, nil
	}

	mx := t.grid.Mx()
	out := make([]float64, t.grid.My()*mx*t.dof)
	for rank, part := range parts {
		if len(part) < boxHeader {
			return Array{}, fmt.Errorf("gather %s: short payload from rank %d", f.Name(), rank)
		}
		b := grid.Box{Xs: int(part[0]), Xm: int(part[1]), Ys: int(part[2]), Ym: int(part[3])}
		data := part[boxHeader:]
		if len(data) != b.Len()*t.dof {
			return Array{}, fmt.Errorf("gather %s: rank %d sent %d values for a %dx%d tile", f.Name(), rank, len(data), b.Xm, b.Ym)
		}
		row := b.Xm * t.dof
		for j := 0; j < b.Ym; j++ {
			dst := ((b.Ys+j)*mx + b.Xs) * t.dof
			copy(out[dst:dst+row], data[j*row:(j+1)*row])
		}
	}
	return Array{Shape: t.Shape(), Data: out}, nil
}
