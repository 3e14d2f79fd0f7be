package field

import (
	"context"
	"math"

	"github.com/danmuck/icectl/internal/comm"
)

// NormType selects the norm computed by Norm.
type NormType int

const (
	Norm1 NormType = iota
	Norm2
	NormInf
)

// Range returns the global minimum and maximum over owned values of every
// component. Collective.
func (f *Field) Range(ctx context.Context) (float64, float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range f.OwnedValues() {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	c := f.Grid().Comm()
	gmin, err := c.AllreduceFloat(ctx, lo, comm.OpMin)
	if err != nil {
		return 0, 0, err
	}
	gmax, err := c.AllreduceFloat(ctx, hi, comm.OpMax)
	if err != nil {
		return 0, 0, err
	}
	return gmin, gmax, nil
}

// Sum returns the global sum of owned values of every component. Collective.
func (f *Field) Sum(ctx context.Context) (float64, error) {
	local := 0.0
	for _, v := range f.OwnedValues() {
		local += v
	}
	return f.Grid().Comm().AllreduceFloat(ctx, local, comm.OpSum)
}

// Norm returns the global norm of owned values of every component. Collective.
func (f *Field) Norm(ctx context.Context, kind NormType) (float64, error) {
	c := f.Grid().Comm()
	values := f.OwnedValues()
	switch kind {
	case NormInf:
		local := 0.0
		for _, v := range values {
			local = math.Max(local, math.Abs(v))
		}
		return c.AllreduceFloat(ctx, local, comm.OpMax)
	case Norm2:
		local := 0.0
		for _, v := range values {
			local += v * v
		}
		total, err := c.AllreduceFloat(ctx, local, comm.OpSum)
		if err != nil {
			return 0, err
		}
		return math.Sqrt(total), nil
	default:
		local := 0.0
		for _, v := range values {
			local += math.Abs(v)
		}
		return c.AllreduceFloat(ctx, local, comm.OpSum)
	}
}
