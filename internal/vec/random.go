package vec

import (
	"context"
	"math/rand/v2"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
)

const randomSeed = 0x1CE5EED

// RandVectorS returns a scalar field filled with values in [0, scale). Values
// depend only on the global point, so every decomposition sees the same field.
// A positive ghosts allocates a halo of that width and fills it. Collective
// when ghosts > 0.
func RandVectorS(ctx context.Context, g *grid.Grid, scale float64, ghosts int) (*field.Field, error) {
	return randVector(ctx, g, "rand_s", 1, scale, ghosts)
}

// RandVectorV is RandVectorS for a two-component field.
func RandVectorV(ctx context.Context, g *grid.Grid, scale float64, ghosts int) (*field.Field, error) {
	return randVector(ctx, g, "rand_v", 2, scale, ghosts)
}

func randVector(ctx context.Context, g *grid.Grid, name string, dof int, scale float64, ghosts int) (*field.Field, error) {
	kind := field.WithoutGhosts
	if ghosts > 0 {
		kind = field.WithGhosts
	}
	f, err := field.New(g, name, kind, ghosts, dof)
	if err != nil {
		return nil, err
	}
	f.BeginAccess()
	for i, j := range g.Points() {
		r := rand.New(rand.NewPCG(randomSeed, uint64(j*g.Mx()+i)))
		for k := 0; k < dof; k++ {
			f.SetK(i, j, k, scale*r.Float64())
		}
	}
	if err := f.EndAccess(); err != nil {
		return nil, err
	}
	f.IncStateCounter()
	if err := f.UpdateGhosts(ctx); err != nil {
		f.Destroy()
		return nil, err
	}
	return f, nil
}
