package vec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danmuck/icectl/internal/comm"
	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/testutil/testlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func params(mx, my int) grid.Params {
	p := grid.DefaultParams()
	p.Mx, p.My = mx, my
	p.Periodicity = grid.XYPeriodic
	return p
}

func runGrid(t *testing.T, size int, p grid.Params, fn func(ctx context.Context, g *grid.Grid) error) {
	t.Helper()
	cfg := comm.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	err := comm.Run(context.Background(), size, cfg, func(ctx context.Context, c *comm.Comm) error {
		g, err := grid.New(c, p)
		if err != nil {
			return err
		}
		return fn(ctx, g)
	})
	require.NoError(t, err)
}

func singleGrid(t *testing.T) *grid.Grid {
	t.Helper()
	group, err := comm.NewGroup(1, comm.DefaultConfig())
	require.NoError(t, err)
	c, err := group.Comm(0)
	require.NoError(t, err)
	g, err := grid.New(c, params(5, 4))
	require.NoError(t, err)
	return g
}

func newField(t *testing.T, g *grid.Grid, name string, kind field.Kind) *field.Field {
	t.Helper()
	width := 0
	if kind == field.WithGhosts {
		width = 1
	}
	f, err := field.New(g, name, kind, width, 1)
	require.NoError(t, err)
	return f
}

func TestNewAccessRejectsOverlap(t *testing.T) {
	testlog.Start(t)
	g := singleGrid(t)
	a := newField(t, g, "thk", field.WithGhosts)
	b := newField(t, g, "topg", field.WithoutGhosts)

	_, err := NewAccess([]*field.Field{a, b}, []*field.Field{b})
	require.ErrorIs(t, err, ErrOverlap)

	acc, err := NewAccess([]*field.Field{a, a}, nil)
	require.NoError(t, err)
	require.Len(t, acc.comm, 1, "duplicates collapse to one entry")

	dead := newField(t, g, "dead", field.WithoutGhosts)
	dead.Destroy()
	_, err = NewAccess(nil, []*field.Field{dead})
	require.ErrorIs(t, err, field.ErrReleased)
}

func TestAccessReleasesOnEveryExitPath(t *testing.T) {
	testlog.Start(t)
	g := singleGrid(t)
	a := newField(t, g, "A", field.WithGhosts)
	b := newField(t, g, "B", field.WithoutGhosts)
	acc, err := NewAccess([]*field.Field{a}, []*field.Field{b})
	require.NoError(t, err)

	t.Run("normal", func(t *testing.T) {
		err := acc.Do(context.Background(), func() error {
			require.Equal(t, 1, a.Accessed())
			require.Equal(t, 1, b.Accessed())
			a.Set(0, 0, 1)
			b.Set(0, 0, a.At(0, 0))
			return nil
		})
		require.NoError(t, err)
		require.Zero(t, a.Accessed())
		require.Zero(t, b.Accessed())
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		err := acc.Do(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
		require.Zero(t, a.Accessed())
		require.Zero(t, b.Accessed())
	})

	t.Run("panic", func(t *testing.T) {
		require.PanicsWithValue(t, "kaboom", func() {
			_ = acc.Do(context.Background(), func() error { panic("kaboom") })
		})
		require.Zero(t, a.Accessed())
		require.Zero(t, b.Accessed())
	})

	t.Run("goexit", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = With(context.Background(), []*field.Field{a}, []*field.Field{b}, func() error {
				runtime.Goexit()
				return nil
			})
		}()
		<-done
		require.Zero(t, a.Accessed())
		require.Zero(t, b.Accessed())
		require.NoError(t, acc.Do(context.Background(), func() error { return nil }))
	})

	t.Run("field access outside scope panics", func(t *testing.T) {
		require.Panics(t, func() { a.At(0, 0) })
	})
}

func TestNestedAccessIsRejected(t *testing.T) {
	testlog.Start(t)
	g := singleGrid(t)
	a := newField(t, g, "A", field.WithGhosts)
	b := newField(t, g, "B", field.WithoutGhosts)
	outer, err := NewAccess([]*field.Field{a}, nil)
	require.NoError(t, err)
	inner, err := NewAccess(nil, []*field.Field{b, a})
	require.NoError(t, err)

	err = outer.Do(context.Background(), func() error {
		return inner.Do(context.Background(), func() error {
			t.Fatalf("inner body must not run")
			return nil
		})
	})
	require.ErrorIs(t, err, ErrNestedAccess)
	require.Zero(t, a.Accessed())
	require.Zero(t, b.Accessed(), "nothing is acquired by a rejected scope")

	scope, err := inner.Enter(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())
}

func TestAccessSynchronizesGhosts(t *testing.T) {
	testlog.Start(t)
	runGrid(t, 4, params(8, 6), func(ctx context.Context, g *grid.Grid) error {
		f, err := field.New(g, "usurf", field.WithGhosts, 1, 1)
		if err != nil {
			return err
		}
		probe := func(i, j int) float64 { return float64(100*j + i) }

		// values written in the first scope reach neighbors through SyncOnExit
		err = With(ctx, []*field.Field{f}, nil, func() error {
			for i, j := range g.Points() {
				f.Set(i, j, probe(i, j))
			}
			return nil
		}, SyncOnExit())
		if err != nil {
			return err
		}
		// a plain scope syncs again on entry; ghosts must still agree
		return With(ctx, []*field.Field{f}, nil, func() error {
			for i, j := range g.PointsWithGhosts(1) {
				si, sj, _ := g.Wrap(i, j)
				if got := f.At(i, j); got != probe(si, sj) {
					return fmt.Errorf("rank %d ghost (%d,%d) = %v", g.Rank(), i, j, got)
				}
			}
			return nil
		})
	})
}

func TestToProcZeroValidatesShape(t *testing.T) {
	testlog.Start(t)
	g := singleGrid(t)

	tz, err := NewToProcZero(g, 2, 3)
	require.ErrorIs(t, err, ErrNotImplemented)
	require.Nil(t, tz)

	for _, tc := range []struct{ dof, dim int }{{1, 0}, {1, 4}, {0, 2}} {
		_, err := NewToProcZero(g, tc.dof, tc.dim)
		require.ErrorIs(t, err, ErrInvalidShape, "dof=%d dim=%d", tc.dof, tc.dim)
	}

	for _, dim := range []int{1, 2} {
		tz, err := NewToProcZero(g, 1, dim)
		require.NoError(t, err)
		require.Equal(t, dim, tz.Dim())
	}

	tz, err = NewToProcZero(g, 2, 2)
	require.NoError(t, err)
	_, err = tz.Communicate(context.Background(), newField(t, g, "scalar", field.WithoutGhosts))
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestToProcZeroGathersInNaturalOrder(t *testing.T) {
	testlog.Start(t)
	const mx, my, dof = 7, 5, 2
	want := make([]float64, 0, mx*my*dof)
	for j := 0; j < my; j++ {
		for i := 0; i < mx; i++ {
			for k := 0; k < dof; k++ {
				want = append(want, float64(1000*j+10*i+k))
			}
		}
	}

	for _, size := range []int{1, 2, 4, 6} {
		t.Run(fmt.Sprintf("%d ranks", size), func(t *testing.T) {
			runGrid(t, size, params(mx, my), func(ctx context.Context, g *grid.Grid) error {
				f, err := field.New(g, "bar", field.WithGhosts, 1, dof)
				if err != nil {
					return err
				}
				f.SetAll(-1)
				f.BeginAccess()
				for i, j := range g.Points() {
					for k := 0; k < dof; k++ {
						f.SetK(i, j, k, float64(1000*j+10*i+k))
					}
				}
				if err := f.EndAccess(); err != nil {
					return err
				}

				tz, err := NewToProcZero(g, dof, 2)
				if err != nil {
					return err
				}
				for round := 0; round < 2; round++ {
					arr, err := tz.Communicate(ctx, f)
					if err != nil {
						return err
					}
					if g.Rank() != 0 {
						if !arr.Empty() {
							return fmt.Errorf("rank %d received data", g.Rank())
						}
						continue
					}
					if diff := cmp.Diff([]int{my, mx, dof}, arr.Shape); diff != "" {
						return fmt.Errorf("shape (-want +got):\n%s", diff)
					}
					if diff := cmp.Diff(want, arr.Data); diff != "" {
						return fmt.Errorf("round %d data (-want +got):\n%s", round, diff)
					}
				}
				return nil
			})
		})
	}
}

func TestToProcZeroFlatAndScalar(t *testing.T) {
	testlog.Start(t)
	runGrid(t, 3, params(6, 4), func(ctx context.Context, g *grid.Grid) error {
		s, err := RandVectorS(ctx, g, 2, 0)
		if err != nil {
			return err
		}
		flat, err := NewToProcZero(g, 1, 1)
		if err != nil {
			return err
		}
		square, err := NewToProcZero(g, 1, 2)
		if err != nil {
			return err
		}
		a, err := flat.Communicate(ctx, s)
		if err != nil {
			return err
		}
		b, err := square.Communicate(ctx, s)
		if err != nil {
			return err
		}
		if g.Rank() != 0 {
			return nil
		}
		if diff := cmp.Diff([]int{24}, a.Shape); diff != "" {
			return fmt.Errorf("flat shape: %s", diff)
		}
		if diff := cmp.Diff([]int{4, 6}, b.Shape); diff != "" {
			return fmt.Errorf("2d shape: %s", diff)
		}
		if diff := cmp.Diff(a.Data, b.Data); diff != "" {
			return fmt.Errorf("flat and 2d data differ: %s", diff)
		}
		return nil
	})
}

func TestRandomFieldsIndependentOfDecomposition(t *testing.T) {
	testlog.Start(t)
	p := params(6, 6)
	gather := func(size int) []float64 {
		var out []float64
		runGrid(t, size, p, func(ctx context.Context, g *grid.Grid) error {
			v, err := RandVectorV(ctx, g, 10, 1)
			if err != nil {
				return err
			}
			if v.Dof() != 2 || v.StencilWidth() != 1 {
				return fmt.Errorf("unexpected shape %s", v)
			}
			lo, hi, err := v.Range(ctx)
			if err != nil {
				return err
			}
			if lo < 0 || hi >= 10 {
				return fmt.Errorf("values outside [0, 10): [%v, %v]", lo, hi)
			}
			tz, err := NewToProcZero(g, 2, 2)
			if err != nil {
				return err
			}
			arr, err := tz.Communicate(ctx, v)
			if err != nil {
				return err
			}
			if g.Rank() == 0 {
				out = arr.Data
			}
			return nil
		})
		return out
	}
	one, four := gather(1), gather(4)
	require.NotEmpty(t, one)
	require.Empty(t, cmp.Diff(one, four))
}
