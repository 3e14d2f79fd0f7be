package field

import (
	"context"
	"fmt"

	"github.com/danmuck/icectl/internal/grid"
)

// haloCell is one ghost point of a rank's halo and the in-domain point it mirrors.
type haloCell struct {
	i, j   int // local (possibly out-of-domain) ghost index
	si, sj int // source index inside the domain
}

// halo enumerates the ghost cells of rank's tile grown by width, j-major. Points
// beyond a non-periodic edge have no source and are skipped. Sender and receiver
// both walk this order, which is what pairs values across ranks.
func halo(g *grid.Grid, rank, width int, yield func(haloCell)) {
	owned := g.Box(rank)
	grown := owned.Grow(width)
	for j := grown.Ys; j < grown.Ys+grown.Ym; j++ {
		for i := grown.Xs; i < grown.Xs+grown.Xm; i++ {
			if owned.Contains(i, j) {
				continue
			}
			si, sj, ok := g.Wrap(i, j)
			if !ok {
				continue
			}
			yield(haloCell{i: i, j: j, si: si, sj: sj})
		}
	}
}

// UpdateGhosts refreshes the halo from the owning ranks. It is collective over
// the grid's process group and a no-op for fields without ghosts.
func (f *Field) UpdateGhosts(ctx context.Context) error {
	st := f.mustStorage()
	if !st.ghosted || st.width == 0 {
		return nil
	}
	g := st.grid
	c := g.Comm()
	me := c.Rank()

	send := make([][]float64, c.Size())
	for peer := range send {
		halo(g, peer, st.width, func(h haloCell) {
			if g.Owner(h.si, h.sj) != me {
				return
			}
			n := st.offset(h.si, h.sj)
			send[peer] = append(send[peer], st.data[n:n+st.dof]...)
		})
	}

	recv, err := c.Alltoall(ctx, send)
	if err != nil {
		return fmt.Errorf("update ghosts %s: %w", st.meta.Name(), err)
	}

	cursor := make([]int, c.Size())
	var short error
	halo(g, me, st.width, func(h haloCell) {
		if short != nil {
			return
		}
		from := g.Owner(h.si, h.sj)
		pos := cursor[from]
		if pos+st.dof > len(recv[from]) {
			short = fmt.Errorf("update ghosts %s: short halo payload from rank %d", st.meta.Name(), from)
			return
		}
		n := st.offset(h.i, h.j)
		copy(st.data[n:n+st.dof], recv[from][pos:pos+st.dof])
		cursor[from] = pos + st.dof
	})
	return short
}

// offset is index without the access check, for internal bulk copies.
func (st *storage) offset(i, j int) int {
	return ((j-st.box.Ys)*st.box.Xm + (i - st.box.Xs)) * st.dof
}
