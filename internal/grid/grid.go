// Package grid describes the domain-decomposed 2D mesh that fields live on.
//
// The domain is [-Lx, Lx] x [-Ly, Ly] sampled at Mx x My points. Each rank owns a
// rectangular tile of points; fields with ghosts also hold a halo of width up
// to the grid's stencil width around that tile.
package grid

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/danmuck/icectl/internal/comm"
)

var (
	ErrInvalidParams = errors.New("grid: invalid parameters")
	ErrLayout        = errors.New("grid: processor layout does not match group size")
)

// Periodicity selects which directions wrap around.
type Periodicity int

const (
	NotPeriodic Periodicity = iota
	XPeriodic
	YPeriodic
	XYPeriodic
)

func (p Periodicity) X() bool { return p == XPeriodic || p == XYPeriodic }
func (p Periodicity) Y() bool { return p == YPeriodic || p == XYPeriodic }

func (p Periodicity) String() string {
	switch p {
	case NotPeriodic:
		return "none"
	case XPeriodic:
		return "x"
	case YPeriodic:
		return "y"
	case XYPeriodic:
		return "xy"
	default:
		return fmt.Sprintf("periodicity(%d)", int(p))
	}
}

// ParsePeriodicity accepts the names produced by Periodicity.String.
func ParsePeriodicity(raw string) (Periodicity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "not_periodic":
		return NotPeriodic, nil
	case "x":
		return XPeriodic, nil
	case "y":
		return YPeriodic, nil
	case "xy", "both":
		return XYPeriodic, nil
	default:
		return NotPeriodic, fmt.Errorf("%w: unknown periodicity %q", ErrInvalidParams, raw)
	}
}

// Params defines the global mesh. ProcsX/ProcsY of zero pick a layout automatically.
type Params struct {
	Mx, My       int
	Lx, Ly       float64
	Periodicity  Periodicity
	StencilWidth int
	ProcsX       int
	ProcsY       int
}

func DefaultParams() Params {
	return Params{
		Mx:           61,
		My:           61,
		Lx:           1e5,
		Ly:           1e5,
		Periodicity:  NotPeriodic,
		StencilWidth: 2,
	}
}

// Box is a half-open rectangle of grid indices [Xs, Xs+Xm) x [Ys, Ys+Ym).
type Box struct {
	Xs, Xm int
	Ys, Ym int
}

func (b Box) Contains(i, j int) bool {
	return i >= b.Xs && i < b.Xs+b.Xm && j >= b.Ys && j < b.Ys+b.Ym
}

func (b Box) Len() int {
	return b.Xm * b.Ym
}

// Grow returns b extended by w cells on every side.
func (b Box) Grow(w int) Box {
	return Box{Xs: b.Xs - w, Xm: b.Xm + 2*w, Ys: b.Ys - w, Ym: b.Ym + 2*w}
}

// Coord is one owned point with its physical coordinates.
type Coord struct {
	I, J int
	X, Y float64
}

// Grid is one rank's view of the decomposed mesh.
type Grid struct {
	params Params
	comm   *comm.Comm
	procsX int
	procsY int
	xRange []int // ownership split points, len procsX+1
	yRange []int
	box    Box
}

// New decomposes the mesh over c's process group. Every rank must call New with
// identical params.
func New(c *comm.Comm, p Params) (*Grid, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	px, py := p.ProcsX, p.ProcsY
	if px == 0 && py == 0 {
		px, py = Layout(c.Size(), p.Mx, p.My)
	}
	if px*py != c.Size() {
		return nil, fmt.Errorf("%w: %dx%d for %d ranks", ErrLayout, px, py, c.Size())
	}
	if px > p.Mx || py > p.My {
		return nil, fmt.Errorf("%w: %dx%d ranks for a %dx%d grid", ErrLayout, px, py, p.Mx, p.My)
	}
	g := &Grid{
		params: p,
		comm:   c,
		procsX: px,
		procsY: py,
		xRange: split(p.Mx, px),
		yRange: split(p.My, py),
	}
	g.box = g.Box(c.Rank())
	return g, nil
}

// Validate checks grid parameters without a communicator.
func Validate(p Params) error {
	if p.Mx < 3 || p.My < 3 {
		return fmt.Errorf("%w: Mx=%d My=%d (need >= 3)", ErrInvalidParams, p.Mx, p.My)
	}
	if p.Lx <= 0 || p.Ly <= 0 {
		return fmt.Errorf("%w: Lx=%g Ly=%g (need > 0)", ErrInvalidParams, p.Lx, p.Ly)
	}
	if p.StencilWidth < 0 {
		return fmt.Errorf("%w: stencil width %d", ErrInvalidParams, p.StencilWidth)
	}
	if p.ProcsX < 0 || p.ProcsY < 0 || (p.ProcsX == 0) != (p.ProcsY == 0) {
		return fmt.Errorf("%w: processor layout %dx%d", ErrInvalidParams, p.ProcsX, p.ProcsY)
	}
	return nil
}

// Layout picks a procsX x procsY factorization of size whose tiles are closest to square.
func Layout(size, mx, my int) (int, int) {
	bestX, bestY := size, 1
	bestScore := -1.0
	for px := 1; px <= size; px++ {
		if size%px != 0 {
			continue
		}
		py := size / px
		if px > mx || py > my {
			continue
		}
		w := float64(mx) / float64(px)
		h := float64(my) / float64(py)
		score := w / h
		if score > 1 {
			score = 1 / score
		}
		if score > bestScore {
			bestScore, bestX, bestY = score, px, py
		}
	}
	return bestX, bestY
}

// split divides n points into parts ranges; the first n%parts ranges get one extra point.
func split(n, parts int) []int {
	out := make([]int, parts+1)
	base, extra := n/parts, n%parts
	for p := 0; p < parts; p++ {
		width := base
		if p < extra {
			width++
		}
		out[p+1] = out[p] + width
	}
	return out
}

func (g *Grid) Params() Params           { return g.params }
func (g *Grid) Mx() int                  { return g.params.Mx }
func (g *Grid) My() int                  { return g.params.My }
func (g *Grid) Lx() float64              { return g.params.Lx }
func (g *Grid) Ly() float64              { return g.params.Ly }
func (g *Grid) Periodicity() Periodicity { return g.params.Periodicity }
func (g *Grid) StencilWidth() int        { return g.params.StencilWidth }
func (g *Grid) Comm() *comm.Comm         { return g.comm }
func (g *Grid) Rank() int                { return g.comm.Rank() }
func (g *Grid) Size() int                { return g.comm.Size() }
func (g *Grid) Procs() (int, int)        { return g.procsX, g.procsY }

// Owned returns this rank's tile.
func (g *Grid) Owned() Box {
	return g.box
}

// Box returns the tile owned by rank. Ranks are numbered x-fastest.
func (g *Grid) Box(rank int) Box {
	px, py := rank%g.procsX, rank/g.procsX
	return Box{
		Xs: g.xRange[px], Xm: g.xRange[px+1] - g.xRange[px],
		Ys: g.yRange[py], Ym: g.yRange[py+1] - g.yRange[py],
	}
}

// Owner returns the rank owning global point (i, j), which must be inside the domain.
func (g *Grid) Owner(i, j int) int {
	return g.ownerIndex(g.xRange, i) + g.procsX*g.ownerIndex(g.yRange, j)
}

func (g *Grid) ownerIndex(ranges []int, v int) int {
	lo, hi := 0, len(ranges)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if ranges[mid] <= v {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// Wrap maps a possibly out-of-domain index pair to its in-domain source, wrapping
// periodic directions. ok is false when the point lies outside a non-periodic edge.
func (g *Grid) Wrap(i, j int) (int, int, bool) {
	i, okX := wrap(i, g.params.Mx, g.params.Periodicity.X())
	j, okY := wrap(j, g.params.My, g.params.Periodicity.Y())
	return i, j, okX && okY
}

func wrap(v, n int, periodic bool) (int, bool) {
	if v >= 0 && v < n {
		return v, true
	}
	if !periodic {
		return v, false
	}
	v %= n
	if v < 0 {
		v += n
	}
	return v, true
}

// Dx returns the grid spacing in x. Periodic directions do not repeat the end point.
func (g *Grid) Dx() float64 {
	return spacing(g.params.Lx, g.params.Mx, g.params.Periodicity.X())
}

func (g *Grid) Dy() float64 {
	return spacing(g.params.Ly, g.params.My, g.params.Periodicity.Y())
}

func spacing(l float64, m int, periodic bool) float64 {
	if periodic {
		return 2 * l / float64(m)
	}
	return 2 * l / float64(m-1)
}

func (g *Grid) X(i int) float64 { return -g.params.Lx + float64(i)*g.Dx() }
func (g *Grid) Y(j int) float64 { return -g.params.Ly + float64(j)*g.Dy() }

// Points iterates over the owned points, j-major.
func (g *Grid) Points() iter.Seq2[int, int] {
	return boxPoints(g.box)
}

// PointsWithGhosts iterates over owned points plus a halo of width points. The
// halo is clipped to the stencil width and to non-periodic domain edges.
func (g *Grid) PointsWithGhosts(width int) iter.Seq2[int, int] {
	width = min(max(width, 0), g.params.StencilWidth)
	b := g.box.Grow(width)
	if !g.params.Periodicity.X() {
		b = clipX(b, g.params.Mx)
	}
	if !g.params.Periodicity.Y() {
		b = clipY(b, g.params.My)
	}
	return boxPoints(b)
}

// Coords iterates over owned points together with their physical coordinates.
func (g *Grid) Coords() iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		for i, j := range g.Points() {
			if !yield(Coord{I: i, J: j, X: g.X(i), Y: g.Y(j)}) {
				return
			}
		}
	}
}

func boxPoints(b Box) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for j := b.Ys; j < b.Ys+b.Ym; j++ {
			for i := b.Xs; i < b.Xs+b.Xm; i++ {
				if !yield(i, j) {
					return
				}
			}
		}
	}
}

func clipX(b Box, mx int) Box {
	lo, hi := max(b.Xs, 0), min(b.Xs+b.Xm, mx)
	b.Xs, b.Xm = lo, hi-lo
	return b
}

func clipY(b Box, my int) Box {
	lo, hi := max(b.Ys, 0), min(b.Ys+b.Ym, my)
	b.Ys, b.Ym = lo, hi-lo
	return b
}
