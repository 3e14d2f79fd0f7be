package comm

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/icectl/internal/observability"
)

// Config defines collective behavior for a process group.
type Config struct {
	// Timeout bounds how long a rank waits for a peer inside one collective.
	// Zero waits forever.
	Timeout time.Duration
	// LinkBuffer is the per-link message capacity.
	LinkBuffer int
	// Logger is the base for rank loggers. Nil uses the global logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns collective defaults used by the CLI and tests.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		LinkBuffer: 2,
	}
}

type message struct {
	seq  uint64
	op   opKind
	data []float64
}

// Group is a fixed-size set of ranks connected by point-to-point links.
type Group struct {
	size  int
	cfg   Config
	links [][]chan message // links[from][to]

	abortOnce sync.Once
	aborted   chan struct{}
	cause     error
}

// NewGroup creates a group of size ranks.
func NewGroup(size int, cfg Config) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if cfg.LinkBuffer < 1 {
		cfg.LinkBuffer = 1
	}
	links := make([][]chan message, size)
	for from := range links {
		links[from] = make([]chan message, size)
		for to := range links[from] {
			links[from][to] = make(chan message, cfg.LinkBuffer)
		}
	}
	return &Group{
		size:    size,
		cfg:     cfg,
		links:   links,
		aborted: make(chan struct{}),
	}, nil
}

// Size returns the number of ranks.
func (g *Group) Size() int {
	return g.size
}

// Comm returns the communicator for rank. Each rank must use exactly one Comm.
func (g *Group) Comm(rank int) (*Comm, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrInvalidRank, rank, g.size)
	}
	return &Comm{
		group:  g,
		rank:   rank,
		logger: g.baseLogger().With().Int("rank", rank).Logger(),
	}, nil
}

func (g *Group) baseLogger() zerolog.Logger {
	if g.cfg.Logger != nil {
		return *g.cfg.Logger
	}
	return log.Logger
}

// Abort fails the whole group. The first cause wins; later calls are ignored.
func (g *Group) Abort(cause error) {
	g.abortOnce.Do(func() {
		if cause == nil {
			cause = ErrAborted
		}
		g.cause = cause
		close(g.aborted)
		observability.RecordGroupAbort()
		l := g.baseLogger()
		l.Error().Err(cause).Int("size", g.size).Msg("process group aborted")
	})
}

// Err returns the abort cause wrapped in ErrAborted, or nil while the group is healthy.
func (g *Group) Err() error {
	select {
	case <-g.aborted:
		return fmt.Errorf("%w: %w", ErrAborted, g.cause)
	default:
		return nil
	}
}

// Done is closed when the group aborts.
func (g *Group) Done() <-chan struct{} {
	return g.aborted
}

// Run executes fn once per rank on its own goroutine and waits for all of them.
// A rank that returns an error or panics aborts the group, which unblocks every
// peer waiting in a collective.
func Run(ctx context.Context, size int, cfg Config, fn func(ctx context.Context, c *Comm) error) error {
	g, err := NewGroup(size, cfg)
	if err != nil {
		return err
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c, err := g.Comm(rank)
		if err != nil {
			return err
		}
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("rank %d panic: %v\n%s", c.rank, r, debug.Stack())
				}
				if err != nil {
					g.Abort(err)
				}
			}()
			return fn(egCtx, c)
		})
	}
	return eg.Wait()
}
