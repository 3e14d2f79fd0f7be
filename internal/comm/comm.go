package comm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/icectl/internal/observability"
)

type opKind uint8

const (
	opBarrier opKind = iota + 1
	opAlltoall
	opGather
	opBcast
	opAllreduce
)

func (o opKind) String() string {
	switch o {
	case opBarrier:
		return "barrier"
	case opAlltoall:
		return "alltoall"
	case opGather:
		return "gather"
	case opBcast:
		return "bcast"
	case opAllreduce:
		return "allreduce"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// ReduceOp selects the element-wise reduction applied by Allreduce.
type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
)

// Comm is one rank's view of a Group. A Comm is not safe for concurrent use;
// each rank drives its own Comm from a single goroutine.
type Comm struct {
	group  *Group
	rank   int
	seq    uint64
	logger zerolog.Logger
}

func (c *Comm) Rank() int {
	return c.rank
}

func (c *Comm) Size() int {
	return c.group.size
}

// IsRoot reports whether this rank is rank 0.
func (c *Comm) IsRoot() bool {
	return c.rank == 0
}

func (c *Comm) Group() *Group {
	return c.group
}

// Logger returns a logger tagged with this rank.
func (c *Comm) Logger() *zerolog.Logger {
	return &c.logger
}

// Barrier blocks until every rank has entered it.
func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.alltoall(ctx, opBarrier, make([][]float64, c.group.size))
	return err
}

// Alltoall sends send[p] to rank p and returns the payloads received from every rank,
// indexed by source rank.
func (c *Comm) Alltoall(ctx context.Context, send [][]float64) ([][]float64, error) {
	if len(send) != c.group.size {
		err := fmt.Errorf("%w: rank %d alltoall with %d payloads for %d ranks", ErrBadPayload, c.rank, len(send), c.group.size)
		c.group.Abort(err)
		return nil, c.group.Err()
	}
	return c.alltoall(ctx, opAlltoall, send)
}

// Gather collects data from every rank on root. Root receives payloads indexed by
// source rank; every other rank receives nil.
func (c *Comm) Gather(ctx context.Context, root int, data []float64) ([][]float64, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	start := time.Now()
	seq, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer func() { observability.RecordCollective(opGather.String(), time.Since(start)) }()

	if c.rank != root {
		return nil, c.send(ctx, root, message{seq: seq, op: opGather, data: clone(data)})
	}
	out := make([][]float64, c.group.size)
	out[root] = clone(data)
	for from := 0; from < c.group.size; from++ {
		if from == root {
			continue
		}
		payload, err := c.recv(ctx, from, opGather, seq)
		if err != nil {
			return nil, err
		}
		out[from] = payload
	}
	return out, nil
}

// Bcast distributes root's data to every rank. The data argument is ignored on
// non-root ranks.
func (c *Comm) Bcast(ctx context.Context, root int, data []float64) ([]float64, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	start := time.Now()
	seq, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer func() { observability.RecordCollective(opBcast.String(), time.Since(start)) }()

	if c.rank == root {
		for to := 0; to < c.group.size; to++ {
			if to == root {
				continue
			}
			if err := c.send(ctx, to, message{seq: seq, op: opBcast, data: clone(data)}); err != nil {
				return nil, err
			}
		}
		return clone(data), nil
	}
	return c.recv(ctx, root, opBcast, seq)
}

// Allreduce reduces vals element-wise across all ranks. Every rank receives the
// same result; reduction order is by rank so results are bitwise identical.
func (c *Comm) Allreduce(ctx context.Context, vals []float64, op ReduceOp) ([]float64, error) {
	send := make([][]float64, c.group.size)
	for p := range send {
		send[p] = vals
	}
	parts, err := c.alltoall(ctx, opAllreduce, send)
	if err != nil {
		return nil, err
	}
	out := clone(parts[0])
	for from := 1; from < len(parts); from++ {
		if len(parts[from]) != len(out) {
			err := fmt.Errorf("%w: allreduce length %d from rank %d, want %d", ErrMismatch, len(parts[from]), from, len(out))
			c.group.Abort(err)
			return nil, c.group.Err()
		}
		for i, v := range parts[from] {
			switch op {
			case OpMin:
				out[i] = math.Min(out[i], v)
			case OpMax:
				out[i] = math.Max(out[i], v)
			default:
				out[i] += v
			}
		}
	}
	return out, nil
}

// AllreduceFloat is Allreduce for a single value.
func (c *Comm) AllreduceFloat(ctx context.Context, v float64, op ReduceOp) (float64, error) {
	out, err := c.Allreduce(ctx, []float64{v}, op)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (c *Comm) alltoall(ctx context.Context, op opKind, send [][]float64) ([][]float64, error) {
	start := time.Now()
	seq, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer func() { observability.RecordCollective(op.String(), time.Since(start)) }()

	for to := 0; to < c.group.size; to++ {
		if err := c.send(ctx, to, message{seq: seq, op: op, data: clone(send[to])}); err != nil {
			return nil, err
		}
	}
	out := make([][]float64, c.group.size)
	for from := 0; from < c.group.size; from++ {
		payload, err := c.recv(ctx, from, op, seq)
		if err != nil {
			return nil, err
		}
		out[from] = payload
	}
	return out, nil
}

func (c *Comm) begin() (uint64, error) {
	if err := c.group.Err(); err != nil {
		return 0, err
	}
	c.seq++
	return c.seq, nil
}

func (c *Comm) checkRoot(root int) error {
	if root < 0 || root >= c.group.size {
		err := fmt.Errorf("%w: root %d (size %d)", ErrInvalidRank, root, c.group.size)
		c.group.Abort(err)
		return c.group.Err()
	}
	return nil
}

func (c *Comm) send(ctx context.Context, to int, m message) error {
	expired, stop := c.deadline()
	defer stop()
	select {
	case c.group.links[c.rank][to] <- m:
		return nil
	case <-c.group.aborted:
		return c.group.Err()
	case <-ctx.Done():
		c.group.Abort(fmt.Errorf("rank %d: %w", c.rank, ctx.Err()))
		return c.group.Err()
	case <-expired:
		c.group.Abort(fmt.Errorf("%w: rank %d sending %s #%d to rank %d", ErrTimeout, c.rank, m.op, m.seq, to))
		return c.group.Err()
	}
}

func (c *Comm) recv(ctx context.Context, from int, op opKind, seq uint64) ([]float64, error) {
	expired, stop := c.deadline()
	defer stop()
	select {
	case m := <-c.group.links[from][c.rank]:
		if m.seq != seq || m.op != op {
			c.group.Abort(fmt.Errorf(
				"%w: rank %d expected %s #%d from rank %d, got %s #%d",
				ErrMismatch, c.rank, op, seq, from, m.op, m.seq,
			))
			return nil, c.group.Err()
		}
		return m.data, nil
	case <-c.group.aborted:
		return nil, c.group.Err()
	case <-ctx.Done():
		c.group.Abort(fmt.Errorf("rank %d: %w", c.rank, ctx.Err()))
		return nil, c.group.Err()
	case <-expired:
		c.group.Abort(fmt.Errorf("%w: rank %d waiting for %s #%d from rank %d", ErrTimeout, c.rank, op, seq, from))
		return nil, c.group.Err()
	}
}

func (c *Comm) deadline() (<-chan time.Time, func()) {
	if c.group.cfg.Timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(c.group.cfg.Timeout)
	return t.C, func() { t.Stop() }
}

func clone(data []float64) []float64 {
	if data == nil {
		return nil
	}
	out := make([]float64, len(data))
	copy(out, data)
	return out
}
