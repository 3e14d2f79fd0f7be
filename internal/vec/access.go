// Package vec provides scoped parallel access to fields and gathering of
// distributed fields onto the root rank.
package vec

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/observability"
)

var (
	ErrOverlap        = errors.New("vec: field appears in both comm and nocomm")
	ErrNestedAccess   = errors.New("vec: field is already under access")
	ErrNotImplemented = errors.New("vec: not implemented")
	ErrInvalidShape   = errors.New("vec: invalid shape")
)

// AccessOption configures an Access.
type AccessOption func(*Access)

// SyncOnExit refreshes the ghosts of comm fields again when the body returns
// without error, so values written inside the scope are visible to neighbors.
func SyncOnExit() AccessOption {
	return func(a *Access) { a.syncOnExit = true }
}

// Access is a reusable description of a scoped access window. Fields in comm
// have their ghosts refreshed on entry; fields in nocomm are only marked.
type Access struct {
	comm       []*field.Field
	nocomm     []*field.Field
	syncOnExit bool
}

// NewAccess normalizes comm and nocomm to sets of distinct fields. A field may
// not be in both.
func NewAccess(comm, nocomm []*field.Field, opts ...AccessOption) (*Access, error) {
	c, err := distinct(comm)
	if err != nil {
		return nil, err
	}
	n, err := distinct(nocomm)
	if err != nil {
		return nil, err
	}
	for _, f := range c {
		for _, g := range n {
			if field.Same(f, g) {
				return nil, fmt.Errorf("%w: %s", ErrOverlap, f.Name())
			}
		}
	}
	a := &Access{comm: c, nocomm: n}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func distinct(fields []*field.Field) ([]*field.Field, error) {
	out := make([]*field.Field, 0, len(fields))
next:
	for _, f := range fields {
		if !f.Valid() {
			return nil, field.ErrReleased
		}
		for _, seen := range out {
			if field.Same(seen, f) {
				continue next
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// Scope is an entered Access. Close releases every field it acquired.
type Scope struct {
	acquired []*field.Field
	comm     []*field.Field
	closed   bool
}

// Enter checks that no field is already under access, refreshes ghosts of the
// comm fields (collective) and begins access on both sets. On error nothing
// stays acquired. The caller must Close the returned scope.
func (a *Access) Enter(ctx context.Context) (*Scope, error) {
	for _, set := range [][]*field.Field{a.comm, a.nocomm} {
		for _, f := range set {
			if !f.Valid() {
				observability.RecordAccessScope("rejected")
				return nil, field.ErrReleased
			}
			if f.Accessed() > 0 {
				observability.RecordAccessScope("rejected")
				return nil, fmt.Errorf("%w: %s", ErrNestedAccess, f.Name())
			}
		}
	}

	s := &Scope{comm: a.comm, acquired: make([]*field.Field, 0, len(a.comm)+len(a.nocomm))}
	for _, f := range a.comm {
		if err := f.UpdateGhosts(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		f.BeginAccess()
		s.acquired = append(s.acquired, f)
	}
	for _, f := range a.nocomm {
		f.BeginAccess()
		s.acquired = append(s.acquired, f)
	}
	return s, nil
}

// Sync refreshes ghosts of the scope's comm fields. Collective.
func (s *Scope) Sync(ctx context.Context) error {
	for _, f := range s.comm {
		if err := f.UpdateGhosts(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close ends access on every acquired field, in reverse order. It is safe to
// call more than once.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for n := len(s.acquired) - 1; n >= 0; n-- {
		f := s.acquired[n]
		if !f.Valid() {
			// destroyed inside the scope; nothing left to release
			continue
		}
		if err := f.EndAccess(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Do runs body inside the access window. Fields are released on every exit
// from body, including panics and runtime.Goexit; a panic is re-raised after
// release.
func (a *Access) Do(ctx context.Context, body func() error) error {
	s, err := a.Enter(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	defer func() {
		if r := recover(); r != nil {
			_ = s.Close()
			observability.RecordAccessScope("panic")
			panic(r)
		}
	}()

	bodyErr := body()
	if bodyErr == nil && a.syncOnExit {
		bodyErr = s.Sync(ctx)
	}
	err = errors.Join(bodyErr, s.Close())
	if err != nil {
		observability.RecordAccessScope("error")
		return err
	}
	observability.RecordAccessScope("ok")
	return nil
}

// With is shorthand for NewAccess followed by Do.
func With(ctx context.Context, comm, nocomm []*field.Field, body func() error, opts ...AccessOption) error {
	a, err := NewAccess(comm, nocomm, opts...)
	if err != nil {
		return err
	}
	return a.Do(ctx, body)
}
