// Package pio writes fields to, and reads them back from, self-describing
// record files.
//
// A file is a sequence of frames. The first carries a header record (run id,
// history, grid shape); later frames carry variable records (one gathered
// field each) and log records. Only rank 0 touches the file; every collective
// call ends with rank 0 broadcasting whether it succeeded so all ranks return
// the same outcome.
package pio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/icectl/internal/comm"
	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/pio/frame"
	"github.com/danmuck/icectl/internal/pio/schema"
	"github.com/danmuck/icectl/internal/pio/tlv"
	"github.com/danmuck/icectl/internal/vec"
)

const FormatVersion uint32 = 1

const root = 0

var (
	ErrRootFailed  = errors.New("pio: operation failed on rank 0")
	ErrNoHeader    = errors.New("pio: file does not start with a header record")
	ErrClosed      = errors.New("pio: file is closed")
	ErrUnknownMode = errors.New("pio: unknown open mode")
)

// Mode selects how Open treats an existing file.
type Mode int

const (
	// ModeCreate truncates the file and writes a fresh header.
	ModeCreate Mode = iota
	// ModeAppend adds records after the existing ones, writing a header
	// first if the file is new or empty.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type options struct {
	history string
	runID   uuid.UUID
	limits  frame.Limits
}

// Option configures Open.
type Option func(*options)

// WithHistory sets the provenance string stored in a new header.
func WithHistory(history string) Option {
	return func(o *options) { o.history = history }
}

// WithRunID overrides the random run id stored in a new header.
func WithRunID(id uuid.UUID) Option {
	return func(o *options) { o.runID = id }
}

func WithLimits(l frame.Limits) Option {
	return func(o *options) { o.limits = l }
}

// File is an open output. Every rank holds one; only rank 0's is backed by
// an operating system file.
type File struct {
	grid   *grid.Grid
	path   string
	runID  string
	limits frame.Limits
	log    zerolog.Logger

	out    *os.File
	w      *bufio.Writer
	seq    uint64
	closed bool
}

// Open opens path on rank 0 and tells every rank whether that worked.
// Collective.
func Open(ctx context.Context, g *grid.Grid, path string, mode Mode, opts ...Option) (*File, error) {
	o := options{limits: frame.DefaultLimits()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == uuid.Nil {
		o.runID = uuid.New()
	}
	c := g.Comm()
	f := &File{
		grid:   g,
		path:   path,
		runID:  o.runID.String(),
		limits: o.limits,
		log:    c.Logger().With().Str("path", path).Logger(),
	}

	var rootErr error
	if c.Rank() == root {
		rootErr = f.openRoot(mode, o.history)
	}
	if err := agree(ctx, c, rootErr); err != nil {
		f.closeRoot()
		return nil, fmt.Errorf("open %s (%s): %w", path, mode, err)
	}
	f.log.Debug().Str("mode", mode.String()).Str("run_id", f.runID).Msg("pio open")
	return f, nil
}

func (f *File) openRoot(mode Mode, history string) error {
	var (
		out *os.File
		err error
	)
	switch mode {
	case ModeCreate:
		out, err = os.Create(f.path)
	case ModeAppend:
		var existing uint64
		var header *Header
		existing, header, err = scan(f.path, f.limits)
		if err != nil {
			return err
		}
		f.seq = existing
		if header != nil {
			f.runID = header.RunID
		}
		out, err = os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}
	if err != nil {
		return err
	}
	f.out = out
	f.w = bufio.NewWriter(out)
	if f.seq > 0 {
		return nil
	}
	return f.writeRecord(schema.RecordHeader, f.headerFields(history))
}

// scan counts the records already in path and returns its header, if any. A
// missing file has no records.
func scan(path string, limits frame.Limits) (uint64, *Header, error) {
	in, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	defer in.Close()
	ds, n, err := decode(bufio.NewReader(in), limits)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}
	return n, &ds.Header, nil
}

func (f *File) headerFields(history string) []tlv.Field {
	p := f.grid.Params()
	return []tlv.Field{
		tlv.U32(schema.FieldFormatVersion, FormatVersion),
		tlv.String(schema.FieldRunID, f.runID),
		tlv.String(schema.FieldHistory, history),
		tlv.String(schema.FieldCreated, time.Now().UTC().Format(time.RFC3339)),
		tlv.U32(schema.FieldMx, uint32(p.Mx)),
		tlv.U32(schema.FieldMy, uint32(p.My)),
		tlv.F64(schema.FieldLx, p.Lx),
		tlv.F64(schema.FieldLy, p.Ly),
		tlv.String(schema.FieldPeriodicity, p.Periodicity.String()),
		tlv.U32(schema.FieldRanks, uint32(f.grid.Size())),
	}
}

func (f *File) writeRecord(recordType uint32, fields []tlv.Field) error {
	if err := schema.Validate(recordType, fields); err != nil {
		return err
	}
	fr := frame.Frame{
		Header:  frame.Header{Sequence: f.seq, RecordType: recordType},
		Payload: tlv.EncodeFields(fields),
	}
	if err := frame.WriteFrame(f.w, fr, f.limits); err != nil {
		return err
	}
	f.seq++
	return nil
}

// agree broadcasts rank 0's outcome. Rank 0 returns its own error; other ranks
// return ErrRootFailed when rank 0 failed.
func agree(ctx context.Context, c *comm.Comm, rootErr error) error {
	var status []float64
	if c.Rank() == root {
		status = []float64{0}
		if rootErr != nil {
			status[0] = 1
		}
	}
	got, err := c.Bcast(ctx, root, status)
	if err != nil {
		return err
	}
	if c.Rank() == root {
		return rootErr
	}
	if len(got) != 1 || got[0] != 0 {
		return ErrRootFailed
	}
	return nil
}

func (f *File) Path() string  { return f.path }
func (f *File) RunID() string { return f.runID }

// WriteField gathers f onto rank 0 and appends it as a variable record.
// Collective.
func (f *File) WriteField(ctx context.Context, fld *field.Field) error {
	if f.closed {
		return ErrClosed
	}
	tz, err := vec.NewToProcZero(fld.Grid(), fld.Dof(), 2)
	if err != nil {
		return err
	}
	arr, err := tz.Communicate(ctx, fld)
	if err != nil {
		return err
	}
	c := f.grid.Comm()
	var rootErr error
	if c.Rank() == root {
		rootErr = f.writeRecord(schema.RecordVariable, variableFields(fld, arr))
	}
	if err := agree(ctx, c, rootErr); err != nil {
		return fmt.Errorf("write %s: %w", fld.Name(), err)
	}
	f.log.Debug().Str("field", fld.Name()).Uint64("seq", f.seq).Msg("pio write field")
	return nil
}

func variableFields(fld *field.Field, arr vec.Array) []tlv.Field {
	shape := make([]uint32, len(arr.Shape))
	for n, d := range arr.Shape {
		shape[n] = uint32(d)
	}
	meta := fld.Metadata()
	fields := []tlv.Field{
		tlv.String(schema.FieldName, meta.Name()),
		tlv.U32(schema.FieldDof, uint32(fld.Dof())),
		tlv.U32s(schema.FieldShape, shape),
	}
	for _, key := range meta.Keys() {
		attr := tlv.EncodeFields([]tlv.Field{
			tlv.String(schema.FieldAttrKey, key),
			tlv.String(schema.FieldAttrValue, meta.Get(key)),
		})
		fields = append(fields, tlv.Bytes(schema.FieldAttr, attr))
	}
	return append(fields, tlv.F64s(schema.FieldData, arr.Data))
}

// WriteLog appends captured log lines as one record. Only rank 0 writes; on
// other ranks it does nothing. Not collective.
func (f *File) WriteLog(lines []string) error {
	if f.closed {
		return ErrClosed
	}
	if f.grid.Rank() != root || len(lines) == 0 {
		return nil
	}
	fields := make([]tlv.Field, 0, len(lines))
	for _, line := range lines {
		fields = append(fields, tlv.String(schema.FieldLine, line))
	}
	return f.writeRecord(schema.RecordLog, fields)
}

// Close flushes and closes rank 0's file. It is not collective and is safe to
// call more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.out == nil {
		return nil
	}
	err := f.w.Flush()
	if cerr := f.out.Close(); err == nil {
		err = cerr
	}
	f.out = nil
	return err
}

func (f *File) closeRoot() {
	if f.out != nil {
		_ = f.out.Close()
		f.out = nil
	}
	f.closed = true
}

var _ io.Closer = (*File)(nil)
