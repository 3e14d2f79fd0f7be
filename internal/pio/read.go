package pio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/pio/frame"
	"github.com/danmuck/icectl/internal/pio/schema"
	"github.com/danmuck/icectl/internal/pio/tlv"
)

// Header describes the run that created a file and the grid it was written on.
type Header struct {
	FormatVersion uint32    `json:"format_version" yaml:"format_version"`
	RunID         string    `json:"run_id" yaml:"run_id"`
	History       string    `json:"history,omitempty" yaml:"history,omitempty"`
	Created       time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Mx            int       `json:"mx" yaml:"mx"`
	My            int       `json:"my" yaml:"my"`
	Lx            float64   `json:"lx" yaml:"lx"`
	Ly            float64   `json:"ly" yaml:"ly"`
	Periodicity   string    `json:"periodicity" yaml:"periodicity"`
	Ranks         int       `json:"ranks,omitempty" yaml:"ranks,omitempty"`
}

// GridParams rebuilds the parameters of the grid the file was written on.
// The processor layout is left for the reader's group to choose.
func (h Header) GridParams() (grid.Params, error) {
	per, err := grid.ParsePeriodicity(h.Periodicity)
	if err != nil {
		return grid.Params{}, err
	}
	p := grid.DefaultParams()
	p.Mx, p.My = h.Mx, h.My
	p.Lx, p.Ly = h.Lx, h.Ly
	p.Periodicity = per
	return p, grid.Validate(p)
}

// Variable is one gathered field as stored.
type Variable struct {
	Name  string            `json:"name" yaml:"name"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Dof   int               `json:"dof" yaml:"dof"`
	Shape []int             `json:"shape" yaml:"shape,flow"`
	Data  []float64         `json:"-" yaml:"-"`
}

// Dataset is the decoded content of a file.
type Dataset struct {
	Header    Header     `json:"header" yaml:"header"`
	Variables []Variable `json:"variables" yaml:"variables"`
	Logs      [][]string `json:"logs,omitempty" yaml:"logs,omitempty"`
}

// Lookup returns the most recently written variable called name.
func (d *Dataset) Lookup(name string) (Variable, bool) {
	for n := len(d.Variables) - 1; n >= 0; n-- {
		if d.Variables[n].Name == name {
			return d.Variables[n], true
		}
	}
	return Variable{}, false
}

// Names returns the distinct variable names in sorted order.
func (d *Dataset) Names() []string {
	names := make([]string, 0, len(d.Variables))
	for _, v := range d.Variables {
		if !slices.Contains(names, v.Name) {
			names = append(names, v.Name)
		}
	}
	slices.Sort(names)
	return names
}

// ReadFile decodes every record in path.
func ReadFile(path string) (*Dataset, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return Read(bufio.NewReader(in))
}

// Read decodes records from r until EOF.
func Read(r io.Reader) (*Dataset, error) {
	ds, n, err := decode(r, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoHeader
	}
	return ds, nil
}

// FileHasVariable reports whether path holds at least one record for name.
func FileHasVariable(path, name string) (bool, error) {
	ds, err := ReadFile(path)
	if err != nil {
		return false, err
	}
	_, ok := ds.Lookup(name)
	return ok, nil
}

func decode(r io.Reader, limits frame.Limits) (*Dataset, uint64, error) {
	ds := &Dataset{}
	var n uint64
	for {
		fr, err := frame.ReadFrame(r, limits)
		if errors.Is(err, io.EOF) {
			return ds, n, nil
		}
		if err != nil {
			return nil, n, fmt.Errorf("record %d: %w", n, err)
		}
		fields, err := tlv.DecodeFields(fr.Payload)
		if err != nil {
			return nil, n, fmt.Errorf("record %d: %w", n, err)
		}
		rt := fr.Header.RecordType
		if err := schema.Validate(rt, fields); err != nil {
			return nil, n, fmt.Errorf("record %d: %w", n, err)
		}
		if n == 0 && rt != schema.RecordHeader {
			return nil, n, ErrNoHeader
		}

		switch rt {
		case schema.RecordHeader:
			ds.Header, err = decodeHeader(fields)
		case schema.RecordVariable:
			var v Variable
			v, err = decodeVariable(fields)
			ds.Variables = append(ds.Variables, v)
		case schema.RecordLog:
			var lines []string
			lines, err = decodeLog(fields)
			ds.Logs = append(ds.Logs, lines)
		}
		if err != nil {
			return nil, n, fmt.Errorf("record %d: %w", n, err)
		}
		n++
	}
}

func decodeHeader(fields []tlv.Field) (Header, error) {
	var h Header
	var err error
	get := func(id uint16) tlv.Field {
		f, _ := tlv.GetField(fields, id)
		return f
	}
	mx, my := uint32(0), uint32(0)
	errs := []error{}
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	h.FormatVersion, err = get(schema.FieldFormatVersion).AsU32()
	collect(err)
	h.RunID, err = get(schema.FieldRunID).AsString()
	collect(err)
	h.History, err = get(schema.FieldHistory).AsString()
	collect(err)
	mx, err = get(schema.FieldMx).AsU32()
	collect(err)
	my, err = get(schema.FieldMy).AsU32()
	collect(err)
	h.Lx, err = get(schema.FieldLx).AsF64()
	collect(err)
	h.Ly, err = get(schema.FieldLy).AsF64()
	collect(err)
	h.Periodicity, err = get(schema.FieldPeriodicity).AsString()
	collect(err)
	h.Mx, h.My = int(mx), int(my)

	if f, ok := tlv.GetField(fields, schema.FieldCreated); ok {
		if raw, err := f.AsString(); err == nil {
			h.Created, _ = time.Parse(time.RFC3339, raw)
		}
	}
	if f, ok := tlv.GetField(fields, schema.FieldRanks); ok {
		if ranks, err := f.AsU32(); err == nil {
			h.Ranks = int(ranks)
		}
	}
	if h.FormatVersion > FormatVersion {
		collect(fmt.Errorf("pio: format version %d is newer than %d", h.FormatVersion, FormatVersion))
	}
	return h, errors.Join(errs...)
}

func decodeVariable(fields []tlv.Field) (Variable, error) {
	var v Variable
	nameField, _ := tlv.GetField(fields, schema.FieldName)
	name, err := nameField.AsString()
	if err != nil {
		return v, err
	}
	dofField, _ := tlv.GetField(fields, schema.FieldDof)
	dof, err := dofField.AsU32()
	if err != nil {
		return v, err
	}
	shapeField, _ := tlv.GetField(fields, schema.FieldShape)
	shape, err := shapeField.AsU32s()
	if err != nil {
		return v, err
	}
	dataField, _ := tlv.GetField(fields, schema.FieldData)
	data, err := dataField.AsF64s()
	if err != nil {
		return v, err
	}

	v = Variable{Name: name, Dof: int(dof), Data: data, Attrs: map[string]string{}}
	size := 1
	for _, d := range shape {
		v.Shape = append(v.Shape, int(d))
		size *= int(d)
	}
	if size != len(data) {
		return v, fmt.Errorf("pio: variable %s has %d values for shape %v", name, len(data), v.Shape)
	}

	for _, attr := range tlv.GetAll(fields, schema.FieldAttr) {
		raw, err := attr.AsBytes()
		if err != nil {
			return v, err
		}
		kv, err := tlv.DecodeFields(raw)
		if err != nil {
			return v, fmt.Errorf("pio: variable %s attribute: %w", name, err)
		}
		kf, _ := tlv.GetField(kv, schema.FieldAttrKey)
		vf, _ := tlv.GetField(kv, schema.FieldAttrValue)
		key, err := kf.AsString()
		if err != nil {
			return v, err
		}
		val, err := vf.AsString()
		if err != nil {
			return v, err
		}
		v.Attrs[key] = val
	}
	return v, nil
}

func decodeLog(fields []tlv.Field) ([]string, error) {
	var lines []string
	for _, f := range tlv.GetAll(fields, schema.FieldLine) {
		line, err := f.AsString()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}
