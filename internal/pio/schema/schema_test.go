package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/icectl/internal/pio/tlv"
	"github.com/danmuck/icectl/internal/testutil/testlog"
)

func variableFields() []tlv.Field {
	return []tlv.Field{
		tlv.String(FieldName, "thk"),
		tlv.U32(FieldDof, 1),
		tlv.U32s(FieldShape, []uint32{2, 2}),
		tlv.F64s(FieldData, []float64{1, 2, 3, 4}),
	}
}

func TestValidateVariableRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(RecordVariable, variableFields()); err != nil {
		t.Fatalf("validate variable: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := append(variableFields(), tlv.Field{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}})
	if err := Validate(RecordVariable, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(RecordVariable, variableFields()[:1])
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldDof || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := variableFields()
	fields[3] = tlv.Bytes(FieldData, []byte{1, 2})
	err := Validate(RecordVariable, fields)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldData || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownRecordType(t *testing.T) {
	testlog.Start(t)
	err := Validate(42, nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.FieldID != 0 || ve.Reason != "unknown record_type" {
		t.Fatalf("unexpected error: %v", err)
	}
	if err.Error() != "schema: record_type=42: unknown record_type" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidateLogRecord(t *testing.T) {
	testlog.Start(t)
	if err := Validate(RecordLog, []tlv.Field{tlv.String(FieldLine, "INF run started")}); err != nil {
		t.Fatalf("validate log: %v", err)
	}
	if err := Validate(RecordLog, nil); err == nil {
		t.Fatalf("expected empty log record to fail")
	}
}
