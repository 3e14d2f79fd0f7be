// Package schema lists the pio record types and the fields each one must carry.
package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/icectl/internal/pio/tlv"
)

// Record type IDs.
const (
	RecordHeader   uint32 = 1
	RecordVariable uint32 = 2
	RecordLog      uint32 = 3
)

// Field IDs.
const (
	FieldFormatVersion uint16 = 1
	FieldRunID         uint16 = 2
	FieldHistory       uint16 = 3
	FieldCreated       uint16 = 4

	FieldMx          uint16 = 10
	FieldMy          uint16 = 11
	FieldLx          uint16 = 12
	FieldLy          uint16 = 13
	FieldPeriodicity uint16 = 14
	FieldRanks       uint16 = 15

	FieldName  uint16 = 20
	FieldDof   uint16 = 21
	FieldShape uint16 = 22
	FieldAttr  uint16 = 23
	FieldData  uint16 = 24

	FieldAttrKey   uint16 = 25
	FieldAttrValue uint16 = 26

	FieldLine uint16 = 30
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	RecordType uint32
	FieldID    uint16
	Reason     string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: record_type=%d: %s", e.RecordType, e.Reason)
	}
	return fmt.Sprintf("schema: record_type=%d field=%d: %s", e.RecordType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	RecordHeader: {
		{FieldFormatVersion, tlv.TypeU32},
		{FieldRunID, tlv.TypeString},
		{FieldHistory, tlv.TypeString},
		{FieldMx, tlv.TypeU32},
		{FieldMy, tlv.TypeU32},
		{FieldLx, tlv.TypeF64},
		{FieldLy, tlv.TypeF64},
		{FieldPeriodicity, tlv.TypeString},
	},
	RecordVariable: {
		{FieldName, tlv.TypeString},
		{FieldDof, tlv.TypeU32},
		{FieldShape, tlv.TypeU32Array},
		{FieldData, tlv.TypeF64Array},
	},
	RecordLog: {
		{FieldLine, tlv.TypeString},
	},
}

// Validate enforces required fields and their types for a record type.
// Unknown fields are ignored so newer writers stay readable.
func Validate(recordType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[recordType]
	if !ok {
		log.Error().Uint32("record_type", recordType).Msg("schema.Validate unknown record type")
		return ValidationError{RecordType: recordType, Reason: "unknown record_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("record_type", recordType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{RecordType: recordType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("record_type", recordType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{RecordType: recordType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Debug().Uint32("record_type", recordType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
