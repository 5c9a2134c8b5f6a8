// Package record defines the typed form of one replicated log entry.
package record

import (
	"github.com/maxpert/drc/encoding"
	"github.com/rs/zerolog/log"
)

// CommandField is the reserved field carrying the record's command.
const CommandField = "CMD"

// Type classifies a record by its command
type Type uint8

const (
	TypeUnknown Type = iota
	TypeAdd
	TypeUpdate
	TypeDelete
)

// commandTypes maps command values to record types. update_field is the
// partial-update spelling emitted by some producers.
var commandTypes = map[string]Type{
	"add":          TypeAdd,
	"update":       TypeUpdate,
	"update_field": TypeUpdate,
	"delete":       TypeDelete,
}

func (t Type) String() string {
	switch t {
	case TypeAdd:
		return "ADD"
	case TypeUpdate:
		return "UPDATE"
	case TypeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// LogRecord is one parsed source entry. It is never mutated after Parse.
type LogRecord struct {
	LogID   int64
	Type    Type
	Fields  map[string]string
	RawData []byte
}

// Parse decodes raw into a LogRecord. It fails when the payload cannot be
// decoded or when the command field is missing or unrecognised.
func Parse(raw []byte, logID int64) (*LogRecord, bool) {
	fields, err := encoding.DecodeFields(raw)
	if err != nil {
		log.Debug().Err(err).Int64("log_id", logID).Msg("Failed to decode log record")
		return nil, false
	}

	cmd, ok := fields[CommandField]
	if !ok {
		log.Debug().Int64("log_id", logID).Msg("Log record has no command field")
		return nil, false
	}

	typ := commandTypes[cmd]
	if typ == TypeUnknown {
		log.Debug().Int64("log_id", logID).Str("cmd", cmd).Msg("Log record has unknown command")
		return nil, false
	}

	return &LogRecord{
		LogID:   logID,
		Type:    typ,
		Fields:  fields,
		RawData: raw,
	}, true
}

// GetField returns the value of a field and whether it was present
func (r *LogRecord) GetField(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Encode builds a raw payload for the given command and fields.
func Encode(typ Type, fields map[string]string) ([]byte, error) {
	return encoding.EncodeFields(withCommand(typ, fields))
}

// EncodeCompressed is Encode wrapped in a zstd frame.
func EncodeCompressed(typ Type, fields map[string]string) ([]byte, error) {
	return encoding.EncodeFieldsCompressed(withCommand(typ, fields))
}

func withCommand(typ Type, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	switch typ {
	case TypeAdd:
		out[CommandField] = "add"
	case TypeUpdate:
		out[CommandField] = "update"
	case TypeDelete:
		out[CommandField] = "delete"
	}
	return out
}
