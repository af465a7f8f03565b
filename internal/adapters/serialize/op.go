// Package serialize ships entry codecs for the journal's value type:
// a protowire codec for the demo operation type and a raw passthrough
// for []byte payloads.
package serialize

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Op is a small key/value operation, the value type journaled by the demo
// binary.
type Op struct {
	Key   string
	Value string
}

// Protowire field numbers for Op.
const (
	opKeyField   = 1
	opValueField = 2
)

// OpCodec encodes Op values with protobuf wire framing. It implements
// both the entry writer and entry reader contracts.
type OpCodec struct{}

// WriteEntry renders op into its wire form.
func (OpCodec) WriteEntry(op Op, w io.Writer) error {
	buf := protowire.AppendTag(nil, opKeyField, protowire.BytesType)
	buf = protowire.AppendString(buf, op.Key)
	buf = protowire.AppendTag(buf, opValueField, protowire.BytesType)
	buf = protowire.AppendString(buf, op.Value)

	_, err := w.Write(buf)
	return err
}

// ReadEntry parses the wire form back into an Op. Unknown fields are
// skipped so the format can grow.
func (OpCodec) ReadEntry(data []byte, entryType uint8) (Op, error) {
	var op Op

	for len(data) > 0 {
		field, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return op, fmt.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case field == opKeyField && wireType == protowire.BytesType:
			value, n := protowire.ConsumeString(data)
			if n < 0 {
				return op, fmt.Errorf("consuming key: %w", protowire.ParseError(n))
			}
			op.Key = value
			data = data[n:]
		case field == opValueField && wireType == protowire.BytesType:
			value, n := protowire.ConsumeString(data)
			if n < 0 {
				return op, fmt.Errorf("consuming value: %w", protowire.ParseError(n))
			}
			op.Value = value
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(field, wireType, data)
			if n < 0 {
				return op, fmt.Errorf("skipping field %d: %w", field, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	return op, nil
}
