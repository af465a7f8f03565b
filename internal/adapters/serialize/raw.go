package serialize

import "io"

// Raw is a passthrough codec for journals whose value type is already a
// byte slice.
type Raw struct{}

// WriteEntry copies the value bytes through unchanged.
func (Raw) WriteEntry(value []byte, w io.Writer) error {
	_, err := w.Write(value)
	return err
}

// ReadEntry hands back a copy of the payload so callers cannot alias the
// decode buffer.
func (Raw) ReadEntry(data []byte, entryType uint8) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
