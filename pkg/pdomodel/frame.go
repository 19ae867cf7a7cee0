package pdomodel

import "fmt"

// Buffer is the fixed 8-byte PDO payload the publisher mutates by (offset,
// bytes) and atomically transmits as data[0:dlc].
// Unlike can.Frame (which is the transport's immutable wire value), Buffer
// is the publisher's working copy: callers overwrite byte ranges in place
// and ask for a can.Frame snapshot only when it's time to send.
type Buffer struct {
	data [8]byte
	dlc  uint8
}

func NewBuffer(dlc uint8) *Buffer {
	return &Buffer{dlc: dlc}
}

// WriteAt copies b into the buffer starting at offset, bounds-checked
// against both the buffer's capacity and its configured DLC.
func (buf *Buffer) WriteAt(offset int, b []byte) error {
	if offset < 0 || offset+len(b) > len(buf.data) {
		return fmt.Errorf("pdomodel: write at offset %d len %d exceeds 8-byte buffer", offset, len(b))
	}
	if offset+len(b) > int(buf.dlc) {
		return fmt.Errorf("pdomodel: write at offset %d len %d exceeds dlc %d", offset, len(b), buf.dlc)
	}
	copy(buf.data[offset:], b)
	return nil
}

// Bytes returns the live prefix data[0:dlc] that gets transmitted.
func (buf *Buffer) Bytes() []byte {
	return buf.data[:buf.dlc]
}

func (buf *Buffer) DLC() uint8 { return buf.dlc }
