// Package pdomodel is the PDO mapping data model: {kind, number,
// transmission, sources} and the fixed 8-byte frame buffer the publisher
// mutates by (offset, bytes).
package pdomodel

import (
	"fmt"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/od"
)

// Transmission is a PDO's transmission type.
type Transmission uint8

const (
	OnSync Transmission = iota
	OnChange
)

// Source is one OD entry packed into a PDO at a given bit offset/length.
type Source struct {
	Entry     od.Entry
	BitOffset int
	BitLength int
}

// Mapping describes one RPDO or TPDO's layout.
type Mapping struct {
	Kind         can.FrameKind // KindRPDO1..4 or KindTPDO1..4
	Number       int           // 1..4
	Transmission Transmission
	Sources      []Source
	// EventTimerMillis configures TPDO sub-index 5 when Transmission is
	// OnChange; 0 leaves sub-index 5 unwritten. Per-mapping so a TPDO can
	// opt out of the minimum-refresh timer.
	EventTimerMillis uint16
}

// BitLength sums the mapped sources' bit lengths.
func (m Mapping) BitLength() int {
	total := 0
	for _, s := range m.Sources {
		total += s.BitLength
	}
	return total
}

// Validate checks that sources sum to a whole number of bytes no larger
// than 64 bits (one CAN frame).
func (m Mapping) Validate() error {
	bits := m.BitLength()
	if bits%8 != 0 {
		return fmt.Errorf("pdomodel: mapping %d sources sum to %d bits, not a whole number of bytes", m.Number, bits)
	}
	if bits > 64 {
		return fmt.Errorf("pdomodel: mapping %d sources sum to %d bits, exceeds 64", m.Number, bits)
	}
	return nil
}

// DLC returns the frame length in bytes this mapping produces:
// sum(source.bit_length)/8.
func (m Mapping) DLC() uint8 { return uint8(m.BitLength() / 8) }

// isRPDO reports whether m's Kind is one of the four RPDO frame kinds, as
// opposed to a TPDO kind; the two interleave in can.FrameKind's iota order
// (TPDO1, RPDO1, TPDO2, RPDO2, ...) so this can't be a range check.
func (m Mapping) isRPDO() bool {
	switch m.Kind {
	case can.KindRPDO1, can.KindRPDO2, can.KindRPDO3, can.KindRPDO4:
		return true
	default:
		return false
	}
}

// CobId returns the COB-id this mapping's frames carry.
func (m Mapping) CobId(nodeId uint8) uint32 {
	if m.isRPDO() {
		return can.RPDOCobId(m.Number, nodeId)
	}
	return can.TPDOCobId(m.Number, nodeId)
}

// CommParamIndex and MappingParamIndex return the OD indices the startup
// task reconfigures for this PDO: RPDO comm 0x1400+n-1, RPDO mapping
// 0x1600+n-1, TPDO comm 0x1800+n-1, TPDO mapping 0x1A00+n-1.
func (m Mapping) CommParamIndex() uint16 {
	if m.isRPDO() {
		return od.RPDOCommParamBase + uint16(m.Number-1)
	}
	return od.TPDOCommParamBase + uint16(m.Number-1)
}

func (m Mapping) MappingParamIndex() uint16 {
	if m.isRPDO() {
		return od.RPDOMappingParamBase + uint16(m.Number-1)
	}
	return od.TPDOMappingParamBase + uint16(m.Number-1)
}
