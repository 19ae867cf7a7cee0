package driver

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
)

// sendTimeout bounds a single outbound PDO transmit before the transport
// gives up on the bus layer. The bus adapter itself may block on a real
// socket write, so the send runs off-thread against this deadline rather
// than trusting the adapter to bound itself.
const sendTimeout = 200 * time.Millisecond

// pdoTransport owns the live RPDO byte buffers and sends them over the bus.
// Every outbound write goes through writeRPDO1/RPDO2/RPDO3/RPDO4 so the
// controlword's unrelated bit families are never clobbered: each merges
// into the buffer it last sent rather than starting from zero.
type pdoTransport struct {
	bus    can.Bus
	nodeId uint8
	logger *slog.Logger

	mu    sync.Mutex
	rpdo  map[int]*pdomodel.Buffer
	rpdoM map[int]pdomodel.Mapping
}

func newPdoTransport(bus can.Bus, nodeId uint8, logger *slog.Logger, rpdos []pdomodel.Mapping) *pdoTransport {
	t := &pdoTransport{
		bus:    bus,
		nodeId: nodeId,
		logger: logger.With("service", "[PDO transport]"),
		rpdo:   make(map[int]*pdomodel.Buffer),
		rpdoM:  make(map[int]pdomodel.Mapping),
	}
	for _, m := range rpdos {
		t.rpdo[m.Number] = pdomodel.NewBuffer(m.DLC())
		t.rpdoM[m.Number] = m
	}
	return t
}

// send transmits the live contents of RPDO number n, bounded by
// sendTimeout.
func (t *pdoTransport) send(n int) error {
	m, ok := t.rpdoM[n]
	if !ok {
		return fmt.Errorf("pdotransport: no mapping for RPDO%d", n)
	}
	buf := t.rpdo[n]
	frame := can.NewFrame(m.CobId(t.nodeId), buf.DLC())
	copy(frame.Data[:], buf.Bytes())

	done := make(chan error, 1)
	go func() { done <- t.bus.Send(frame) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("pdotransport: send RPDO%d: %w", n, err)
		}
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("pdotransport: send RPDO%d: %w", n, motorevent.ErrCanOpenTimeout)
	}
}

// controlWord1 returns the controlword currently held in RPDO1's buffer, so
// callers can merge a new flag family into it rather than overwrite it.
func (t *pdoTransport) controlWord1() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.rpdo[1].Bytes()
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b[0:2])
}

// opMode1 returns the opmode byte currently held in RPDO1's buffer.
func (t *pdoTransport) opMode1() int8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.rpdo[1].Bytes()
	if len(b) < 3 {
		return int8(cia402.NoChange)
	}
	return int8(b[2])
}

// writeSetpoint merges a Setpoint's controlword flags into RPDO1 (by mask,
// never overwriting unrelated bit families) and writes the mode-specific
// target RPDO.
func (t *pdoTransport) writeSetpoint(sp motorevent.Setpoint) error {
	opMode := int8(sp.Kind.OpMode())
	switch sp.Kind {
	case motorevent.SetpointProfilePosition:
		cw := cia402.MergePosition(t.controlWord1(), sp.PositionFlags)
		if sp.PositionHalt {
			cw |= motorevent.HaltBit
		} else {
			cw &^= motorevent.HaltBit
		}
		if err := t.writeRPDO1(cw, opMode); err != nil {
			return err
		}
		return t.writeRPDO2(sp.Target, sp.ProfileVelocity)
	case motorevent.SetpointProfileVelocity:
		if err := t.writeRPDO1(t.controlWord1(), opMode); err != nil {
			return err
		}
		return t.writeRPDO3(sp.VelocityTarget)
	case motorevent.SetpointProfileTorque:
		if err := t.writeRPDO1(t.controlWord1(), opMode); err != nil {
			return err
		}
		return t.writeRPDO4(sp.TorqueTarget)
	case motorevent.SetpointHoming:
		cw := cia402.MergeHoming(t.controlWord1(), sp.HomingFlags)
		return t.writeRPDO1(cw, opMode)
	default:
		return fmt.Errorf("pdotransport: unknown setpoint kind %d", sp.Kind)
	}
}

// writeRPDO1 sets RPDO1's controlword and opmode byte and sends it.
func (t *pdoTransport) writeRPDO1(controlWord uint16, opMode int8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.rpdo[1]
	cw := make([]byte, 2)
	binary.LittleEndian.PutUint16(cw, controlWord)
	if err := buf.WriteAt(0, cw); err != nil {
		return err
	}
	if err := buf.WriteAt(2, []byte{byte(opMode)}); err != nil {
		return err
	}
	return t.send(1)
}

// writeRPDO2 sets the Profile Position target/profile-velocity pair.
func (t *pdoTransport) writeRPDO2(target int32, profileVelocity uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.rpdo[2]
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(target))
	if err := buf.WriteAt(0, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, profileVelocity)
	if err := buf.WriteAt(4, b); err != nil {
		return err
	}
	return t.send(2)
}

// writeRPDO3 sets the Profile Velocity target.
func (t *pdoTransport) writeRPDO3(target int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.rpdo[3]
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(target))
	if err := buf.WriteAt(0, b); err != nil {
		return err
	}
	return t.send(3)
}

// writeRPDO4 sets the Profile Torque target.
func (t *pdoTransport) writeRPDO4(target int16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.rpdo[4]
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(target))
	if err := buf.WriteAt(0, b); err != nil {
		return err
	}
	return t.send(4)
}
