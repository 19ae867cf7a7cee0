package driver_test

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
)

// scriptedDevice is a fake CiA-402 device for the end-to-end suite: a
// can.FrameListener that reacts to NMT commands and RPDO1 writes the same
// way a real drive would, bruteforcing the next legal cia402 power state
// from the transition table rather than hardcoding a scenario-specific
// sequence.
type scriptedDevice struct {
	bus    can.Bus
	nodeId uint8

	mu            sync.Mutex
	state         cia402.State
	nmtState      nmt.State
	opMode        cia402.OperationMode
	lastBit4      bool
	posAck        bool
	targetReached bool
	homingDone    bool
	homingAtHome  bool
	paused        bool
}

func newScriptedDevice(bus can.Bus, nodeId uint8) *scriptedDevice {
	return &scriptedDevice{
		bus:      bus,
		nodeId:   nodeId,
		state:    cia402.SwitchOnDisabled,
		nmtState: nmt.StatePreOperational,
		opMode:   cia402.ProfilePosition,
	}
}

var scriptedDeviceStates = []cia402.State{
	cia402.NotReadyToSwitchOn, cia402.SwitchOnDisabled, cia402.ReadyToSwitchOn,
	cia402.SwitchedOn, cia402.OperationEnabled, cia402.QuickStopActive,
	cia402.FaultReactionActive, cia402.Fault,
}

var scriptedDeviceStatusWords = map[cia402.State]uint16{
	cia402.NotReadyToSwitchOn:  0b000_0000,
	cia402.SwitchOnDisabled:    0b100_0000,
	cia402.ReadyToSwitchOn:     0b010_0001,
	cia402.SwitchedOn:          0b010_0011,
	cia402.OperationEnabled:    0b010_0111,
	cia402.QuickStopActive:     0b000_0111,
	cia402.FaultReactionActive: 0b000_1111,
	cia402.Fault:               0b000_1000,
}

// run drives the device's own "cycle time": a short periodic re-broadcast of
// its current heartbeat/TPDO1 keeps the driver's feedback path alive and
// covers the race where the state machine only subscribes to events after
// startup finishes (see feedback.go: the NMT-operational switch completes
// on a heartbeat, not a TPDO1, and nothing replays a broadcast sent before a
// subscriber existed).
func (d *scriptedDevice) run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sendHeartbeat()
			d.sendTPDO1()
		}
	}
}

// setPaused stops the device from emitting anything, simulating a dead
// transceiver for the communication-loss scenario.
func (d *scriptedDevice) setPaused(p bool) {
	d.mu.Lock()
	d.paused = p
	d.mu.Unlock()
}

// declareFault forces the device into Fault, as if an internal error tripped
// outside of any controlword request.
func (d *scriptedDevice) declareFault() {
	d.mu.Lock()
	d.state = cia402.Fault
	d.mu.Unlock()
	d.sendTPDO1()
}

func (d *scriptedDevice) Handle(frame can.Frame) {
	kind, nodeId := can.Classify(frame.ID)
	switch kind {
	case can.KindNMT:
		if frame.DLC < 2 || frame.Data[1] != d.nodeId {
			return
		}
		d.handleNmt(nmt.Command(frame.Data[0]))
	case can.KindRPDO1:
		if nodeId != d.nodeId {
			return
		}
		d.handleRPDO1(frame)
	}
}

func (d *scriptedDevice) handleNmt(cmd nmt.Command) {
	d.mu.Lock()
	switch cmd {
	case nmt.CommandEnterPreOperational:
		d.nmtState = nmt.StatePreOperational
	case nmt.CommandEnterOperational:
		d.nmtState = nmt.StateOperational
	case nmt.CommandEnterStopped:
		d.nmtState = nmt.StateStopped
	}
	d.mu.Unlock()
	d.sendHeartbeat()
}

func (d *scriptedDevice) handleRPDO1(frame can.Frame) {
	if frame.DLC < 3 {
		return
	}
	cw := binary.LittleEndian.Uint16(frame.Data[0:2])
	opMode := cia402.OperationMode(int8(frame.Data[2]))

	d.mu.Lock()
	d.opMode = opMode

	want := cia402.PowerFlag(cw & cia402.PowerMask)
	for _, candidate := range scriptedDeviceStates {
		if flags, ok := cia402.Transition(d.state, candidate); ok && flags == want {
			d.state = candidate
			break
		}
	}

	bit4 := cw&(1<<cia402.BitOMS4) != 0
	risingEdge := bit4 && !d.lastBit4
	fallingEdge := !bit4 && d.lastBit4
	d.lastBit4 = bit4

	switch opMode {
	case cia402.ProfilePosition:
		if risingEdge {
			d.posAck = true
			d.targetReached = false
		}
		if fallingEdge {
			d.posAck = false
			d.targetReached = true
		}
	case cia402.Homing:
		if risingEdge {
			d.homingDone = true
			d.homingAtHome = true
		}
	}
	d.mu.Unlock()

	d.sendTPDO1()
}

func (d *scriptedDevice) sendTPDO1() {
	d.mu.Lock()
	if d.paused {
		d.mu.Unlock()
		return
	}
	sw := scriptedDeviceStatusWords[d.state]
	switch d.opMode {
	case cia402.ProfilePosition:
		if d.posAck {
			sw |= 1 << cia402.StatusBitOMS12
		}
		if d.targetReached {
			sw |= 1 << cia402.StatusBitTargetReached
		}
	case cia402.Homing:
		if d.homingDone {
			sw |= 1 << cia402.StatusBitOMS12
		}
		if d.homingAtHome {
			sw |= 1 << cia402.StatusBitTargetReached
		}
	}
	opMode := d.opMode
	nodeId := d.nodeId
	d.mu.Unlock()

	frame := can.NewFrame(can.TPDOCobId(1, nodeId), 3)
	binary.LittleEndian.PutUint16(frame.Data[0:2], sw)
	frame.Data[2] = byte(int8(opMode))
	_ = d.bus.Send(frame)
}

func (d *scriptedDevice) sendHeartbeat() {
	d.mu.Lock()
	if d.paused {
		d.mu.Unlock()
		return
	}
	state := d.nmtState
	nodeId := d.nodeId
	d.mu.Unlock()

	var b byte
	switch state {
	case nmt.StateOperational:
		b = 0x05
	case nmt.StateStopped:
		b = 0x04
	default:
		b = 0x7F
	}
	frame := can.NewFrame(0x700+uint32(nodeId), 1)
	frame.Data[0] = b
	_ = d.bus.Send(frame)
}
