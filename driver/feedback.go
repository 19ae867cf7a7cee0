package driver

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/emergency"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
)

// commsTimeout and idleResubscribe are the receiver's two watchdog periods:
// the first detects the remote device going quiet, the second detects the
// local bus subscription itself having stalled.
const (
	commsTimeout    = 1 * time.Second
	idleResubscribe = 2 * time.Second
)

// feedbackReceiver is the driver's can.FrameListener for device feedback
// (the SDO client subscribes to the same bus separately): it classifies
// every inbound frame by COB-id and turns the ones addressed to our node
// into typed MotorEvents on events.
type feedbackReceiver struct {
	bus    can.Bus
	nodeId uint8
	logger *slog.Logger

	events *broadcaster[motorevent.MotorEvent]

	mu        sync.Mutex
	lastSeen  time.Time
	lastFrame time.Time
	lost      bool
}

func newFeedbackReceiver(bus can.Bus, nodeId uint8, logger *slog.Logger, events *broadcaster[motorevent.MotorEvent]) *feedbackReceiver {
	now := time.Now()
	return &feedbackReceiver{
		bus:       bus,
		nodeId:    nodeId,
		logger:    logger.With("service", "[feedback receiver]"),
		events:    events,
		lastSeen:  now,
		lastFrame: now,
	}
}

func (r *feedbackReceiver) start(ctx context.Context) error {
	if err := r.bus.Subscribe(r); err != nil {
		return err
	}
	go r.watchdog(ctx)
	return nil
}

// watchdog emits CommunicationLost when our node has gone quiet, and
// re-subscribes if the bus itself has delivered nothing at all recently,
// recovering from a stalled upstream.
func (r *feedbackReceiver) watchdog(ctx context.Context) {
	ticker := time.NewTicker(commsTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			sinceNode := time.Since(r.lastSeen)
			sinceAny := time.Since(r.lastFrame)
			alreadyLost := r.lost
			if sinceNode > commsTimeout && !alreadyLost {
				r.lost = true
			}
			r.mu.Unlock()

			if sinceNode > commsTimeout && !alreadyLost {
				r.logger.Warn("no traffic from node within timeout, reporting communication loss", "timeout", commsTimeout)
				r.events.send(motorevent.NewCommunicationLost())
			}
			if sinceAny > idleResubscribe {
				r.logger.Warn("bus idle, re-subscribing", "idle", idleResubscribe)
				if err := r.bus.Subscribe(r); err != nil {
					r.logger.Error("re-subscribe failed", "error", err)
				}
			}
		}
	}
}

// Handle implements can.FrameListener.
func (r *feedbackReceiver) Handle(frame can.Frame) {
	r.mu.Lock()
	r.lastFrame = time.Now()
	r.mu.Unlock()

	kind, nodeId := can.Classify(frame.ID)
	if kind == can.KindUnknown || kind == can.KindSync {
		return
	}
	if nodeId != r.nodeId {
		return
	}

	r.mu.Lock()
	r.lastSeen = time.Now()
	wasLost := r.lost
	r.lost = false
	r.mu.Unlock()
	if wasLost {
		r.logger.Info("traffic resumed, clearing communication loss")
	}

	r.logger.Debug("frame received", "kind", kind, "id", frame.ID, "dlc", frame.DLC)

	switch kind {
	case can.KindTPDO1:
		r.handleTPDO1(frame)
	case can.KindTPDO2:
		r.handleTPDO2(frame)
	case can.KindTPDO3:
		r.handleTPDO3(frame)
	case can.KindTPDO4:
		if frame.DLC > 0 {
			r.logger.Warn("TPDO4 expected empty but carried data", "dlc", frame.DLC)
		}
	case can.KindRPDO1, can.KindRPDO2, can.KindRPDO3, can.KindRPDO4:
		// The driver emitted these; nothing to parse.
	case can.KindTSDO:
		r.handleSdoResponse(frame)
	case can.KindEmergency:
		r.handleEmergency(frame)
	case can.KindHeartbeat:
		r.handleHeartbeat(frame)
	}
}

func (r *feedbackReceiver) handleTPDO1(frame can.Frame) {
	if frame.DLC != 3 {
		r.logger.Warn("TPDO1 unexpected dlc", "dlc", frame.DLC)
		return
	}
	statusWord := binary.LittleEndian.Uint16(frame.Data[0:2])
	opModeRaw := int8(frame.Data[2])
	opMode := cia402.OperationMode(opModeRaw)

	r.events.send(motorevent.NewNmtStateUpdate(nmtFromStatusWord(statusWord)))
	r.events.send(motorevent.NewStatusWordEvent(statusWord))
	r.events.send(motorevent.NewOperationModeUpdate(opMode))

	switch opMode {
	case cia402.Homing:
		hs := cia402.DecodeHomingStatus(statusWord)
		r.events.send(motorevent.NewHomingFeedback(motorevent.HomingFeedback{
			AtHome: hs.AtHome, Completed: hs.HomingCompleted, Error: hs.HomingError,
		}))
	case cia402.ProfilePosition:
		ps := cia402.DecodePositionStatus(statusWord)
		r.events.send(motorevent.NewPositionModeFeedback(motorevent.PositionModeFeedback{
			TargetReached: ps.TargetReached, LimitExceeded: ps.LimitExceeded,
			SetpointAck: ps.SetpointAcknowledge, FollowingError: ps.FollowingError,
		}))
	case cia402.Velocity, cia402.ProfileVelocity, cia402.CyclicSyncVel:
		vs := cia402.DecodeVelocityStatus(statusWord)
		r.events.send(motorevent.NewVelocityModeFeedback(motorevent.VelocityModeFeedback{
			SpeedIsZero: vs.SpeedIsZero, DeviationError: vs.DeviationError,
		}))
	case cia402.ProfileTorque, cia402.CyclicSyncTrq:
		ts := cia402.DecodeTorqueStatus(statusWord)
		r.events.send(motorevent.NewTorqueModeFeedback(motorevent.TorqueModeFeedback{LimitExceeded: ts.LimitExceeded}))
	}
}

// nmtFromStatusWord derives the node's NMT state from a statusword: a PDO
// carrying any of the three "device is up" bits can only have been produced
// by an operational node, switched-on/ready alone means pre-operational,
// and anything else means the node isn't exchanging process data at all.
func nmtFromStatusWord(statusWord uint16) motorevent.NmtState {
	const upBits = 1<<cia402.StatusBitReadyToSwitchOn | 1<<cia402.StatusBitSwitchedOn | 1<<cia402.StatusBitOperationEnabled
	const readyBits = 1<<cia402.StatusBitReadyToSwitchOn | 1<<cia402.StatusBitSwitchedOn
	switch {
	case statusWord&upBits != 0:
		return motorevent.NmtOperational
	case statusWord&readyBits != 0:
		return motorevent.NmtPreOperational
	default:
		return motorevent.NmtStopped
	}
}

func (r *feedbackReceiver) handleTPDO2(frame can.Frame) {
	if frame.DLC != 8 {
		r.logger.Warn("TPDO2 unexpected dlc", "dlc", frame.DLC)
		return
	}
	position := int32(binary.LittleEndian.Uint32(frame.Data[0:4]))
	velocity := int32(binary.LittleEndian.Uint32(frame.Data[4:8]))
	r.events.send(motorevent.NewPositionFeedback(position))
	r.events.send(motorevent.NewVelocityFeedback(velocity))
}

func (r *feedbackReceiver) handleTPDO3(frame can.Frame) {
	if frame.DLC != 2 {
		r.logger.Warn("TPDO3 unexpected dlc", "dlc", frame.DLC)
		return
	}
	torque := int16(binary.LittleEndian.Uint16(frame.Data[0:2]))
	r.events.send(motorevent.NewTorqueFeedback(torque))
}

func (r *feedbackReceiver) handleSdoResponse(frame can.Frame) {
	index := binary.LittleEndian.Uint16(frame.Data[1:3])
	subIndex := frame.Data[3]
	switch {
	case frame.Data[0] == 0x80:
		r.events.send(motorevent.NewSdoResponseEvent(motorevent.SdoResponse{
			Kind: motorevent.SdoError, Index: index, SubIndex: subIndex,
			AbortCode: binary.LittleEndian.Uint32(frame.Data[4:8]),
		}))
	case frame.Data[0] == 0x60:
		r.events.send(motorevent.NewSdoResponseEvent(motorevent.SdoResponse{
			Kind: motorevent.SdoDownloadConfirm, Index: index, SubIndex: subIndex,
		}))
	default:
		sizes := map[byte]int{0x43: 4, 0x47: 3, 0x4B: 2, 0x4F: 1}
		if n, ok := sizes[frame.Data[0]]; ok {
			r.events.send(motorevent.NewSdoResponseEvent(motorevent.SdoResponse{
				Kind: motorevent.SdoUploadConfirm, Index: index, SubIndex: subIndex,
				Data: append([]byte(nil), frame.Data[4:4+n]...),
			}))
		} else {
			r.logger.Warn("unrecognized SDO response command byte", "byte", frame.Data[0])
		}
	}
}

func (r *feedbackReceiver) handleEmergency(frame can.Frame) {
	code := binary.LittleEndian.Uint16(frame.Data[0:2])
	r.logger.Debug("EMCY received", "code", code, "description", emergency.Describe(code))
	r.events.send(motorevent.NewEMCY(code))
	// Error code 0x0000 is the device reporting a previous error condition
	// resolved; anything else is an active fault.
	if code == emergency.ErrNoError {
		r.events.send(motorevent.NewFaultCleared())
	} else {
		r.events.send(motorevent.NewFault(code, emergency.Describe(code)))
	}
}

func (r *feedbackReceiver) handleHeartbeat(frame can.Frame) {
	if frame.DLC < 1 {
		return
	}
	state := nmt.DecodeHeartbeat(frame.Data[0])
	var ns motorevent.NmtState
	switch state {
	case nmt.StateInitializing:
		ns = motorevent.NmtBootup
	case nmt.StateStopped:
		ns = motorevent.NmtStopped
	case nmt.StateOperational:
		ns = motorevent.NmtOperational
	case nmt.StatePreOperational:
		ns = motorevent.NmtPreOperational
	default:
		ns = motorevent.NmtUnknown
	}
	r.events.send(motorevent.NewNmtStateUpdate(ns))
}
