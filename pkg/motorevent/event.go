package motorevent

import "github.com/MaxKiv/glorified-gantry/pkg/cia402"

// EventKind discriminates MotorEvent.
type EventKind uint8

const (
	EventCia402StateUpdate EventKind = iota
	EventNmtStateUpdate
	EventOperationModeUpdate
	EventStatusWord
	EventPositionFeedback
	EventVelocityFeedback
	EventTorqueFeedback
	EventHomingFeedback
	EventPositionModeFeedback
	EventVelocityModeFeedback
	EventTorqueModeFeedback
	EventFault
	EventEMCY
	EventSdoResponse
	EventFaultCleared
	EventCommunicationLost
)

// NmtState is the narrow vocabulary the feedback receiver's NmtStateUpdate
// event carries, without re-exporting the full pkg/nmt.State from the event
// surface. NMT requests on the public API (Driver.SendNmt) take an
// nmt.Command instead.
type NmtState uint8

const (
	NmtUnknown NmtState = iota
	NmtBootup
	NmtPreOperational
	NmtOperational
	NmtStopped
)

// MotorEvent is the tagged union the feedback receiver publishes on the
// driver's event broadcast (subscribe with Driver.EventReceiver). Only the
// fields relevant to Kind are meaningful.
type MotorEvent struct {
	Kind EventKind

	Cia402State cia402.State
	NmtState    NmtState
	OpMode      cia402.OperationMode
	StatusWord  uint16

	Position int32
	Velocity int32
	Torque   int16

	Homing   HomingFeedback
	PosMode  PositionModeFeedback
	VelMode  VelocityModeFeedback
	TrqMode  TorqueModeFeedback

	FaultCode        uint16
	FaultDescription string

	EMCYCode uint16

	Sdo SdoResponse
}

type HomingFeedback struct {
	AtHome    bool
	Completed bool
	Error     bool
}

type PositionModeFeedback struct {
	TargetReached  bool
	LimitExceeded  bool
	SetpointAck    bool
	FollowingError bool
}

type VelocityModeFeedback struct {
	SpeedIsZero    bool
	DeviationError bool
}

type TorqueModeFeedback struct {
	LimitExceeded bool
}

// SdoResponseKind discriminates the decoded SDO response.
type SdoResponseKind uint8

const (
	SdoError SdoResponseKind = iota
	SdoDownloadConfirm
	SdoUploadConfirm
)

type SdoResponse struct {
	Kind      SdoResponseKind
	Index     uint16
	SubIndex  uint8
	Data      []byte // UploadConfirm payload, 1..4 bytes
	AbortCode uint32 // Error variant
}

func cia402StateEvent(s cia402.State) MotorEvent {
	return MotorEvent{Kind: EventCia402StateUpdate, Cia402State: s}
}

func NewCia402StateUpdate(s cia402.State) MotorEvent { return cia402StateEvent(s) }

func NewNmtStateUpdate(s NmtState) MotorEvent {
	return MotorEvent{Kind: EventNmtStateUpdate, NmtState: s}
}

func NewOperationModeUpdate(m cia402.OperationMode) MotorEvent {
	return MotorEvent{Kind: EventOperationModeUpdate, OpMode: m}
}

func NewStatusWordEvent(sw uint16) MotorEvent {
	return MotorEvent{Kind: EventStatusWord, StatusWord: sw}
}

func NewPositionFeedback(pos int32) MotorEvent {
	return MotorEvent{Kind: EventPositionFeedback, Position: pos}
}

func NewVelocityFeedback(vel int32) MotorEvent {
	return MotorEvent{Kind: EventVelocityFeedback, Velocity: vel}
}

func NewTorqueFeedback(trq int16) MotorEvent {
	return MotorEvent{Kind: EventTorqueFeedback, Torque: trq}
}

func NewHomingFeedback(f HomingFeedback) MotorEvent {
	return MotorEvent{Kind: EventHomingFeedback, Homing: f}
}

func NewPositionModeFeedback(f PositionModeFeedback) MotorEvent {
	return MotorEvent{Kind: EventPositionModeFeedback, PosMode: f}
}

func NewVelocityModeFeedback(f VelocityModeFeedback) MotorEvent {
	return MotorEvent{Kind: EventVelocityModeFeedback, VelMode: f}
}

func NewTorqueModeFeedback(f TorqueModeFeedback) MotorEvent {
	return MotorEvent{Kind: EventTorqueModeFeedback, TrqMode: f}
}

func NewFault(code uint16, description string) MotorEvent {
	return MotorEvent{Kind: EventFault, FaultCode: code, FaultDescription: description}
}

func NewEMCY(code uint16) MotorEvent { return MotorEvent{Kind: EventEMCY, EMCYCode: code} }

func NewSdoResponseEvent(r SdoResponse) MotorEvent {
	return MotorEvent{Kind: EventSdoResponse, Sdo: r}
}

func NewFaultCleared() MotorEvent      { return MotorEvent{Kind: EventFaultCleared} }
func NewCommunicationLost() MotorEvent { return MotorEvent{Kind: EventCommunicationLost} }
