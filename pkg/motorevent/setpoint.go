// Package motorevent is the driver's vocabulary package: the Setpoint,
// MotorCommand and MotorEvent tagged unions that flow between the
// orchestrator, update publisher, feedback receiver and the embedder, plus
// the error taxonomy. Go has no sum types, so each union is a Kind-tagged
// struct carrying only the fields its Kind uses.
package motorevent

import "github.com/MaxKiv/glorified-gantry/pkg/cia402"

// PositionFlag is the OMS bit set a Profile Position setpoint carries.
type PositionFlag = cia402.OMSFlag

const (
	NewSetpoint          = cia402.NewSetpoint
	ChangeSetImmediately = cia402.ChangeSetImmediately
	Relative             = cia402.Relative
	ChangeOnSetpoint     = cia402.ChangeOnSetpoint
)

// HaltBit is the controlword bit (8) a Profile Position Halt setpoint sets;
// it lives in the position OMS family mask but is not an OMSFlag constant
// since it means "stop" in every operating mode, not just position.
const HaltBit uint16 = 1 << cia402.BitHalt

// SetpointKind discriminates the Setpoint union.
type SetpointKind uint8

const (
	SetpointProfilePosition SetpointKind = iota
	SetpointProfileVelocity
	SetpointProfileTorque
	SetpointHoming
)

// opModeForKind maps a SetpointKind to the OperationMode code that must be
// written into RPDO1's opmode byte for the device to interpret the
// accompanying target RPDO correctly.
var opModeForKind = map[SetpointKind]cia402.OperationMode{
	SetpointProfilePosition: cia402.ProfilePosition,
	SetpointProfileVelocity: cia402.ProfileVelocity,
	SetpointProfileTorque:   cia402.ProfileTorque,
	SetpointHoming:          cia402.Homing,
}

// OpMode reports the operation mode this setpoint requires the device to be
// in; the transport writes it into RPDO1 alongside the setpoint's target.
func (k SetpointKind) OpMode() cia402.OperationMode {
	return opModeForKind[k]
}

// Setpoint is the tagged union the orchestrator's update publisher writes
// to the device through the setpoint manager.
type Setpoint struct {
	Kind SetpointKind

	// ProfilePosition fields.
	PositionFlags   PositionFlag
	PositionHalt    bool
	Target          int32
	ProfileVelocity uint32

	// ProfileVelocity field.
	VelocityTarget int32

	// ProfileTorque field.
	TorqueTarget int16

	// Homing field: always NewSetpoint, carried for symmetry with the
	// other variants and to make a Homing setpoint's flags explicit at
	// call sites.
	HomingFlags PositionFlag
}

// defaultPositionFlags is the flag set an absolute move carries:
// new-setpoint, change-set-immediately, change-on-setpoint; relative off.
const defaultPositionFlags = NewSetpoint | ChangeSetImmediately | ChangeOnSetpoint

func MoveAbsolute(target int32, profileVelocity uint32) Setpoint {
	return Setpoint{
		Kind:            SetpointProfilePosition,
		PositionFlags:   defaultPositionFlags,
		Target:          target,
		ProfileVelocity: profileVelocity,
	}
}

func MoveRelative(delta int32, profileVelocity uint32) Setpoint {
	return Setpoint{
		Kind:            SetpointProfilePosition,
		PositionFlags:   defaultPositionFlags | Relative,
		Target:          delta,
		ProfileVelocity: profileVelocity,
	}
}

func HaltSetpoint() Setpoint {
	return Setpoint{
		Kind:          SetpointProfilePosition,
		PositionFlags: defaultPositionFlags,
		PositionHalt:  true,
	}
}

func SetVelocity(target int32) Setpoint {
	return Setpoint{Kind: SetpointProfileVelocity, VelocityTarget: target}
}

func SetTorque(target int16) Setpoint {
	return Setpoint{Kind: SetpointProfileTorque, TorqueTarget: target}
}

func HomeSetpoint() Setpoint {
	return Setpoint{Kind: SetpointHoming, HomingFlags: NewSetpoint}
}

// ClearNewSetpoint returns a copy of s with the new-setpoint (bit 4) OMS
// flag cleared, for the handshake's second write.
func (s Setpoint) ClearNewSetpoint() Setpoint {
	switch s.Kind {
	case SetpointProfilePosition:
		s.PositionFlags &^= NewSetpoint
	case SetpointHoming:
		s.HomingFlags &^= NewSetpoint
	}
	return s
}

// RequiresHandshake reports whether s must go through the Profile Position
// rising-edge/setpoint-acknowledge handshake before it is considered
// delivered. Only ProfilePosition does.
func (s Setpoint) RequiresHandshake() bool {
	return s.Kind == SetpointProfilePosition
}
