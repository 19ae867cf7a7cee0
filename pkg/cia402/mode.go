package cia402

// OperationMode is the CiA-402 "modes of operation" code (OD 0x6060/0x6061).
type OperationMode int8

const (
	AutoSetup       OperationMode = -2
	ClockDirection  OperationMode = -1
	NoChange        OperationMode = 0
	ProfilePosition OperationMode = 1
	Velocity        OperationMode = 2
	ProfileVelocity OperationMode = 3
	ProfileTorque   OperationMode = 4
	Homing          OperationMode = 6
	Interpolated    OperationMode = 7
	CyclicSyncPos   OperationMode = 8
	CyclicSyncVel   OperationMode = 9
	CyclicSyncTrq   OperationMode = 10
)

var modeNames = map[OperationMode]string{
	AutoSetup:       "AUTO_SETUP",
	ClockDirection:  "CLOCK_DIRECTION",
	NoChange:        "NO_CHANGE",
	ProfilePosition: "PROFILE_POSITION",
	Velocity:        "VELOCITY",
	ProfileVelocity: "PROFILE_VELOCITY",
	ProfileTorque:   "PROFILE_TORQUE",
	Homing:          "HOMING",
	Interpolated:    "INTERPOLATED",
	CyclicSyncPos:   "CYCLIC_SYNC_POSITION",
	CyclicSyncVel:   "CYCLIC_SYNC_VELOCITY",
	CyclicSyncTrq:   "CYCLIC_SYNC_TORQUE",
}

func (m OperationMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// OMSFlag is an operating-mode-specific controlword bit. Its meaning
// depends on which OperationMode is currently selected in byte 2 of RPDO1.
type OMSFlag uint16

const (
	BitOMS4 = 4 // new-setpoint (position), homing-operation-start (homing)
	BitOMS5 = 5 // change-set-immediately (position)
	BitOMS6 = 6 // absolute/relative (position)
	BitOMS9 = 9 // change-on-setpoint (position)

	NewSetpoint          OMSFlag = 1 << BitOMS4
	ChangeSetImmediately OMSFlag = 1 << BitOMS5
	Relative             OMSFlag = 1 << BitOMS6
	ChangeOnSetpoint     OMSFlag = 1 << BitOMS9

	HomingOperationStart OMSFlag = 1 << BitOMS4
)

// PositionMask covers the OMS bits Profile Position uses (bits 4,5,6,9) plus
// halt (bit 8).
const PositionMask uint16 = uint16(NewSetpoint|ChangeSetImmediately|Relative|ChangeOnSetpoint) | 1<<BitHalt

// HomingMask covers the single OMS bit Homing mode uses: a rising edge on
// bit 4 starts the homing operation.
const HomingMask uint16 = uint16(HomingOperationStart)

// MergePosition replaces the Profile Position OMS bits of controlword with
// flags, leaving power bits and all other bits untouched.
func MergePosition(controlWord uint16, flags OMSFlag) uint16 {
	return (controlWord &^ PositionMask) | (uint16(flags) & PositionMask)
}

// MergeHoming replaces the Homing OMS bit of controlword with flags.
func MergeHoming(controlWord uint16, flags OMSFlag) uint16 {
	return (controlWord &^ HomingMask) | (uint16(flags) & HomingMask)
}

// Statusword OMS bits 12..13, meaning dependent on the active OperationMode.
const (
	StatusBitOMS12 = 12
	StatusBitOMS13 = 13
)

// PositionStatus carries the decoded OMS bits of the statusword while the
// device is in Profile Position mode: bit 12 is setpoint-acknowledge, bit 10
// (already in the statusword's universal bits) is target-reached.
type PositionStatus struct {
	SetpointAcknowledge bool
	TargetReached       bool
	LimitExceeded       bool
	FollowingError      bool
}

func DecodePositionStatus(statusWord uint16) PositionStatus {
	return PositionStatus{
		SetpointAcknowledge: statusWord&(1<<StatusBitOMS12) != 0,
		TargetReached:       statusWord&(1<<StatusBitTargetReached) != 0,
		LimitExceeded:       statusWord&(1<<StatusBitInternalLimit) != 0,
		FollowingError:      statusWord&(1<<StatusBitOMS13) != 0,
	}
}

// HomingStatus carries the decoded OMS bits of the statusword while the
// device is in Homing mode: bit 12 is homing-attained, bit 13 is
// homing-error, bit 10 is target-reached ("at home").
type HomingStatus struct {
	HomingCompleted bool
	HomingError     bool
	AtHome          bool
}

func DecodeHomingStatus(statusWord uint16) HomingStatus {
	return HomingStatus{
		HomingCompleted: statusWord&(1<<StatusBitOMS12) != 0,
		HomingError:     statusWord&(1<<StatusBitOMS13) != 0,
		AtHome:          statusWord&(1<<StatusBitTargetReached) != 0,
	}
}

// VelocityStatus carries the decoded OMS bits of the statusword while the
// device is in a velocity mode: bit 12 is velocity-is-zero, bit 13 is
// max-slippage / deviation error.
type VelocityStatus struct {
	SpeedIsZero    bool
	DeviationError bool
}

func DecodeVelocityStatus(statusWord uint16) VelocityStatus {
	return VelocityStatus{
		SpeedIsZero:    statusWord&(1<<StatusBitOMS12) != 0,
		DeviationError: statusWord&(1<<StatusBitOMS13) != 0,
	}
}

// TorqueStatus carries the single bit torque mode reports that this driver
// acts on: the internal-limit flag.
type TorqueStatus struct {
	LimitExceeded bool
}

func DecodeTorqueStatus(statusWord uint16) TorqueStatus {
	return TorqueStatus{LimitExceeded: statusWord&(1<<StatusBitInternalLimit) != 0}
}

// The power, position and homing controlword families must never overlap:
// a Disable command and a position setpoint write to RPDO1's same two bytes
// and must not clobber each other's bits. Go consts cannot express the
// overlap check, so it runs once at package init.
func init() {
	if PowerMask&PositionMask != 0 {
		panic("cia402: PowerMask and PositionMask overlap")
	}
	if PowerMask&HomingMask != 0 {
		panic("cia402: PowerMask and HomingMask overlap")
	}
}
