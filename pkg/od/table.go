package od

// Entry constants follow the device's parametrization profile: CiA-402
// power-train objects plus two manufacturer-specific block-detection
// entries (0x203A).

var (
	DeviceType = Entry{0x1000, 0x00, "device type", ReadOnly, NotMappable, U32Value(0x00040192)}

	ControlWord = Entry{0x6040, 0x00, "controlword", ReadWrite, MappableRPDO, U16Value(0)}
	StatusWord  = Entry{0x6041, 0x00, "statusword", ReadOnly, MappableTPDO, U16Value(0)}

	// ProducerHeartbeatTime in ms; 0 disables heartbeat production.
	ProducerHeartbeatTime = Entry{0x1017, 0x00, "producer heartbeat time", ReadWrite, NotMappable, U16Value(0)}

	PositionActualValue = Entry{0x6064, 0x00, "position actual value", ReadOnly, MappableTPDO, I32Value(0)}
	VelocityActualValue = Entry{0x606C, 0x00, "velocity actual value", ReadOnly, MappableTPDO, I32Value(0)}
	TorqueActualValue   = Entry{0x6077, 0x00, "torque actual value", ReadOnly, MappableTPDO, I16Value(0)}

	// SetOperationMode / GetOperationMode: 1=ProfilePosition, 3=ProfileVelocity,
	// 4=ProfileTorque, 6=Homing.
	SetOperationMode = Entry{0x6060, 0x00, "modes of operation", ReadWrite, MappableRPDO, I8Value(1)}
	GetOperationMode = Entry{0x6061, 0x00, "modes of operation display", ReadOnly, MappableRPDO, I8Value(1)}

	TargetPosition = Entry{0x607A, 0x00, "target position", ReadWrite, MappableTPDO, I32Value(0x0FA0)}
	TargetVelocity = Entry{0x60FF, 0x00, "target velocity", ReadWrite, MappableTPDO, I32Value(0)}
	TargetTorque   = Entry{0x6071, 0x00, "target torque", ReadWrite, MappableTPDO, I16Value(0)}

	SoftwarePositionLimit    = Entry{0x607D, 0x00, "software position limit", ReadWrite, MappableRPDO, ArrayValue(2)}
	SoftwarePositionLimitMin = Entry{0x607D, 0x01, "software position limit min", ReadWrite, MappableRPDO, I32Value(0)}
	SoftwarePositionLimitMax = Entry{0x607D, 0x02, "software position limit max", ReadWrite, MappableRPDO, I32Value(0)}

	PositionLimit    = Entry{0x607B, 0x00, "position range limit", ReadOnly, MappableRPDO, ArrayValue(2)}
	PositionLimitMin = Entry{0x607B, 0x01, "position range limit min", ReadWrite, MappableRPDO, I32Value(0)}
	PositionLimitMax = Entry{0x607B, 0x02, "position range limit max", ReadWrite, MappableRPDO, I32Value(0)}

	// HomeOffset is applied after homing completes, per CiA-402.
	HomeOffset = Entry{0x607C, 0x00, "home offset", ReadWrite, MappableRPDO, I32Value(0)}
	Polarity   = Entry{0x607E, 0x00, "polarity", ReadWrite, MappableRPDO, U8Value(0)}

	ProfileVelocity     = Entry{0x6081, 0x00, "profile velocity", ReadWrite, MappableRPDO, U32Value(0x01F4)}
	EndVelocity         = Entry{0x6082, 0x00, "end velocity", ReadWrite, MappableRPDO, U32Value(0)}
	ProfileAcceleration = Entry{0x6083, 0x00, "profile acceleration", ReadWrite, MappableRPDO, U32Value(0x01F4)}
	ProfileDeceleration = Entry{0x6084, 0x00, "profile deceleration", ReadWrite, MappableRPDO, U32Value(0x01F4)}
	QuickStopDecel      = Entry{0x6085, 0x00, "quick stop deceleration", ReadWrite, MappableRPDO, U32Value(0x1388)}

	// MotionProfileType: 0 = trapezoidal, 1 = sinusoidal.
	MotionProfileType = Entry{0x6086, 0x00, "motion profile type", ReadWrite, MappableRPDO, I16Value(0)}

	MaxAcceleration = Entry{0x60C5, 0x00, "max acceleration", ReadWrite, MappableRPDO, U32Value(0x1388)}
	MaxDeceleration = Entry{0x60C6, 0x00, "max deceleration", ReadWrite, MappableRPDO, U32Value(0x1388)}

	ProfileJerk         = Entry{0x60A4, 0x00, "profile jerk", ReadOnly, NotMappable, ArrayValue(4)}
	ProfileJerkBeginAcc = Entry{0x60A4, 0x01, "profile jerk begin accel", ReadWrite, NotMappable, U32Value(0x03E8)}
	ProfileJerkBeginDec = Entry{0x60A4, 0x02, "profile jerk begin decel", ReadWrite, NotMappable, U32Value(0x03E8)}
	ProfileJerkEndAcc   = Entry{0x60A4, 0x03, "profile jerk end accel", ReadWrite, NotMappable, U32Value(0x03E8)}
	ProfileJerkEndDec   = Entry{0x60A4, 0x04, "profile jerk end decel", ReadWrite, NotMappable, U32Value(0x03E8)}

	// PositioningOptionCode only applies to relative Profile Position moves.
	PositioningOptionCode = Entry{0x60F2, 0x00, "positioning option code", ReadWrite, MappableRPDO, U16Value(1)}

	// HomingMethod follows CiA-402 table 46; IndexOnly (34) is the default,
	// homing on the current position without a physical switch.
	HomingMethod            = Entry{0x6098, 0x00, "homing method", ReadWrite, MappableRPDO, I8Value(34)}
	HomingSpeedSwitchSearch = Entry{0x6099, 0x01, "homing speed switch search", ReadWrite, MappableRPDO, U32Value(0x32)}
	HomingSpeedZeroSearch   = Entry{0x6099, 0x02, "homing speed zero search", ReadWrite, MappableRPDO, U32Value(0x0A)}
	MaxMotorSpeed           = Entry{0x6080, 0x00, "max motor speed", ReadWrite, MappableRPDO, U32Value(0x7530)}
	HomingAcceleration      = Entry{0x609A, 0x00, "homing acceleration", ReadWrite, MappableRPDO, U32Value(0x01F4)}

	// Block detection is manufacturer-specific (0x203A), used to detect a
	// stalled motor by sustained overcurrent.
	BlockDetectionMinCurrent = Entry{0x203A, 0x01, "block detection min current", ReadWrite, MappableRPDO, I32Value(0x41A)}
	BlockDetectionPeriod     = Entry{0x203A, 0x02, "block detection period", ReadWrite, MappableRPDO, I32Value(0xC8)}

	// SI unit combinators; left at their datasheet defaults (tenths of a
	// degree, rpm) and never renegotiated by this driver.
	SIUnitPosition = Entry{0x60A8, 0x00, "si unit position", ReadWrite, NotMappable, U32Value(0xFF410000)}
	SIUnitSpeed    = Entry{0x60A9, 0x00, "si unit velocity", ReadWrite, NotMappable, U32Value(0x0B447000)}
)

// PDO configuration base indices; add (n-1) for PDO number n in 1..4.
const (
	RPDOCommParamBase    uint16 = 0x1400
	RPDOMappingParamBase uint16 = 0x1600
	TPDOCommParamBase    uint16 = 0x1800
	TPDOMappingParamBase uint16 = 0x1A00
)

// PositionModeMinimumParams is the minimum object set required for Profile
// Position mode (CiA-402 §6.5.1).
var PositionModeMinimumParams = []Entry{
	TargetPosition, SoftwarePositionLimit, HomeOffset, PositionLimitMin, PositionLimitMax,
	Polarity, ProfileVelocity, EndVelocity, ProfileAcceleration, ProfileDeceleration,
	QuickStopDecel, MotionProfileType, MaxAcceleration, MaxDeceleration, ProfileJerk,
	PositioningOptionCode,
}

// HomingModeMinimumParams is the minimum object set required for Homing
// mode (CiA-402 §6.5.1.5).
var HomingModeMinimumParams = []Entry{
	HomeOffset, HomingMethod, HomingSpeedSwitchSearch, HomingSpeedZeroSearch,
	MaxMotorSpeed, HomingAcceleration, BlockDetectionMinCurrent, BlockDetectionPeriod,
}

// Table is the full static Object Dictionary.
var Table = []Entry{
	DeviceType, ControlWord, StatusWord, ProducerHeartbeatTime,
	PositionActualValue, VelocityActualValue, TorqueActualValue,
	SetOperationMode, GetOperationMode,
	TargetPosition, TargetVelocity, TargetTorque,
	SoftwarePositionLimit, SoftwarePositionLimitMin, SoftwarePositionLimitMax,
	PositionLimit, PositionLimitMin, PositionLimitMax,
	HomeOffset, Polarity,
	ProfileVelocity, EndVelocity, ProfileAcceleration, ProfileDeceleration, QuickStopDecel,
	MotionProfileType, MaxAcceleration, MaxDeceleration,
	ProfileJerk, ProfileJerkBeginAcc, ProfileJerkBeginDec, ProfileJerkEndAcc, ProfileJerkEndDec,
	PositioningOptionCode,
	HomingMethod, HomingSpeedSwitchSearch, HomingSpeedZeroSearch, MaxMotorSpeed, HomingAcceleration,
	BlockDetectionMinCurrent, BlockDetectionPeriod,
	SIUnitPosition, SIUnitSpeed,
}

var lookup = func() map[Key]Entry {
	m := make(map[Key]Entry, len(Table))
	for _, e := range Table {
		m[e.Key()] = e
	}
	return m
}()

// Lookup returns the entry metadata for (index, subindex).
func Lookup(index uint16, subIndex uint8) (Entry, bool) {
	e, ok := lookup[Key{index, subIndex}]
	return e, ok
}
