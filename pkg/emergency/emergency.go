// Package emergency holds the CANopen EMCY error-code vocabulary used to
// classify inbound emergency frames. This driver only ever consumes EMCY
// frames from the remote device, never produces them.
package emergency

// Error codes, CiA-301 table 12 plus the CiA-402 (DS401) extensions this
// driver is most likely to see on a motion controller.
const (
	ErrNoError          uint16 = 0x0000
	ErrGeneric          uint16 = 0x1000
	ErrCurrent          uint16 = 0x2000
	ErrVoltage          uint16 = 0x3000
	ErrVoltageMains     uint16 = 0x3100
	ErrVoltageInside    uint16 = 0x3200
	ErrTemperature      uint16 = 0x4000
	ErrHardware         uint16 = 0x5000
	ErrSoftwareDevice   uint16 = 0x6000
	ErrSoftwareInternal uint16 = 0x6100
	ErrMonitoring       uint16 = 0x8000
	ErrCommunication    uint16 = 0x8100
	ErrCanOverrun       uint16 = 0x8110
	ErrCanPassive       uint16 = 0x8120
	ErrHeartbeat        uint16 = 0x8130
	ErrBusOffRecovered  uint16 = 0x8140
	ErrProtocolError    uint16 = 0x8200
	ErrPdoLength        uint16 = 0x8210
	ErrPdoLengthExc     uint16 = 0x8220
	ErrRpdoTimeout      uint16 = 0x8250
	ErrExternalError    uint16 = 0x9000
	ErrDeviceSpecific   uint16 = 0xFF00
	// DS401 motion-specific
	ErrMotorBlocked     uint16 = 0x7121
	ErrFollowingError   uint16 = 0x8611
	ErrUndervoltage     uint16 = 0x3130
)

var descriptions = map[uint16]string{
	ErrNoError:          "Reset or No Error",
	ErrGeneric:          "Generic Error",
	ErrCurrent:          "Current",
	ErrVoltage:          "Voltage",
	ErrVoltageMains:     "Mains Voltage",
	ErrVoltageInside:    "Voltage inside the device",
	ErrTemperature:      "Temperature",
	ErrHardware:         "Device Hardware",
	ErrSoftwareDevice:   "Device Software",
	ErrSoftwareInternal: "Internal Software",
	ErrMonitoring:       "Monitoring",
	ErrCommunication:    "Communication",
	ErrCanOverrun:       "CAN Overrun (objects lost)",
	ErrCanPassive:       "CAN in error passive mode",
	ErrHeartbeat:        "Life guard error or heartbeat error",
	ErrBusOffRecovered:  "Recovered from bus off",
	ErrProtocolError:    "Protocol error",
	ErrPdoLength:        "PDO not processed due to length error",
	ErrPdoLengthExc:     "PDO length exceeded",
	ErrRpdoTimeout:      "RPDO timeout",
	ErrExternalError:    "External error",
	ErrDeviceSpecific:   "Device specific",
	ErrMotorBlocked:     "Motor blocked",
	ErrFollowingError:   "Following error",
	ErrUndervoltage:     "Undervoltage",
}

// Describe returns the known description for an EMCY error code, or
// "unknown" if the code isn't in the table.
func Describe(code uint16) string {
	if desc, ok := descriptions[code]; ok {
		return desc
	}
	return "unknown"
}

// Known reports whether code has a known description.
func Known(code uint16) bool {
	_, ok := descriptions[code]
	return ok
}
