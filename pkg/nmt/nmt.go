// Package nmt holds the NMT state and command vocabulary shared between the
// driver's feedback receiver and its NMT task. This driver is a master
// issuing NMT commands to one remote node and observing its reported state;
// it never produces a heartbeat or processes incoming NMT commands
// addressed to itself.
package nmt

const ServiceId = 0

// State is an NMT node state (CiA-301 table 96).
type State uint8

const (
	StateInitializing   State = 0
	StateStopped        State = 4
	StateOperational    State = 5
	StatePreOperational State = 127
	StateUnknown        State = 255
)

var stateNames = map[State]string{
	StateInitializing:   "INITIALIZING",
	StateStopped:        "STOPPED",
	StateOperational:    "OPERATIONAL",
	StatePreOperational: "PRE-OPERATIONAL",
	StateUnknown:        "UNKNOWN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Command is an NMT service command, CiA-301 table 95.
type Command uint8

const (
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

var commandNames = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// DecodeHeartbeat maps a heartbeat payload's first byte to a State.
// Unrecognized values default to PreOperational.
func DecodeHeartbeat(b byte) State {
	switch b {
	case 0x00:
		return StateInitializing
	case 0x04:
		return StateStopped
	case 0x05:
		return StateOperational
	case 0x7F:
		return StatePreOperational
	default:
		return StatePreOperational
	}
}
