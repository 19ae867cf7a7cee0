// Package cia402 implements the bit-level vocabulary of the CiA-402 device
// profile: controlword/statusword layout, the power state machine's decode
// table and legal transitions, operating modes, and the disjoint bit-mask
// families controlword writers merge into.
package cia402

import "fmt"

// State is the CiA-402 power state machine's state.
type State uint8

const (
	NotReadyToSwitchOn State = iota
	SwitchOnDisabled
	ReadyToSwitchOn
	SwitchedOn
	OperationEnabled
	QuickStopActive
	FaultReactionActive
	Fault
	StateUnknown
)

var stateNames = map[State]string{
	NotReadyToSwitchOn:  "NOT_READY_TO_SWITCH_ON",
	SwitchOnDisabled:    "SWITCH_ON_DISABLED",
	ReadyToSwitchOn:     "READY_TO_SWITCH_ON",
	SwitchedOn:          "SWITCHED_ON",
	OperationEnabled:    "OPERATION_ENABLED",
	QuickStopActive:     "QUICK_STOP_ACTIVE",
	FaultReactionActive: "FAULT_REACTION_ACTIVE",
	Fault:               "FAULT",
	StateUnknown:        "UNKNOWN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// statusWordMask selects statusword bits 0..3,5,6 (ready, switched-on,
// operation-enabled, fault, quick-stop, switch-on-disabled) and excludes
// bit 4 (voltage-enabled), which does not participate in state decode.
const statusWordMask uint16 = 0b110_1111

var decodeTable = map[uint16]State{
	0b000_0000: NotReadyToSwitchOn,
	0b100_0000: SwitchOnDisabled,
	0b010_0001: ReadyToSwitchOn,
	0b010_0011: SwitchedOn,
	0b010_0111: OperationEnabled,
	0b000_0111: QuickStopActive,
	0b000_1111: FaultReactionActive,
	0b000_1000: Fault,
}

// DecodeState maps a raw statusword to a State. An unrecognized masked
// pattern returns (StateUnknown, false): the state machine logs and drops
// these rather than adopting them.
func DecodeState(statusWord uint16) (State, bool) {
	s, ok := decodeTable[statusWord&statusWordMask]
	if !ok {
		return StateUnknown, false
	}
	return s, true
}

// Controlword bit positions.
const (
	BitSwitchOn         = 0
	BitEnableVoltage    = 1
	BitDisableQuickStop = 2
	BitEnableOperation  = 3
	BitFaultReset       = 7
	BitHalt             = 8
)

// Statusword bit positions.
const (
	StatusBitReadyToSwitchOn  = 0
	StatusBitSwitchedOn       = 1
	StatusBitOperationEnabled = 2
	StatusBitFault            = 3
	StatusBitVoltageEnabled   = 4
	StatusBitQuickStop        = 5
	StatusBitSwitchOnDisabled = 6
	StatusBitWarning          = 7
	StatusBitTargetReached    = 10
	StatusBitInternalLimit    = 11
	StatusBitClosedLoopActive = 15
)

// PowerFlag is one controlword bit belonging to the CiA-402 power state
// mask, combined into a flag set and merged into the live controlword by
// MergePower.
type PowerFlag uint16

const (
	SwitchOn         PowerFlag = 1 << BitSwitchOn
	EnableVoltage    PowerFlag = 1 << BitEnableVoltage
	DisableQuickStop PowerFlag = 1 << BitDisableQuickStop
	EnableOperation  PowerFlag = 1 << BitEnableOperation
	FaultReset       PowerFlag = 1 << BitFaultReset
)

// PowerMask covers every controlword bit the power state machine owns.
// MergePower replaces exactly these bits and leaves OMS bits (4..6,8,9) and
// Halt untouched.
const PowerMask uint16 = uint16(SwitchOn | EnableVoltage | DisableQuickStop | EnableOperation | FaultReset)

// MergePower replaces the power-state bits of controlword with flags,
// leaving every other bit (OMS, halt, reserved) as found.
func MergePower(controlWord uint16, flags PowerFlag) uint16 {
	return (controlWord &^ PowerMask) | (uint16(flags) & PowerMask)
}

// transitionTable maps (from, to) to the PowerFlag set the orchestrator must
// send to request that hop.
var transitionTable = map[[2]State]PowerFlag{
	{Fault, SwitchOnDisabled}:           FaultReset,
	{SwitchOnDisabled, ReadyToSwitchOn}: EnableVoltage | DisableQuickStop,
	{ReadyToSwitchOn, SwitchedOn}:       EnableVoltage | DisableQuickStop | SwitchOn,
	{SwitchedOn, OperationEnabled}:      EnableVoltage | DisableQuickStop | SwitchOn | EnableOperation,
	{OperationEnabled, SwitchedOn}:      EnableVoltage | DisableQuickStop | SwitchOn,
	{SwitchedOn, ReadyToSwitchOn}:       EnableVoltage | DisableQuickStop,
	{ReadyToSwitchOn, SwitchOnDisabled}: 0,
	{OperationEnabled, QuickStopActive}: EnableVoltage | SwitchOn | EnableOperation,
	{QuickStopActive, SwitchOnDisabled}: 0,
}

// Transition looks up the controlword flags for a single legal hop. ok is
// false for any pair not in the table.
func Transition(from, to State) (PowerFlag, bool) {
	flags, ok := transitionTable[[2]State{from, to}]
	return flags, ok
}

// Plan enumerates the ordered chain of intermediate states to request to go
// from s to t. Fault and QuickStopActive always plan to
// SwitchOnDisabled first, regardless of t; the caller re-plans from there
// once the device confirms it. Returns (nil, true) if s == t (no hop
// needed), and (nil, false) if no legal path exists.
func Plan(s, t State) ([]State, bool) {
	if s == t {
		return nil, true
	}
	if s == Fault || s == QuickStopActive {
		return []State{SwitchOnDisabled}, true
	}

	chain := []State{SwitchOnDisabled, ReadyToSwitchOn, SwitchedOn, OperationEnabled}
	fromIdx, toIdx := indexOf(chain, s), indexOf(chain, t)
	if fromIdx == -1 || toIdx == -1 {
		return nil, false
	}
	var path []State
	if toIdx > fromIdx {
		path = append(path, chain[fromIdx+1:toIdx+1]...)
	} else {
		for i := fromIdx - 1; i >= toIdx; i-- {
			path = append(path, chain[i])
		}
	}
	return path, true
}

func indexOf(chain []State, s State) int {
	for i, c := range chain {
		if c == s {
			return i
		}
	}
	return -1
}

func (f PowerFlag) String() string {
	return fmt.Sprintf("x%04x", uint16(f))
}
