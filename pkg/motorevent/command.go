package motorevent

import "github.com/MaxKiv/glorified-gantry/pkg/cia402"

// CommandKind discriminates MotorCommand.
type CommandKind uint8

const (
	CommandHome CommandKind = iota
	CommandMoveAbsolute
	CommandMoveRelative
	CommandSetVelocity
	CommandSetTorque
	CommandHalt
	CommandResetFault
	CommandDisable
	CommandEnable
	CommandCia402TransitionTo
)

// MotorCommand is the high-level command an embedder sends with
// Driver.SendCommand.
type MotorCommand struct {
	Kind CommandKind

	// MoveAbsolute / MoveRelative fields.
	Target          int32
	ProfileVelocity uint32

	// SetVelocity field.
	VelocityTarget int32

	// SetTorque field.
	TorqueTarget int16

	// Cia402TransitionTo field.
	TargetState cia402.State
}

func Home() MotorCommand { return MotorCommand{Kind: CommandHome} }

func MoveAbsoluteCommand(target int32, profileVelocity uint32) MotorCommand {
	return MotorCommand{Kind: CommandMoveAbsolute, Target: target, ProfileVelocity: profileVelocity}
}

func MoveRelativeCommand(delta int32, profileVelocity uint32) MotorCommand {
	return MotorCommand{Kind: CommandMoveRelative, Target: delta, ProfileVelocity: profileVelocity}
}

func SetVelocityCommand(target int32) MotorCommand {
	return MotorCommand{Kind: CommandSetVelocity, VelocityTarget: target}
}

func SetTorqueCommand(target int16) MotorCommand {
	return MotorCommand{Kind: CommandSetTorque, TorqueTarget: target}
}

func Halt() MotorCommand       { return MotorCommand{Kind: CommandHalt} }
func ResetFault() MotorCommand { return MotorCommand{Kind: CommandResetFault} }
func Disable() MotorCommand    { return MotorCommand{Kind: CommandDisable} }
func Enable() MotorCommand     { return MotorCommand{Kind: CommandEnable} }

func Cia402TransitionTo(state cia402.State) MotorCommand {
	return MotorCommand{Kind: CommandCia402TransitionTo, TargetState: state}
}

// Setpoint translates a motion MotorCommand into the Setpoint its update
// publisher writes. Commands that aren't motion
// commands (Disable/Enable/ResetFault/Cia402TransitionTo) return ok=false:
// they go to the orchestrator's state machine, not the setpoint manager.
func (c MotorCommand) Setpoint() (Setpoint, bool) {
	switch c.Kind {
	case CommandHalt:
		return HaltSetpoint(), true
	case CommandMoveAbsolute:
		return MoveAbsolute(c.Target, c.ProfileVelocity), true
	case CommandMoveRelative:
		return MoveRelative(c.Target, c.ProfileVelocity), true
	case CommandSetVelocity:
		return SetVelocity(c.VelocityTarget), true
	case CommandSetTorque:
		return SetTorque(c.TorqueTarget), true
	case CommandHome:
		return HomeSetpoint(), true
	default:
		return Setpoint{}, false
	}
}

// GoalState maps a state-machine MotorCommand to the orchestrator's target
// state: Enable to OperationEnabled, Disable to ReadyToSwitchOn,
// ResetFault to SwitchOnDisabled, Cia402TransitionTo to its named state.
func (c MotorCommand) GoalState() (cia402.State, bool) {
	switch c.Kind {
	case CommandEnable:
		return cia402.OperationEnabled, true
	case CommandDisable:
		return cia402.ReadyToSwitchOn, true
	case CommandResetFault:
		return cia402.SwitchOnDisabled, true
	case CommandCia402TransitionTo:
		return c.TargetState, true
	default:
		return cia402.StateUnknown, false
	}
}
