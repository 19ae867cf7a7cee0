package motorevent

import (
	"errors"
	"fmt"

	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
)

// Sentinel errors for failures that carry no payload.
var (
	ErrOperationModeSpecific = errors.New("motorevent: operation mode specific error")
	ErrCanOpenTimeout        = errors.New("motorevent: CANopen request timed out")
	ErrBroadcastLagged       = errors.New("motorevent: broadcast receiver lagged, events were dropped")
	ErrBroadcastClosed       = errors.New("motorevent: broadcast channel closed")
	ErrNMTSendError          = errors.New("motorevent: failed to send NMT request")
	ErrCommandError          = errors.New("motorevent: user command could not be delivered")
	ErrCia402SendError       = errors.New("motorevent: failed to send controlword update")
	ErrNewSetpointSendError  = errors.New("motorevent: failed to send new setpoint")
)

// InvalidTransitionError reports a transition command rejected by the
// CiA-402 transition table.
type InvalidTransitionError struct {
	From, To cia402.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("motorevent: invalid transition %s -> %s", e.From, e.To)
}

// CanOpenError wraps a transport-level error from the bus/SDO/NMT boundary.
type CanOpenError struct {
	Err error
}

func (e *CanOpenError) Error() string { return fmt.Sprintf("motorevent: canopen: %v", e.Err) }
func (e *CanOpenError) Unwrap() error { return e.Err }

// ConversionError reports a frame payload that could not be decoded into
// the expected typed feedback value.
type ConversionError struct {
	Bytes []byte
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("motorevent: cannot convert %d bytes", len(e.Bytes))
}

// ViolatedInvariantError reports a caller-supplied configuration that broke
// a structural invariant, e.g. an RPDO set lacking control/opmode
// sources, or PDO sources summing to more than 64 bits.
type ViolatedInvariantError struct {
	Detail string
}

func (e *ViolatedInvariantError) Error() string {
	return fmt.Sprintf("motorevent: violated invariant: %s", e.Detail)
}

// EventTimeoutError reports a wait for a specific event that exceeded its
// deadline; Elapsed is zero when the caller did not track elapsed time.
type EventTimeoutError struct {
	Event   string
	Elapsed int64 // milliseconds; 0 if unknown
}

func (e *EventTimeoutError) Error() string {
	if e.Elapsed == 0 {
		return fmt.Sprintf("motorevent: timed out waiting for %s", e.Event)
	}
	return fmt.Sprintf("motorevent: timed out waiting for %s after %dms", e.Event, e.Elapsed)
}

// Cia402StateDecodeError reports a statusword whose masked bits matched no
// row of the decode table.
type Cia402StateDecodeError struct {
	RawStatusWord uint16
}

func (e *Cia402StateDecodeError) Error() string {
	return fmt.Sprintf("motorevent: cannot decode statusword x%04x to a Cia402State", e.RawStatusWord)
}

// Cia402TransitionError reports an orchestrator path-planning failure: no
// legal path exists from From to To.
type Cia402TransitionError struct {
	From, To cia402.State
}

func (e *Cia402TransitionError) Error() string {
	return fmt.Sprintf("motorevent: no transition path from %s to %s", e.From, e.To)
}

// Cia402TransitionTimeoutError reports a transition hop that did not
// complete within the per-hop deadline.
type Cia402TransitionTimeoutError struct {
	From, To cia402.State
}

func (e *Cia402TransitionTimeoutError) Error() string {
	return fmt.Sprintf("motorevent: transition %s -> %s timed out", e.From, e.To)
}
