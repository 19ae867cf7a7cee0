package motorevent

import (
	"testing"

	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/stretchr/testify/assert"
)

func TestNewCia402StateUpdate(t *testing.T) {
	ev := NewCia402StateUpdate(cia402.OperationEnabled)
	assert.Equal(t, EventCia402StateUpdate, ev.Kind)
	assert.Equal(t, cia402.OperationEnabled, ev.Cia402State)
}

func TestCia402TransitionErrorMessage(t *testing.T) {
	err := &Cia402TransitionError{From: cia402.NotReadyToSwitchOn, To: cia402.OperationEnabled}
	assert.Contains(t, err.Error(), "NOT_READY_TO_SWITCH_ON")
	assert.Contains(t, err.Error(), "OPERATION_ENABLED")
}

func TestCanOpenErrorUnwraps(t *testing.T) {
	inner := ErrBroadcastLagged
	err := &CanOpenError{Err: inner}
	assert.ErrorIs(t, err, inner)
}
