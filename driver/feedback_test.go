package driver

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/emergency"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeedbackReceiver() (*feedbackReceiver, *receiver[motorevent.MotorEvent]) {
	events := newBroadcaster[motorevent.MotorEvent](64)
	r := newFeedbackReceiver(&recordingBus{}, 5, testSilentLogger(), events)
	return r, events.subscribe()
}

// drain collects every event already queued on sub without blocking on more.
func drain(sub *receiver[motorevent.MotorEvent]) []motorevent.MotorEvent {
	var out []motorevent.MotorEvent
	for {
		select {
		case ev := <-sub.Chan():
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestFeedbackSkipsOtherNodes(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(can.TPDOCobId(1, 9), 3) // node 9, not ours
	r.Handle(frame)

	assert.Empty(t, drain(sub))
}

func TestFeedbackTPDO1EmitsEventSequence(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(can.TPDOCobId(1, 5), 3)
	binary.LittleEndian.PutUint16(frame.Data[0:2], 0b010_0111) // OperationEnabled
	frame.Data[2] = byte(int8(cia402.ProfilePosition))
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 4)
	assert.Equal(t, motorevent.EventNmtStateUpdate, events[0].Kind)
	assert.Equal(t, motorevent.NmtOperational, events[0].NmtState)
	assert.Equal(t, motorevent.EventStatusWord, events[1].Kind)
	assert.Equal(t, uint16(0b010_0111), events[1].StatusWord)
	assert.Equal(t, motorevent.EventOperationModeUpdate, events[2].Kind)
	assert.Equal(t, cia402.ProfilePosition, events[2].OpMode)
	assert.Equal(t, motorevent.EventPositionModeFeedback, events[3].Kind)
}

func TestFeedbackTPDO1DerivesNmtStateWithoutUpBits(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(can.TPDOCobId(1, 5), 3)
	binary.LittleEndian.PutUint16(frame.Data[0:2], 0b100_0000) // SwitchOnDisabled
	frame.Data[2] = byte(int8(cia402.ProfilePosition))
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 4)
	assert.Equal(t, motorevent.EventNmtStateUpdate, events[0].Kind)
	assert.Equal(t, motorevent.NmtStopped, events[0].NmtState)
	assert.Equal(t, motorevent.EventStatusWord, events[1].Kind)
}

func TestFeedbackTPDO1HomingDecodesOMSBits(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	sw := uint16(0b010_0111) | 1<<cia402.StatusBitOMS12 | 1<<cia402.StatusBitTargetReached
	frame := can.NewFrame(can.TPDOCobId(1, 5), 3)
	binary.LittleEndian.PutUint16(frame.Data[0:2], sw)
	frame.Data[2] = byte(int8(cia402.Homing))
	r.Handle(frame)

	events := drain(sub)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, motorevent.EventHomingFeedback, last.Kind)
	assert.True(t, last.Homing.Completed)
	assert.True(t, last.Homing.AtHome)
	assert.False(t, last.Homing.Error)
}

func TestFeedbackTPDO2DecodesPositionAndVelocity(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(can.TPDOCobId(2, 5), 8)
	wantPosition := int32(-1200)
	wantVelocity := int32(350)
	binary.LittleEndian.PutUint32(frame.Data[0:4], uint32(wantPosition))
	binary.LittleEndian.PutUint32(frame.Data[4:8], uint32(wantVelocity))
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, motorevent.EventPositionFeedback, events[0].Kind)
	assert.Equal(t, int32(-1200), events[0].Position)
	assert.Equal(t, motorevent.EventVelocityFeedback, events[1].Kind)
	assert.Equal(t, int32(350), events[1].Velocity)
}

func TestFeedbackTPDO3DecodesTorque(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(can.TPDOCobId(3, 5), 2)
	wantTorque := int16(-42)
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(wantTorque))
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, motorevent.EventTorqueFeedback, events[0].Kind)
	assert.Equal(t, int16(-42), events[0].Torque)
}

func TestFeedbackEmergencyEmitsFault(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(0x080+uint32(5), 8)
	binary.LittleEndian.PutUint16(frame.Data[0:2], emergency.ErrMotorBlocked)
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, motorevent.EventEMCY, events[0].Kind)
	assert.Equal(t, emergency.ErrMotorBlocked, events[0].EMCYCode)
	assert.Equal(t, motorevent.EventFault, events[1].Kind)
	assert.Equal(t, "Motor blocked", events[1].FaultDescription)
}

func TestFeedbackEmergencyZeroCodeClearsFault(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(0x080+uint32(5), 8)
	r.Handle(frame) // code 0x0000

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, motorevent.EventEMCY, events[0].Kind)
	assert.Equal(t, motorevent.EventFaultCleared, events[1].Kind)
}

func TestFeedbackHeartbeatDecodes(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(0x700+uint32(5), 1)
	frame.Data[0] = 0x05
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, motorevent.EventNmtStateUpdate, events[0].Kind)
	assert.Equal(t, motorevent.NmtOperational, events[0].NmtState)
}

func TestFeedbackSdoUploadResponse(t *testing.T) {
	r, sub := newTestFeedbackReceiver()
	defer sub.Close()

	frame := can.NewFrame(0x580+uint32(5), 8)
	frame.Data[0] = 0x4B // 2-byte upload confirm
	binary.LittleEndian.PutUint16(frame.Data[1:3], 0x6041)
	frame.Data[3] = 0x00
	binary.LittleEndian.PutUint16(frame.Data[4:6], 0x1234)
	r.Handle(frame)

	events := drain(sub)
	require.Len(t, events, 1)
	require.Equal(t, motorevent.EventSdoResponse, events[0].Kind)
	assert.Equal(t, motorevent.SdoUploadConfirm, events[0].Sdo.Kind)
	assert.Equal(t, uint16(0x6041), events[0].Sdo.Index)
	assert.Equal(t, []byte{0x34, 0x12}, events[0].Sdo.Data)
}
