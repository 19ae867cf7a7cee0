package driver

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
	"github.com/MaxKiv/glorified-gantry/pkg/od"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSdoClient is an in-memory sdotransport.Client used to drive
// startupTask without a bus round trip: it records every WriteRaw call and
// answers reads from a seeded object map, optionally failing the first N
// calls to exercise retry/back-off behavior.
type fakeSdoClient struct {
	mu      sync.Mutex
	objects map[uint32][]byte
	writes  []writtenObject
	failFor int // number of calls (read or write) to fail before succeeding
}

type writtenObject struct {
	index    uint16
	subindex uint8
	data     []byte
}

func newFakeSdoClient() *fakeSdoClient {
	return &fakeSdoClient{objects: make(map[uint32][]byte)}
}

func objKey(index uint16, subindex uint8) uint32 {
	return uint32(index)<<8 | uint32(subindex)
}

func (c *fakeSdoClient) set(index uint16, subindex uint8, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objKey(index, subindex)] = data
}

func (c *fakeSdoClient) maybeFail() error {
	if c.failFor > 0 {
		c.failFor--
		return assert.AnError
	}
	return nil
}

func (c *fakeSdoClient) ReadUint8(_ context.Context, _ uint8, index uint16, subindex uint8) (uint8, error) {
	if err := c.maybeFail(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objects[objKey(index, subindex)][0], nil
}

func (c *fakeSdoClient) ReadUint16(_ context.Context, _ uint8, index uint16, subindex uint8) (uint16, error) {
	if err := c.maybeFail(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint16(c.objects[objKey(index, subindex)]), nil
}

func (c *fakeSdoClient) ReadUint32(_ context.Context, _ uint8, index uint16, subindex uint8) (uint32, error) {
	if err := c.maybeFail(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint32(c.objects[objKey(index, subindex)]), nil
}

func (c *fakeSdoClient) WriteRaw(_ context.Context, _ uint8, index uint16, subindex uint8, data []byte) error {
	if err := c.maybeFail(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objKey(index, subindex)] = append([]byte(nil), data...)
	c.writes = append(c.writes, writtenObject{index, subindex, append([]byte(nil), data...)})
	return nil
}

func TestRemapPerformsInvalidateConfigureRevalidateSequence(t *testing.T) {
	client := newFakeSdoClient()
	rpdos, _ := pdomodel.DefaultLayout()
	m := rpdos[0] // RPDO1: controlword+opmode

	client.set(m.CommParamIndex(), 1, []byte{0x05, 0x02, 0x00, 0x00}) // seed cob-id 0x205

	s := newStartupTask(client, newMpsc[nmt.Command](1), 5, testSilentLogger(), newBroadcaster[motorevent.MotorEvent](1))
	err := s.remap(context.Background(), m)
	require.NoError(t, err)

	// (a)/(g): comm sub-index 1 written twice, invalidate then revalidate.
	var cobWrites []writtenObject
	for _, w := range client.writes {
		if w.index == m.CommParamIndex() && w.subindex == 1 {
			cobWrites = append(cobWrites, w)
		}
	}
	require.Len(t, cobWrites, 2)
	assert.NotEqual(t, 0, binary.LittleEndian.Uint32(cobWrites[0].data)&(1<<31), "invalidate must set bit 31")
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(cobWrites[1].data)&(1<<31), "revalidate must clear bit 31")

	// (b): transmission type OnChange -> 0xFF.
	var transType byte
	for _, w := range client.writes {
		if w.index == m.CommParamIndex() && w.subindex == 2 {
			transType = w.data[0]
		}
	}
	assert.Equal(t, byte(0xFF), transType)

	// (d)/(f): mapping count cleared to 0 then set to len(Sources).
	var mapCountWrites []byte
	for _, w := range client.writes {
		if w.index == m.MappingParamIndex() && w.subindex == 0 {
			mapCountWrites = append(mapCountWrites, w.data[0])
		}
	}
	require.Len(t, mapCountWrites, 2)
	assert.Equal(t, byte(0), mapCountWrites[0])
	assert.Equal(t, byte(len(m.Sources)), mapCountWrites[1])

	// Each mapped source packed into sub-index i+1.
	for i, src := range m.Sources {
		found := false
		for _, w := range client.writes {
			if w.index == m.MappingParamIndex() && w.subindex == uint8(i+1) {
				packed := binary.LittleEndian.Uint32(w.data)
				want := uint32(src.Entry.Index)<<16 | uint32(src.Entry.SubIndex)<<8 | uint32(src.BitLength)
				assert.Equal(t, want, packed)
				found = true
			}
		}
		assert.True(t, found, "expected a write for source %d", i)
	}
}

func TestRemapWritesTpdoEventTimer(t *testing.T) {
	client := newFakeSdoClient()
	_, tpdos := pdomodel.DefaultLayout()
	m := tpdos[0] // TPDO1, OnChange with a 500ms event timer

	client.set(m.CommParamIndex(), 1, []byte{0x81, 0x01, 0x00, 0x00})

	s := newStartupTask(client, newMpsc[nmt.Command](1), 5, testSilentLogger(), newBroadcaster[motorevent.MotorEvent](1))
	require.NoError(t, s.remap(context.Background(), m))

	var timer uint16
	found := false
	for _, w := range client.writes {
		if w.index == m.CommParamIndex() && w.subindex == 5 {
			timer = binary.LittleEndian.Uint16(w.data)
			found = true
		}
	}
	require.True(t, found, "expected an event timer write for a data-carrying TPDO")
	assert.Equal(t, m.EventTimerMillis, timer)
}

func TestSwitchNmtSucceedsOnFirstConfirmedState(t *testing.T) {
	client := newFakeSdoClient()
	nmtTx := newMpsc[nmt.Command](1)
	events := newBroadcaster[motorevent.MotorEvent](1)

	s := newStartupTask(client, nmtTx, 5, testSilentLogger(), events)

	go func() {
		<-nmtTx
		events.send(motorevent.NewNmtStateUpdate(motorevent.NmtPreOperational))
	}()

	err := s.switchNmt(context.Background(), nmt.CommandEnterPreOperational, motorevent.NmtPreOperational)
	assert.NoError(t, err)
}

func TestSwitchNmtRetriesAfterTimeout(t *testing.T) {
	client := newFakeSdoClient()
	nmtTx := newMpsc[nmt.Command](2)
	events := newBroadcaster[motorevent.MotorEvent](1)

	s := newStartupTask(client, nmtTx, 5, testSilentLogger(), events)

	go func() {
		<-nmtTx // first attempt: drop it, force a timeout
		<-nmtTx // second attempt: confirm
		events.send(motorevent.NewNmtStateUpdate(motorevent.NmtOperational))
	}()

	start := time.Now()
	err := s.switchNmt(context.Background(), nmt.CommandEnterOperational, motorevent.NmtOperational)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), nmtSwitchTimeout)
}

func TestParametrizeRetriesWholeScriptOnFailure(t *testing.T) {
	client := newFakeSdoClient()
	client.failFor = 1 // fail the first download, then succeed on retry

	s := newStartupTask(client, newMpsc[nmt.Command](1), 5, testSilentLogger(), newBroadcaster[motorevent.MotorEvent](1))
	params := []ParamAction{Download(od.ProfileVelocity, []byte{0x01, 0x00, 0x00, 0x00})}

	start := time.Now()
	err := s.parametrize(context.Background(), params)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), parametrizeBackoff)
}
