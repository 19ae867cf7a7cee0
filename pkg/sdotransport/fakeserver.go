package sdotransport

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
)

// FakeServer is a minimal expedited SDO server used to drive startup-task
// and end-to-end tests: it accepts RSDO download/upload requests for one
// node id and answers out of an in-memory object map, exactly mirroring
// BusClient's wire layout. Not part of the driver core; it plays the role
// of the device in tests.
type FakeServer struct {
	bus    can.Bus
	nodeId uint8
	logger *slog.Logger

	mu      sync.Mutex
	objects map[objKey][]byte
}

type objKey struct {
	index    uint16
	subindex uint8
}

func NewFakeServer(bus can.Bus, nodeId uint8, logger *slog.Logger) *FakeServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FakeServer{
		bus:     bus,
		nodeId:  nodeId,
		logger:  logger.With("service", "[fake SDO server]"),
		objects: make(map[objKey][]byte),
	}
}

// Set seeds an object's value for later upload requests.
func (s *FakeServer) Set(index uint16, subindex uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objKey{index, subindex}] = append([]byte(nil), data...)
}

// Get returns the last value written to an object, if any.
func (s *FakeServer) Get(index uint16, subindex uint8) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objects[objKey{index, subindex}]
	return v, ok
}

func (s *FakeServer) Handle(frame can.Frame) {
	kind, nodeId := can.Classify(frame.ID)
	if kind != can.KindRSDO || nodeId != s.nodeId {
		return
	}
	cmd := frame.Data[0]
	index := binary.LittleEndian.Uint16(frame.Data[1:3])
	subindex := frame.Data[3]

	switch {
	case cmd == 0x40: // upload request
		s.mu.Lock()
		data, ok := s.objects[objKey{index, subindex}]
		s.mu.Unlock()
		resp := can.NewFrame(uint32(0x580)+uint32(s.nodeId), 8)
		if !ok {
			resp.Data[0] = 0x80
			binary.LittleEndian.PutUint16(resp.Data[1:3], index)
			resp.Data[3] = subindex
			binary.LittleEndian.PutUint32(resp.Data[4:8], 0x06020000) // object does not exist
			_ = s.bus.Send(resp)
			return
		}
		n := len(data)
		sizeBits := map[int]byte{4: 0x43, 3: 0x47, 2: 0x4B, 1: 0x4F}[n]
		resp.Data[0] = sizeBits
		binary.LittleEndian.PutUint16(resp.Data[1:3], index)
		resp.Data[3] = subindex
		copy(resp.Data[4:], data)
		_ = s.bus.Send(resp)

	case cmd&0xE3 == 0x23 || cmd&0xE0 == 0x20: // expedited download request
		n := 4 - int((cmd>>2)&0x3)
		if cmd&0x02 == 0 {
			n = 4
		}
		s.mu.Lock()
		s.objects[objKey{index, subindex}] = append([]byte(nil), frame.Data[4:4+n]...)
		s.mu.Unlock()
		resp := can.NewFrame(uint32(0x580)+uint32(s.nodeId), 8)
		resp.Data[0] = 0x60
		binary.LittleEndian.PutUint16(resp.Data[1:3], index)
		resp.Data[3] = subindex
		_ = s.bus.Send(resp)
	}
}
