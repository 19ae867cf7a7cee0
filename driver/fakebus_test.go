package driver

import (
	"sync"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
)

// recordingBus is a minimal can.Bus that records every frame sent instead
// of transmitting it anywhere, for tests that only need to assert on
// outbound wire content rather than drive a full round trip.
type recordingBus struct {
	mu      sync.Mutex
	sent    []can.Frame
	sendErr error
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error    { return nil }

func (b *recordingBus) Send(frame can.Frame) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, frame)
	return nil
}

func (b *recordingBus) Subscribe(can.FrameListener) error { return nil }

func (b *recordingBus) last() can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[len(b.sent)-1]
}

func (b *recordingBus) frames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.sent...)
}
