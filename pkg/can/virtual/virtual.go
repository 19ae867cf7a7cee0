// Package virtual is an in-process fake CAN bus, registered under the name
// "virtual" so the CLI's --virtual flag and the test suite can exercise the
// whole driver without a real adapter.
package virtual

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", func(channel string) (can.Bus, error) {
		return New(slog.Default()), nil
	})
}

// Bus is a loopback-free fake: frames sent by the driver land on Outbound()
// for a test harness (a scripted fake device) to consume, and that harness
// calls Inject to deliver frames to every subscribed listener, the same way
// a real CAN socket fans one inbound frame out to every registered handler
// (SDO client, feedback receiver, ...).
type Bus struct {
	logger    *slog.Logger
	mu        sync.Mutex
	listeners []can.FrameListener
	connected bool
	outbound  chan can.Frame
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger.With("service", "[virtualcan]"),
		outbound: make(chan can.Frame, 64),
	}
}

func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return errors.New("virtualcan: not connected")
	}
	select {
	case b.outbound <- frame:
		return nil
	default:
		b.logger.Warn("outbound queue full, dropping frame", "id", frame.ID)
		return errors.New("virtualcan: outbound queue full")
	}
}

// Subscribe registers listener to receive every future Inject'd frame.
// Idempotent: re-subscribing the same listener (the feedback receiver does
// this on its idle-resubscribe watchdog) does not duplicate delivery.
func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners {
		if existing == listener {
			return nil
		}
	}
	b.listeners = append(b.listeners, listener)
	return nil
}

// Outbound is read by a fake device harness to observe frames the driver sent.
func (b *Bus) Outbound() <-chan can.Frame {
	return b.outbound
}

// Inject delivers a frame to every subscribed listener, as if it had
// arrived from the device.
func (b *Bus) Inject(frame can.Frame) {
	b.mu.Lock()
	listeners := append([]can.FrameListener(nil), b.listeners...)
	b.mu.Unlock()
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}
