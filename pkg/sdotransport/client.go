// Package sdotransport is the expedited-only SDO client boundary: the
// Client interface the startup task parametrizes through, plus a bus-backed
// reference client used by tests and the CLI's --virtual mode. Values are
// encoded little-endian on the wire.
package sdotransport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
)

var (
	ErrTimeout = errors.New("sdotransport: timeout waiting for response")
	ErrAbort   = errors.New("sdotransport: server aborted transfer")
)

// Client is the narrow SDO surface the startup task and parametrization
// script need: expedited upload/download of up to 4 bytes.
type Client interface {
	ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error)
	ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error)
	ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error)
	WriteRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte) error
}

// BusClient implements Client using expedited SDO frames over a can.Bus. It
// serializes requests with a mutex; only one transfer may be outstanding at
// a time.
type BusClient struct {
	bus      can.Bus
	logger   *slog.Logger
	transfer sync.Mutex // held for a whole request/response exchange
	mu       sync.Mutex
	timeout  time.Duration

	pending  bool
	waitFor  uint8 // node id of the outstanding request
	response chan can.Frame
}

const DefaultTimeout = 1000 * time.Millisecond

func NewBusClient(bus can.Bus, logger *slog.Logger, timeout time.Duration) *BusClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &BusClient{
		bus:      bus,
		logger:   logger.With("service", "[SDO client]"),
		timeout:  timeout,
		response: make(chan can.Frame, 1),
	}
}

// Handle implements can.FrameListener: routes TSDO responses back to
// whichever request is currently outstanding.
func (c *BusClient) Handle(frame can.Frame) {
	kind, _ := can.Classify(frame.ID)
	if kind != can.KindTSDO {
		return
	}
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if !pending {
		return
	}
	select {
	case c.response <- frame:
	default:
	}
}

func (c *BusClient) request(ctx context.Context, nodeId uint8, frame can.Frame) (can.Frame, error) {
	c.transfer.Lock()
	defer c.transfer.Unlock()

	c.mu.Lock()
	c.pending = true
	c.waitFor = nodeId
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	if err := c.bus.Send(frame); err != nil {
		return can.Frame{}, fmt.Errorf("sdotransport: send: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-c.response:
		if resp.Data[0] == 0x80 {
			abortCode := binary.LittleEndian.Uint32(resp.Data[4:8])
			return can.Frame{}, fmt.Errorf("%w: code x%x", ErrAbort, abortCode)
		}
		return resp, nil
	case <-ctx.Done():
		return can.Frame{}, ErrTimeout
	}
}

func uploadRequest(nodeId uint8, index uint16, subindex uint8) can.Frame {
	f := can.NewFrame(uint32(0x600)+uint32(nodeId), 8)
	f.Data[0] = 0x40
	binary.LittleEndian.PutUint16(f.Data[1:3], index)
	f.Data[3] = subindex
	return f
}

func downloadRequest(nodeId uint8, index uint16, subindex uint8, data []byte) (can.Frame, error) {
	if len(data) == 0 || len(data) > 4 {
		return can.Frame{}, fmt.Errorf("sdotransport: expedited download supports 1-4 bytes, got %d", len(data))
	}
	f := can.NewFrame(uint32(0x600)+uint32(nodeId), 8)
	n := 4 - len(data)
	f.Data[0] = 0x23 | byte(n<<2)
	binary.LittleEndian.PutUint16(f.Data[1:3], index)
	f.Data[3] = subindex
	copy(f.Data[4:], data)
	return f, nil
}

func (c *BusClient) readN(ctx context.Context, nodeId uint8, index uint16, subindex uint8, n int) ([]byte, error) {
	resp, err := c.request(ctx, nodeId, uploadRequest(nodeId, index, subindex))
	if err != nil {
		return nil, err
	}
	// Command bytes 0x43/0x47/0x4B/0x4F carry 4/3/2/1 data bytes.
	sizes := map[byte]int{0x43: 4, 0x47: 3, 0x4B: 2, 0x4F: 1}
	got, ok := sizes[resp.Data[0]]
	if !ok {
		return nil, fmt.Errorf("sdotransport: unexpected upload response command byte x%x", resp.Data[0])
	}
	if got != n {
		return nil, fmt.Errorf("sdotransport: expected %d byte upload, device sent %d", n, got)
	}
	return resp.Data[4 : 4+n], nil
}

func (c *BusClient) ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	b, err := c.readN(ctx, nodeId, index, subindex, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *BusClient) ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	b, err := c.readN(ctx, nodeId, index, subindex, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *BusClient) ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	b, err := c.readN(ctx, nodeId, index, subindex, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *BusClient) WriteRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte) error {
	frame, err := downloadRequest(nodeId, index, subindex, data)
	if err != nil {
		return err
	}
	resp, err := c.request(ctx, nodeId, frame)
	if err != nil {
		return err
	}
	if resp.Data[0] != 0x60 {
		return fmt.Errorf("sdotransport: unexpected download response command byte x%x", resp.Data[0])
	}
	return nil
}

// EncodeUint8/16/32 little-endian encode a value for WriteRaw, matching the
// byte order ReadUint8/16/32 decode with.
func EncodeUint8(v uint8) []byte { return []byte{v} }

func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
