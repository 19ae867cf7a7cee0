package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
)

// nmtCobId is the fixed COB-id NMT master commands are always sent on,
// CiA-301 §7.2.8.3.1 ("command target, not a service of the addressed node").
const nmtCobId uint32 = 0x000

// nmtTask is the only thing permitted to send NMT service commands. It
// keeps a last-observed NMT state purely for logging; the feedback
// receiver's decoded heartbeat/statusword events remain the single source
// of truth for whether the device is actually operational.
type nmtTask struct {
	bus    can.Bus
	nodeId uint8
	logger *slog.Logger

	events *broadcaster[motorevent.MotorEvent]
	nmtCmd mpsc[nmt.Command]

	mu           sync.Mutex
	lastObserved motorevent.NmtState
}

func newNmtTask(bus can.Bus, nodeId uint8, logger *slog.Logger, events *broadcaster[motorevent.MotorEvent], nmtCmd mpsc[nmt.Command]) *nmtTask {
	return &nmtTask{
		bus:    bus,
		nodeId: nodeId,
		logger: logger.With("service", "[NMT]"),
		events: events,
		nmtCmd: nmtCmd,
	}
}

func (t *nmtTask) send(cmd nmt.Command) error {
	frame := can.NewFrame(nmtCobId, 2)
	frame.Data[0] = byte(cmd)
	frame.Data[1] = t.nodeId
	if err := t.bus.Send(frame); err != nil {
		return fmt.Errorf("nmttask: send %s: %w", cmd, err)
	}
	return nil
}

func (t *nmtTask) observedState() motorevent.NmtState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastObserved
}

func (t *nmtTask) run(ctx context.Context) {
	sub := t.events.subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-t.nmtCmd:
			if !ok {
				return
			}
			if err := t.send(cmd); err != nil {
				t.logger.Error("failed to send NMT command", "command", cmd, "error", err)
			}

		case event, ok := <-sub.Chan():
			if !ok {
				return
			}
			if event.Kind != motorevent.EventNmtStateUpdate {
				continue
			}
			t.mu.Lock()
			t.lastObserved = event.NmtState
			t.mu.Unlock()
			t.logger.Debug("observed NMT state", "state", event.NmtState)
		}
	}
}
