package driver

import (
	"context"
	"log/slog"

	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
)

// setpointManager writes Setpoints to the device through the PDO transport
// and drives the Profile Position rising-edge / setpoint-acknowledge
// handshake. A new setpoint always gets written immediately; if it needs a
// handshake (only ProfilePosition, per Setpoint.RequiresHandshake) the
// manager enters a waiting state and, once a PositionModeFeedback event
// reports the setpoint acknowledged, clears controlword bit 4 and rewrites
// before returning to idle.
type setpointManager struct {
	logger *slog.Logger

	pdo *pdoTransport

	events      *broadcaster[motorevent.MotorEvent]
	newSetpoint mpsc[motorevent.Setpoint]

	waiting bool
	pending motorevent.Setpoint
}

func newSetpointManager(logger *slog.Logger, pdo *pdoTransport, events *broadcaster[motorevent.MotorEvent], newSetpoint mpsc[motorevent.Setpoint]) *setpointManager {
	return &setpointManager{
		logger:      logger.With("service", "[setpoint manager]"),
		pdo:         pdo,
		events:      events,
		newSetpoint: newSetpoint,
	}
}

func (m *setpointManager) run(ctx context.Context) {
	sub := m.events.subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sub.Chan():
			if !ok {
				return
			}
			if event.Kind != motorevent.EventPositionModeFeedback || !m.waiting {
				continue
			}
			if !event.PosMode.SetpointAck {
				continue
			}
			m.logger.Debug("setpoint acknowledged, completing handshake", "setpoint", m.pending)
			m.pending = m.pending.ClearNewSetpoint()
			if err := m.pdo.writeSetpoint(m.pending); err != nil {
				m.logger.Error("failed to complete setpoint acknowledge handshake", "error", err)
			}
			m.waiting = false

		case sp, ok := <-m.newSetpoint:
			if !ok {
				return
			}
			m.logger.Debug("writing new setpoint", "setpoint", sp)
			if err := m.pdo.writeSetpoint(sp); err != nil {
				m.logger.Error("failed to write new setpoint", "error", err)
				continue
			}
			if sp.RequiresHandshake() {
				m.pending = sp
				m.waiting = true
			} else {
				m.waiting = false
			}
		}
	}
}
