package driver

import (
	"context"
	"log/slog"

	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
)

// updatePublisher is the only writer of RPDO1's controlword that is not the
// setpoint manager, applying the state machine's PowerFlag sets by mask,
// and it translates motion MotorCommands into Setpoints for the setpoint
// manager. Every merge is immediately stored back into RPDO1 via writeRPDO1
// before the next select iteration; no code path computes a merged
// controlword without persisting it.
type updatePublisher struct {
	logger *slog.Logger

	pdo *pdoTransport

	controlUpdate mpsc[cia402.PowerFlag]
	cmd           *broadcaster[motorevent.MotorCommand]
	newSetpoint   mpsc[motorevent.Setpoint]
}

func newUpdatePublisher(logger *slog.Logger, pdo *pdoTransport, controlUpdate mpsc[cia402.PowerFlag], cmd *broadcaster[motorevent.MotorCommand], newSetpoint mpsc[motorevent.Setpoint]) *updatePublisher {
	return &updatePublisher{
		logger:        logger.With("service", "[update publisher]"),
		pdo:           pdo,
		controlUpdate: controlUpdate,
		cmd:           cmd,
		newSetpoint:   newSetpoint,
	}
}

func (p *updatePublisher) run(ctx context.Context) {
	sub := p.cmd.subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case flags, ok := <-p.controlUpdate:
			if !ok {
				return
			}
			merged := cia402.MergePower(p.pdo.controlWord1(), flags)
			if err := p.pdo.writeRPDO1(merged, p.pdo.opMode1()); err != nil {
				p.logger.Error("failed to write merged controlword", "error", err)
			}

		case cmd, ok := <-sub.Chan():
			if !ok {
				return
			}
			sp, hasSetpoint := cmd.Setpoint()
			if !hasSetpoint {
				continue
			}
			select {
			case p.newSetpoint <- sp:
			case <-ctx.Done():
				return
			}
		}
	}
}
