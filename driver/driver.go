// Package driver is the per-node driver runtime: a set of cooperating
// tasks bound to one node id, wired together over typed channels and
// exposed to the embedder as a single Driver value.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
	"github.com/MaxKiv/glorified-gantry/pkg/od"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
	"github.com/MaxKiv/glorified-gantry/pkg/sdotransport"
)

// channelBufLen is the bounded depth shared by every
// cmd/event/nmt_req/sm_cmd/sm_state/state_update channel.
const channelBufLen = 10

// Config bundles the inputs Init needs: the node id, the bus, an optional
// SDO client, the parametrization script and the RPDO/TPDO mapping sets.
type Config struct {
	NodeId     uint8
	Bus        can.Bus
	SdoClient  sdotransport.Client // nil uses a sdotransport.BusClient over Bus
	Parameters []ParamAction
	RPDOs      []pdomodel.Mapping
	TPDOs      []pdomodel.Mapping
	Logger     *slog.Logger
}

// Driver is the public handle to a running per-node driver instance.
// EventReceiver() mints a fresh subscription per caller rather than handing
// out one shared MotorEvent receiver.
type Driver struct {
	nodeId uint8
	logger *slog.Logger

	cmd    *broadcaster[motorevent.MotorCommand]
	events *broadcaster[motorevent.MotorEvent]
	nmtTx  mpsc[nmt.Command]

	cancel context.CancelFunc
}

// Init brings a node up (NMT pre-op, parametrize, remap PDOs, NMT
// operational) and spawns every long-running task, blocking the caller
// until the device reports operational with mappings installed. Fails with
// ViolatedInvariantError if the RPDO set lacks a CONTROL_WORD or
// SET_OPERATION_MODE source.
func Init(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.NodeId < 1 || cfg.NodeId > 127 {
		return nil, &motorevent.ViolatedInvariantError{Detail: fmt.Sprintf("node id %d out of range 1..127", cfg.NodeId)}
	}
	if err := validateRPDOs(cfg.RPDOs); err != nil {
		return nil, err
	}
	for _, m := range append(append([]pdomodel.Mapping{}, cfg.RPDOs...), cfg.TPDOs...) {
		if err := m.Validate(); err != nil {
			return nil, &motorevent.ViolatedInvariantError{Detail: err.Error()}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", cfg.NodeId)

	sdoClient := cfg.SdoClient
	if sdoClient == nil {
		busClient := sdotransport.NewBusClient(cfg.Bus, logger, 0)
		if err := cfg.Bus.Subscribe(busClient); err != nil {
			return nil, fmt.Errorf("driver: subscribe SDO client: %w", err)
		}
		sdoClient = busClient
	}

	taskCtx, cancel := context.WithCancel(ctx)

	d := &Driver{
		nodeId: cfg.NodeId,
		logger: logger,
		cmd:    newBroadcaster[motorevent.MotorCommand](channelBufLen),
		events: newBroadcaster[motorevent.MotorEvent](channelBufLen),
		nmtTx:  newMpsc[nmt.Command](channelBufLen),
		cancel: cancel,
	}

	// The feedback receiver must already be decoding heartbeats/TPDO1 before
	// startup runs: it is the only thing that turns wire frames into the
	// NmtStateUpdate events startup's switchNmt waits on. It coexists with
	// the SDO client on the same bus subscription (both are independent
	// can.FrameListeners; see pkg/can/virtual's multi-listener fan-out).
	feedback := newFeedbackReceiver(cfg.Bus, cfg.NodeId, logger, d.events)
	if err := feedback.start(taskCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("driver: start feedback receiver: %w", err)
	}

	startup := newStartupTask(sdoClient, d.nmtTx, cfg.NodeId, logger, d.events)
	nmtTask := newNmtTask(cfg.Bus, cfg.NodeId, logger, d.events, d.nmtTx)
	go nmtTask.run(taskCtx)

	if err := startup.run(taskCtx, cfg.Parameters, cfg.RPDOs, cfg.TPDOs); err != nil {
		cancel()
		return nil, err
	}

	pdo := newPdoTransport(cfg.Bus, cfg.NodeId, logger, cfg.RPDOs)

	smCmd := newMpsc[cia402.State](channelBufLen)
	smState := newBroadcaster[cia402.State](channelBufLen)
	controlUpdate := newMpsc[cia402.PowerFlag](channelBufLen)
	newSetpoint := newMpsc[motorevent.Setpoint](channelBufLen)

	sm := newStateMachine(logger, d.events, smState, smCmd, controlUpdate)
	go sm.run(taskCtx)

	orch := newOrchestrator(logger, d.cmd, smCmd, smState, d.events)
	go orch.run(taskCtx)

	publisher := newUpdatePublisher(logger, pdo, controlUpdate, d.cmd, newSetpoint)
	go publisher.run(taskCtx)

	setpoints := newSetpointManager(logger, pdo, d.events, newSetpoint)
	go setpoints.run(taskCtx)

	return d, nil
}

// validateRPDOs checks that the RPDO mapping set contains at least one
// source equal to CONTROL_WORD and at least one equal to SET_OPERATION_MODE.
func validateRPDOs(rpdos []pdomodel.Mapping) error {
	var hasControlWord, hasOpMode bool
	for _, m := range rpdos {
		for _, src := range m.Sources {
			switch src.Entry.Key() {
			case od.ControlWord.Key():
				hasControlWord = true
			case od.SetOperationMode.Key():
				hasOpMode = true
			}
		}
	}
	if !hasControlWord || !hasOpMode {
		return &motorevent.ViolatedInvariantError{
			Detail: "RPDO set must map CONTROL_WORD and SET_OPERATION_MODE",
		}
	}
	return nil
}

// SendCommand delivers a MotorCommand to the orchestrator and update
// publisher. It never blocks: the broadcaster is bounded and sheds at its
// slowest subscriber rather than the caller.
func (d *Driver) SendCommand(cmd motorevent.MotorCommand) {
	d.cmd.send(cmd)
}

// SendNmt requests an NMT command, used by embedders that need manual
// network management beyond what startup already does (e.g.
// CommandResetCommunication to force a device reboot).
func (d *Driver) SendNmt(ctx context.Context, cmd nmt.Command) error {
	select {
	case d.nmtTx <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventReceiver returns a new subscription to the driver's MotorEvent
// broadcast. Call Close on the returned receiver when done subscribing.
func (d *Driver) EventReceiver() *receiver[motorevent.MotorEvent] {
	return d.events.subscribe()
}

// NodeId returns the node id this driver was constructed for.
func (d *Driver) NodeId() uint8 { return d.nodeId }

// Close cancels every task this driver owns. Safe to call more than once
// since context.CancelFunc already is.
func (d *Driver) Close() {
	d.cancel()
	d.cmd.close()
	d.events.close()
}

// RunHoming is a convenience over the public API: it issues Enable then
// Home and waits for HomingFeedback{Completed:true}, returning once homing
// is done or ctx is cancelled.
func (d *Driver) RunHoming(ctx context.Context) error {
	sub := d.EventReceiver()
	defer sub.Close()

	d.SendCommand(motorevent.Enable())

	for {
		select {
		case event, ok := <-sub.Chan():
			if !ok {
				return motorevent.ErrBroadcastClosed
			}
			if event.Kind == motorevent.EventCia402StateUpdate && event.Cia402State == cia402.OperationEnabled {
				d.SendCommand(motorevent.Home())
			}
			if event.Kind == motorevent.EventHomingFeedback && event.Homing.Completed {
				if event.Homing.Error {
					return fmt.Errorf("driver: homing completed with error")
				}
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
