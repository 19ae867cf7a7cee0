package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/nmt"
	"github.com/MaxKiv/glorified-gantry/pkg/od"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
	"github.com/MaxKiv/glorified-gantry/pkg/sdotransport"
)

const (
	nmtSwitchRetries = 10
	nmtSwitchTimeout = 1 * time.Second
	// parametrizeBackoff separates whole-script retries; the drive is
	// useless without its parameters, so the script retries indefinitely.
	parametrizeBackoff = 1 * time.Second
)

// ParamActionKind discriminates a single step of the parametrization
// script: either a Download{entry,data} or an Upload{entry}.
type ParamActionKind uint8

const (
	ParamDownload ParamActionKind = iota
	ParamUpload
)

// ParamAction is one step of the startup task's parametrization script.
type ParamAction struct {
	Kind  ParamActionKind
	Entry od.Entry
	Data  []byte // Download only
}

func Download(entry od.Entry, data []byte) ParamAction {
	return ParamAction{Kind: ParamDownload, Entry: entry, Data: data}
}

func Upload(entry od.Entry) ParamAction {
	return ParamAction{Kind: ParamUpload, Entry: entry}
}

// DefaultParameters is the reference parametrization script: position
// limits, profile velocity/accel/decel, quick-stop decel, motion profile
// type, max accel/decel, positioning option, homing method (IndexOnly=34 by
// default), homing speeds, max motor speed, homing acceleration, block
// detection current and period.
func DefaultParameters() []ParamAction {
	return []ParamAction{
		Download(od.SoftwarePositionLimitMin, sdotransport.EncodeUint32(uint32(od.SoftwarePositionLimitMin.Default.I32))),
		Download(od.SoftwarePositionLimitMax, sdotransport.EncodeUint32(uint32(od.SoftwarePositionLimitMax.Default.I32))),
		Download(od.ProfileVelocity, sdotransport.EncodeUint32(od.ProfileVelocity.Default.U32)),
		Download(od.ProfileAcceleration, sdotransport.EncodeUint32(od.ProfileAcceleration.Default.U32)),
		Download(od.ProfileDeceleration, sdotransport.EncodeUint32(od.ProfileDeceleration.Default.U32)),
		Download(od.QuickStopDecel, sdotransport.EncodeUint32(od.QuickStopDecel.Default.U32)),
		Download(od.MotionProfileType, sdotransport.EncodeUint16(uint16(od.MotionProfileType.Default.I16))),
		Download(od.MaxAcceleration, sdotransport.EncodeUint32(od.MaxAcceleration.Default.U32)),
		Download(od.MaxDeceleration, sdotransport.EncodeUint32(od.MaxDeceleration.Default.U32)),
		Download(od.PositioningOptionCode, sdotransport.EncodeUint16(od.PositioningOptionCode.Default.U16)),
		Download(od.HomingMethod, sdotransport.EncodeUint8(uint8(od.HomingMethod.Default.I8))),
		Download(od.HomingSpeedSwitchSearch, sdotransport.EncodeUint32(od.HomingSpeedSwitchSearch.Default.U32)),
		Download(od.HomingSpeedZeroSearch, sdotransport.EncodeUint32(od.HomingSpeedZeroSearch.Default.U32)),
		Download(od.MaxMotorSpeed, sdotransport.EncodeUint32(od.MaxMotorSpeed.Default.U32)),
		Download(od.HomingAcceleration, sdotransport.EncodeUint32(od.HomingAcceleration.Default.U32)),
		Download(od.BlockDetectionMinCurrent, sdotransport.EncodeUint32(uint32(od.BlockDetectionMinCurrent.Default.I32))),
		Download(od.BlockDetectionPeriod, sdotransport.EncodeUint32(uint32(od.BlockDetectionPeriod.Default.I32))),
	}
}

// startupTask runs once at driver construction: NMT pre-op, parametrize,
// remap PDOs, NMT operational.
type startupTask struct {
	sdo    sdotransport.Client
	nmtTx  mpsc[nmt.Command]
	nodeId uint8
	logger *slog.Logger

	events *broadcaster[motorevent.MotorEvent]
}

func newStartupTask(sdo sdotransport.Client, nmtTx mpsc[nmt.Command], nodeId uint8, logger *slog.Logger, events *broadcaster[motorevent.MotorEvent]) *startupTask {
	return &startupTask{
		sdo:    sdo,
		nmtTx:  nmtTx,
		nodeId: nodeId,
		logger: logger.With("service", "[startup]"),
		events: events,
	}
}

// run blocks the caller until the device is in operational state with
// mappings installed.
func (s *startupTask) run(ctx context.Context, params []ParamAction, rpdos, tpdos []pdomodel.Mapping) error {
	s.logger.Info("requesting pre-operational state")
	if err := s.switchNmt(ctx, nmt.CommandEnterPreOperational, motorevent.NmtPreOperational); err != nil {
		return fmt.Errorf("startup: pre-operational switch: %w", err)
	}

	s.logger.Info("parametrizing device", "steps", len(params))
	if err := s.parametrize(ctx, params); err != nil {
		return fmt.Errorf("startup: parametrize: %w", err)
	}

	s.logger.Info("remapping PDOs", "rpdos", len(rpdos), "tpdos", len(tpdos))
	for _, m := range rpdos {
		if err := s.remap(ctx, m); err != nil {
			return fmt.Errorf("startup: remap RPDO%d: %w", m.Number, err)
		}
	}
	for _, m := range tpdos {
		if err := s.remap(ctx, m); err != nil {
			return fmt.Errorf("startup: remap TPDO%d: %w", m.Number, err)
		}
	}

	s.logger.Info("requesting operational state")
	if err := s.switchNmt(ctx, nmt.CommandEnterOperational, motorevent.NmtOperational); err != nil {
		return fmt.Errorf("startup: operational switch: %w", err)
	}

	return nil
}

// switchNmt requests an NMT command and waits for the feedback receiver to
// report the corresponding state, retrying up to nmtSwitchRetries times at
// nmtSwitchTimeout each.
func (s *startupTask) switchNmt(ctx context.Context, cmd nmt.Command, want motorevent.NmtState) error {
	sub := s.events.subscribe()
	defer sub.Close()

	for attempt := 1; attempt <= nmtSwitchRetries; attempt++ {
		select {
		case s.nmtTx <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}

		timer := time.NewTimer(nmtSwitchTimeout)
		reached := false
	waitLoop:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case event, ok := <-sub.Chan():
				if !ok {
					timer.Stop()
					return motorevent.ErrBroadcastClosed
				}
				if event.Kind == motorevent.EventNmtStateUpdate && event.NmtState == want {
					reached = true
					break waitLoop
				}
			case <-timer.C:
				break waitLoop
			}
		}
		timer.Stop()
		if reached {
			return nil
		}
		s.logger.Warn("NMT switch attempt timed out", "attempt", attempt, "want", want)
	}
	return fmt.Errorf("startup: NMT switch to %v did not land after %d attempts", want, nmtSwitchRetries)
}

// parametrize runs the SDO action script; any failure restarts the whole
// script after a back-off.
func (s *startupTask) parametrize(ctx context.Context, params []ParamAction) error {
	for {
		err := s.runParamScript(ctx, params)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("parametrization step failed, retrying whole script after back-off", "error", err, "backoff", parametrizeBackoff)
		select {
		case <-time.After(parametrizeBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *startupTask) runParamScript(ctx context.Context, params []ParamAction) error {
	for _, action := range params {
		switch action.Kind {
		case ParamDownload:
			if err := s.sdo.WriteRaw(ctx, s.nodeId, action.Entry.Index, action.Entry.SubIndex, action.Data); err != nil {
				return fmt.Errorf("download %s: %w", action.Entry.Key(), err)
			}
		case ParamUpload:
			if _, err := s.sdo.ReadUint32(ctx, s.nodeId, action.Entry.Index, action.Entry.SubIndex); err != nil {
				return fmt.Errorf("upload %s: %w", action.Entry.Key(), err)
			}
		}
	}
	return nil
}

// remap performs the CiA-301 reconfiguration dance for one PDO:
// invalidate, configure transmission, rewrite the mapping entries,
// revalidate.
func (s *startupTask) remap(ctx context.Context, m pdomodel.Mapping) error {
	commIndex := m.CommParamIndex()
	mapIndex := m.MappingParamIndex()

	// (a) read comm sub-index 1, set bit 31, write back: marks invalid.
	cobId, err := s.sdo.ReadUint32(ctx, s.nodeId, commIndex, 1)
	if err != nil {
		return fmt.Errorf("read cob-id: %w", err)
	}
	if err := s.sdo.WriteRaw(ctx, s.nodeId, commIndex, 1, sdotransport.EncodeUint32(cobId|(1<<31))); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}

	// (b) transmission type.
	transType := uint8(0xFF)
	if m.Transmission == pdomodel.OnSync {
		transType = 0x01
	}
	if err := s.sdo.WriteRaw(ctx, s.nodeId, commIndex, 2, sdotransport.EncodeUint8(transType)); err != nil {
		return fmt.Errorf("transmission type: %w", err)
	}

	// (c) TPDO OnChange event timer, if configured.
	isTpdo := commIndex == od.TPDOCommParamBase+uint16(m.Number-1)
	if isTpdo && m.Transmission == pdomodel.OnChange && m.EventTimerMillis != 0 {
		if err := s.sdo.WriteRaw(ctx, s.nodeId, commIndex, 5, sdotransport.EncodeUint16(m.EventTimerMillis)); err != nil {
			return fmt.Errorf("event timer: %w", err)
		}
	}

	// (d) clear mapping count.
	if err := s.sdo.WriteRaw(ctx, s.nodeId, mapIndex, 0, sdotransport.EncodeUint8(0)); err != nil {
		return fmt.Errorf("clear mapping count: %w", err)
	}

	// (e) write each source's packed (index<<16 | subindex<<8 | bitlength).
	for i, src := range m.Sources {
		packed := uint32(src.Entry.Index)<<16 | uint32(src.Entry.SubIndex)<<8 | uint32(src.BitLength)
		if err := s.sdo.WriteRaw(ctx, s.nodeId, mapIndex, uint8(i+1), sdotransport.EncodeUint32(packed)); err != nil {
			return fmt.Errorf("map source %d: %w", i, err)
		}
	}

	// (f) activate mapping.
	if err := s.sdo.WriteRaw(ctx, s.nodeId, mapIndex, 0, sdotransport.EncodeUint8(uint8(len(m.Sources)))); err != nil {
		return fmt.Errorf("activate mapping: %w", err)
	}

	// (g) clear bit 31 of comm sub-index 1: revalidate.
	if err := s.sdo.WriteRaw(ctx, s.nodeId, commIndex, 1, sdotransport.EncodeUint32(cobId&^(1<<31))); err != nil {
		return fmt.Errorf("revalidate: %w", err)
	}
	return nil
}
