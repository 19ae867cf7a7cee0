package driver_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/MaxKiv/glorified-gantry/driver"
	"github.com/MaxKiv/glorified-gantry/pkg/can/virtual"
	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
	"github.com/MaxKiv/glorified-gantry/pkg/sdotransport"
)

const e2eNodeId uint8 = 5

// e2eEventSub is the local interface the driver's unexported receiver type
// satisfies, letting this external test package hold onto a subscription
// without naming the concrete type.
type e2eEventSub interface {
	Chan() <-chan motorevent.MotorEvent
	Close()
}

// pumpLoopback makes the virtual bus behave like a real CAN segment, the
// same helper cmd/cia402drive/main.go uses for its --virtual mode: every
// frame sent by any subscriber is delivered back to every subscriber, the
// sender included.
func pumpLoopback(ctx context.Context, bus *virtual.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-bus.Outbound():
			bus.Inject(frame)
		}
	}
}

// seedFakeServer seeds every PDO's comm-parameter cob-id object so startup's
// remap step can read-modify-write it; the value itself is arbitrary, the
// invalidate/revalidate dance never inspects anything but the bit-31 flag.
func seedFakeServer(server *sdotransport.FakeServer, nodeId uint8) {
	rpdos, tpdos := pdomodel.DefaultLayout()
	for _, m := range append(append([]pdomodel.Mapping{}, rpdos...), tpdos...) {
		server.Set(m.CommParamIndex(), 1, sdotransport.EncodeUint32(m.CobId(nodeId)))
	}
}

func waitForEvent(sub e2eEventSub, timeout time.Duration, pred func(motorevent.MotorEvent) bool) (motorevent.MotorEvent, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Chan():
			if !ok {
				return motorevent.MotorEvent{}, false
			}
			if pred(ev) {
				return ev, true
			}
		case <-deadline:
			return motorevent.MotorEvent{}, false
		}
	}
}

var _ = Describe("Driver end-to-end", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		vbus       *virtual.Bus
		fakeServer *sdotransport.FakeServer
		device     *scriptedDevice
		d          *driver.Driver
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		vbus = virtual.New(logger)
		Expect(vbus.Connect()).To(Succeed())
		go pumpLoopback(ctx, vbus)

		fakeServer = sdotransport.NewFakeServer(vbus, e2eNodeId, logger)
		Expect(vbus.Subscribe(fakeServer)).To(Succeed())
		seedFakeServer(fakeServer, e2eNodeId)

		device = newScriptedDevice(vbus, e2eNodeId)
		Expect(vbus.Subscribe(device)).To(Succeed())
		go device.run(ctx)

		rpdos, tpdos := pdomodel.DefaultLayout()
		var err error
		d, err = driver.Init(ctx, driver.Config{
			NodeId:     e2eNodeId,
			Bus:        vbus,
			Parameters: driver.DefaultParameters(),
			RPDOs:      rpdos,
			TPDOs:      tpdos,
			Logger:     logger,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		d.Close()
		cancel()
	})

	// Scenario (a): enable from idle walks SwitchOnDisabled through
	// ReadyToSwitchOn and SwitchedOn to OperationEnabled, and the final
	// Cia402StateUpdate reports OperationEnabled.
	It("enables from idle and reports OperationEnabled", func() {
		sub := d.EventReceiver()
		defer sub.Close()

		d.SendCommand(motorevent.Enable())

		_, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCia402StateUpdate && ev.Cia402State == cia402.OperationEnabled
		})
		Expect(ok).To(BeTrue(), "expected a Cia402StateUpdate(OperationEnabled) event")
	})

	// Scenario (b): MoveAbsolute after enable wires RPDO1's opmode/OMS bits
	// and RPDO2's target/profile-velocity bytes, and the handshake completes
	// once the device acknowledges the setpoint.
	It("moves to an absolute target and completes the setpoint handshake", func() {
		sub := d.EventReceiver()
		defer sub.Close()

		d.SendCommand(motorevent.Enable())
		_, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCia402StateUpdate && ev.Cia402State == cia402.OperationEnabled
		})
		Expect(ok).To(BeTrue())

		d.SendCommand(motorevent.MoveAbsoluteCommand(3200, 500))

		_, ok = waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventPositionModeFeedback && ev.PosMode.SetpointAck
		})
		Expect(ok).To(BeTrue(), "expected the device to acknowledge the setpoint")

		ev, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventPositionModeFeedback && !ev.PosMode.SetpointAck
		})
		Expect(ok).To(BeTrue(), "expected new_setpoint to clear once the handshake completes")
		Expect(ev.PosMode.SetpointAck).To(BeFalse())
	})

	// Scenario (c): once the device reports Fault, ResetFault drives
	// controlword bit 7 and the orchestrator settles on SwitchOnDisabled.
	It("recovers from a fault", func() {
		sub := d.EventReceiver()
		defer sub.Close()

		device.declareFault()
		_, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCia402StateUpdate && ev.Cia402State == cia402.Fault
		})
		Expect(ok).To(BeTrue(), "expected the driver to observe the fault")

		d.SendCommand(motorevent.ResetFault())

		_, ok = waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCia402StateUpdate && ev.Cia402State == cia402.SwitchOnDisabled
		})
		Expect(ok).To(BeTrue(), "expected recovery to SwitchOnDisabled")
	})

	// Scenario (d): once the device goes silent for longer than the
	// feedback receiver's comms timeout, a CommunicationLost event fires.
	It("reports communication loss after the device goes silent", func() {
		sub := d.EventReceiver()
		defer sub.Close()

		device.setPaused(true)

		_, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCommunicationLost
		})
		Expect(ok).To(BeTrue(), "expected a CommunicationLost event within the comms timeout window")
	})

	// Scenario (f): homing after enable drives RPDO1's opmode byte to 6 with
	// OMS bit 4 set, and HomingFeedback{Completed, AtHome} reports success.
	It("runs a homing sequence", func() {
		sub := d.EventReceiver()
		defer sub.Close()

		d.SendCommand(motorevent.Enable())
		_, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventCia402StateUpdate && ev.Cia402State == cia402.OperationEnabled
		})
		Expect(ok).To(BeTrue())

		d.SendCommand(motorevent.Home())

		ev, ok := waitForEvent(sub, 2*time.Second, func(ev motorevent.MotorEvent) bool {
			return ev.Kind == motorevent.EventHomingFeedback && ev.Homing.Completed
		})
		Expect(ok).To(BeTrue(), "expected homing to complete")
		Expect(ev.Homing.AtHome).To(BeTrue())
		Expect(ev.Homing.Error).To(BeFalse())
	})

	// RunHoming wraps Enable + Home + wait-for-completion into one call.
	It("runs the homing convenience helper to completion", func() {
		homingCtx, homingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer homingCancel()
		Expect(d.RunHoming(homingCtx)).To(Succeed())
	})
})
