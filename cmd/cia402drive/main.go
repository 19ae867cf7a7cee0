// Command cia402drive is the CLI entry point for the driver: it parses
// flags, wires a CAN bus (a real adapter by name, or --virtual for the
// in-memory fake plus a scripted demo device), and relays MotorEvents to
// the log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	logrus "github.com/sirupsen/logrus"

	"github.com/MaxKiv/glorified-gantry/driver"
	"github.com/MaxKiv/glorified-gantry/internal/logadapter"
	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/can/virtual"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
	"github.com/MaxKiv/glorified-gantry/pkg/pdomodel"
	"github.com/MaxKiv/glorified-gantry/pkg/sdotransport"
)

func main() {
	canInterface := flag.String("i", "virtual", "CAN interface name (virtual, socketcan, ...)")
	channel := flag.String("c", "can0", "CAN channel/device name")
	nodeId := flag.Int("n", 1, "CiA-402 node id (1..127)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	useVirtual := flag.Bool("virtual", false, "force the in-memory virtual bus regardless of -i")
	flag.Parse()

	logger := newLogger(*logLevel)

	var bus can.Bus
	var fakeServer *sdotransport.FakeServer
	if *useVirtual || *canInterface == "virtual" {
		vbus := virtual.New(logger)
		bus = vbus
		fakeServer = sdotransport.NewFakeServer(vbus, uint8(*nodeId), logger)
		if err := vbus.Subscribe(fakeServer); err != nil {
			fmt.Fprintf(os.Stderr, "failed to attach fake SDO server: %v\n", err)
			os.Exit(1)
		}
		seedDefaults(fakeServer)
		demo := &demoDevice{bus: vbus, nodeId: uint8(*nodeId), nmtState: 0x7F}
		if err := vbus.Subscribe(demo); err != nil {
			fmt.Fprintf(os.Stderr, "failed to attach demo device: %v\n", err)
			os.Exit(1)
		}
		go pumpLoopback(vbus)
		go demo.run()
	} else {
		var err error
		bus, err = can.NewBus(*canInterface, *channel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to construct CAN bus %q: %v\n", *canInterface, err)
			os.Exit(1)
		}
	}

	if err := bus.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to CAN bus: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpdos, tpdos := pdomodel.DefaultLayout()
	d, err := driver.Init(ctx, driver.Config{
		NodeId:     uint8(*nodeId),
		Bus:        bus,
		Parameters: driver.DefaultParameters(),
		RPDOs:      rpdos,
		TPDOs:      tpdos,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "driver init failed: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	sub := d.EventReceiver()
	defer sub.Close()
	go logEvents(ctx, logger, sub)

	logger.Info("driver ready, send SIGINT/SIGTERM to exit")
	<-ctx.Done()
	logger.Info("shutting down")
}

func newLogger(level string) *slog.Logger {
	lg := logrus.New()
	switch level {
	case "debug":
		lg.SetLevel(logrus.DebugLevel)
	case "warn":
		lg.SetLevel(logrus.WarnLevel)
	case "error":
		lg.SetLevel(logrus.ErrorLevel)
	default:
		lg.SetLevel(logrus.InfoLevel)
	}
	return slog.New(logadapter.New(lg))
}

// seedDefaults gives the demo fake server something plausible to reply with
// for the startup task's parametrization uploads/remapping reads, and a
// starting statusword consistent with SwitchOnDisabled.
func seedDefaults(s *sdotransport.FakeServer) {
	s.Set(0x6041, 0x00, sdotransport.EncodeUint16(0b100_0000)) // statusword: SwitchOnDisabled
	for n := 1; n <= 4; n++ {
		s.Set(0x1400+uint16(n-1), 0x01, sdotransport.EncodeUint32(0))
		s.Set(0x1800+uint16(n-1), 0x01, sdotransport.EncodeUint32(0))
	}
}

// pumpLoopback makes the virtual bus behave like a real CAN segment: every
// frame the driver sends is delivered back to every subscriber (the fake SDO
// server included), the same round trip a real transceiver gives for free.
// Without this, FakeServer never sees the driver's RSDO requests and
// startup's parametrize/remap step hangs until it times out.
func pumpLoopback(bus *virtual.Bus) {
	for frame := range bus.Outbound() {
		bus.Inject(frame)
	}
}

// demoDevice periodically injects a heartbeat and TPDO1 statusword frame so
// a --virtual run actually progresses through NMT bring-up without a real
// device attached. It follows the NMT master commands the driver sends, so
// the startup task's pre-operational and operational switches both land.
type demoDevice struct {
	bus    *virtual.Bus
	nodeId uint8

	mu       sync.Mutex
	nmtState byte
}

func (d *demoDevice) Handle(frame can.Frame) {
	kind, _ := can.Classify(frame.ID)
	if kind != can.KindNMT || frame.Data[1] != d.nodeId {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch frame.Data[0] {
	case 0x01:
		d.nmtState = 0x05 // operational
	case 0x02:
		d.nmtState = 0x04 // stopped
	case 0x80, 0x81, 0x82:
		d.nmtState = 0x7F // pre-operational
	}
}

func (d *demoDevice) run() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		d.mu.Lock()
		state := d.nmtState
		d.mu.Unlock()

		hb := can.NewFrame(0x700+uint32(d.nodeId), 1)
		hb.Data[0] = state
		d.bus.Inject(hb)

		tpdo1 := can.NewFrame(0x180+uint32(d.nodeId), 3)
		tpdo1.Data[0] = 0b100_0000 // statusword low byte: SwitchOnDisabled
		d.bus.Inject(tpdo1)
	}
}

func logEvents(ctx context.Context, logger *slog.Logger, sub interface {
	Chan() <-chan motorevent.MotorEvent
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Chan():
			if !ok {
				return
			}
			logger.Debug("event", "kind", event.Kind)
		}
	}
}
