package driver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
)

// stateMachine tracks the device's current Cia402State from StatusWord
// events, and turns a single-hop target state requested by the orchestrator
// into the controlword flags needed to get there. A target state arrives on
// cmd, gets looked up against the current state via cia402.Transition, and
// the resulting flags go to the publisher over controlUpdate; a decoded
// StatusWord both updates the held state and is forwarded to the
// orchestrator over smState, plus re-broadcast as a Cia402StateUpdate
// event. The state machine never mutates its own state on a command; the
// statusword is the authoritative source.
type stateMachine struct {
	mu     sync.Mutex
	state  cia402.State
	ready  bool
	logger *slog.Logger

	events        *broadcaster[motorevent.MotorEvent]
	smState       *broadcaster[cia402.State]
	cmd           mpsc[cia402.State]
	controlUpdate mpsc[cia402.PowerFlag]
}

func newStateMachine(logger *slog.Logger, events *broadcaster[motorevent.MotorEvent], smState *broadcaster[cia402.State], cmd mpsc[cia402.State], controlUpdate mpsc[cia402.PowerFlag]) *stateMachine {
	return &stateMachine{
		state:         cia402.SwitchOnDisabled,
		logger:        logger.With("service", "[cia402 state machine]"),
		events:        events,
		smState:       smState,
		cmd:           cmd,
		controlUpdate: controlUpdate,
	}
}

// currentState returns the last decoded state, and whether a StatusWord has
// been observed at all yet (callers block on this before issuing commands).
func (sm *stateMachine) currentState() (cia402.State, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state, sm.ready
}

func (sm *stateMachine) run(ctx context.Context) {
	sub := sm.events.subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case target, ok := <-sm.cmd:
			if !ok {
				return
			}
			sm.mu.Lock()
			cur := sm.state
			sm.mu.Unlock()

			flags, ok := cia402.Transition(cur, target)
			if !ok {
				sm.logger.Warn("disallows transition", "from", cur, "to", target)
				continue
			}
			sm.logger.Debug("transition flags computed", "from", cur, "to", target, "flags", flags)
			select {
			case sm.controlUpdate <- flags:
			case <-ctx.Done():
				return
			}

		case event, ok := <-sub.Chan():
			if !ok {
				return
			}
			if event.Kind != motorevent.EventStatusWord {
				continue
			}
			newState, ok := cia402.DecodeState(event.StatusWord)
			if !ok {
				sm.logger.Error("failed to decode statusword into a known Cia402State", "statusword", event.StatusWord)
				continue
			}

			sm.mu.Lock()
			sm.state = newState
			sm.ready = true
			sm.mu.Unlock()

			sm.smState.send(newState)
			sm.events.send(motorevent.NewCia402StateUpdate(newState))
		}
	}
}
