package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/MaxKiv/glorified-gantry/pkg/cia402"
	"github.com/MaxKiv/glorified-gantry/pkg/motorevent"
)

// transitionHopTimeout bounds the wait for the device to confirm one hop of
// a planned transition.
const transitionHopTimeout = 1 * time.Second

// orchestrator owns the CiA-402 path planner: it translates MotorCommands
// into a goal state and walks the state machine through cia402.Plan one hop
// at a time, waiting for the state machine's confirmation of each hop
// before issuing the next. A new command that targets a different goal
// while a transition is in-flight preempts it immediately rather than
// queuing behind it.
type orchestrator struct {
	logger *slog.Logger

	currentState cia402.State

	cmd     *broadcaster[motorevent.MotorCommand]
	smCmd   mpsc[cia402.State]
	smState *broadcaster[cia402.State]
	events  *broadcaster[motorevent.MotorEvent]
}

func newOrchestrator(logger *slog.Logger, cmd *broadcaster[motorevent.MotorCommand], smCmd mpsc[cia402.State], smState *broadcaster[cia402.State], events *broadcaster[motorevent.MotorEvent]) *orchestrator {
	return &orchestrator{
		logger:  logger.With("service", "[cia402 orchestrator]"),
		cmd:     cmd,
		smCmd:   smCmd,
		smState: smState,
		events:  events,
	}
}

func (o *orchestrator) run(ctx context.Context) {
	stateSub := o.smState.subscribe()
	defer stateSub.Close()

	o.logger.Debug("waiting for initial state from state machine")
	select {
	case s, ok := <-stateSub.Chan():
		if !ok {
			return
		}
		o.currentState = s
	case <-ctx.Done():
		return
	}
	o.logger.Info("orchestrator ready", "state", o.currentState)

	sub := o.cmd.subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.Chan():
			if !ok {
				return
			}
			goal, hasGoal := cmd.GoalState()
			if !hasGoal {
				continue
			}
			o.logger.Debug("received command", "goal", goal)
			if err := o.runTransition(ctx, sub, goal); err != nil && ctx.Err() == nil {
				o.logger.Error("transition failed", "error", err)
			}
		case s, ok := <-stateSub.Chan():
			if !ok {
				return
			}
			o.currentState = s
		}
	}
}

// runTransition drives current_state to goal hop by hop, restarting from
// scratch against a fresher goal if a new command preempts it mid-flight.
// Each (re)started walk subscribes to the state broadcast from "now": a
// restart adopts the next live statusword as ground truth rather than
// draining confirmations meant for an abandoned walk.
func (o *orchestrator) runTransition(ctx context.Context, sub *receiver[motorevent.MotorCommand], goal cia402.State) error {
	stateSub := o.smState.subscribe()
	defer stateSub.Close()

	from := o.currentState
	path, ok := cia402.Plan(from, goal)
	if !ok {
		return &motorevent.Cia402TransitionError{From: from, To: goal}
	}
	if len(path) == 0 {
		o.logger.Debug("already at goal state", "state", goal)
		return nil
	}
	o.logger.Info("transition planned", "from", from, "to", goal, "path", path)

	for _, hop := range path {
		select {
		case o.smCmd <- hop:
		case <-ctx.Done():
			return ctx.Err()
		}

		timer := time.NewTimer(transitionHopTimeout)
		for reached := false; !reached; {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()

			case cmd, ok := <-sub.Chan():
				if !ok {
					timer.Stop()
					return nil
				}
				if newGoal, hasGoal := cmd.GoalState(); hasGoal && newGoal != goal {
					timer.Stop()
					o.logger.Info("command preempts in-flight transition", "old goal", goal, "new goal", newGoal)
					return o.runTransition(ctx, sub, newGoal)
				}

			case s, ok := <-stateSub.Chan():
				if !ok {
					timer.Stop()
					return nil
				}
				o.currentState = s
				if s == hop {
					reached = true
					continue
				}
				// The device reported a state off the planned path (e.g. it
				// dropped into Fault or QuickStopActive mid-walk). The
				// remaining hops no longer lead anywhere useful, so abort
				// and replan from here, same as a preempting command above.
				timer.Stop()
				o.logger.Info("statusword diverged from planned hop, replanning", "expected", hop, "got", s, "goal", goal)
				return o.runTransition(ctx, sub, goal)

			case <-timer.C:
				return &motorevent.Cia402TransitionTimeoutError{From: from, To: goal}
			}
		}
		timer.Stop()
	}

	return nil
}
