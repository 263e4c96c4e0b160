package watchdog

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

// State represents the current state of the watchdog
type State string

const (
	// StateIdle is the state before polling starts
	StateIdle State = "idle"

	// StatePolling means the target and the exit marker are being watched
	StatePolling State = "polling"

	// StateCleanup means the target vanished without an exit marker
	StateCleanup State = "cleanup"

	// StateTerminated is final; the watchdog process exits with code 0
	StateTerminated State = "terminated"
)

// Transition represents a state transition with metadata
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// StateMachine validates and records watchdog state transitions
type StateMachine struct {
	targetPID        int
	currentState     State
	transitions      []Transition
	validTransitions map[State][]State
	mutex            sync.RWMutex
	logger           logging.Logger
}

func NewStateMachine(targetPID int, logger logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &StateMachine{
		targetPID:    targetPID,
		currentState: StateIdle,
		transitions:  make([]Transition, 0, 4),
		logger:       logger,
		validTransitions: map[State][]State{
			StateIdle: {
				StatePolling,    // launched in watchdog mode
				StateTerminated, // startup failure
			},
			StatePolling: {
				StateCleanup,    // target vanished
				StateTerminated, // exit marker observed, or internal failure
			},
			StateCleanup: {
				StateTerminated, // restart requested or suppressed
			},
		},
	}
}

// Current returns the current state (thread-safe)
func (sm *StateMachine) Current() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// CanTransition checks if a state transition is valid (thread-safe)
func (sm *StateMachine) CanTransition(to State) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition changes the state with validation (thread-safe)
func (sm *StateMachine) Transition(to State, reason string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", sm.currentState, to),
			nil,
		).WithContext("target_pid", sm.targetPID).
			WithContext("from_state", string(sm.currentState)).
			WithContext("to_state", string(to)).
			WithContext("reason", reason)
	}

	from := sm.currentState
	sm.transitions = append(sm.transitions, Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	sm.currentState = to

	sm.logger.Infof("Watchdog state transition, target PID: %d, %s->%s, reason: %s", sm.targetPID, from, to, reason)
	return nil
}

// ForceTerminate moves to Terminated from any non-final state
func (sm *StateMachine) ForceTerminate(reason string) {
	if sm.Current() == StateTerminated {
		return
	}
	if err := sm.Transition(StateTerminated, reason); err != nil {
		// Every non-final state may terminate; this is unreachable
		sm.logger.Errorf("Failed to terminate watchdog state machine: %v", err)
	}
}

func (sm *StateMachine) canTransitionUnsafe(to State) bool {
	validStates, exists := sm.validTransitions[sm.currentState]
	if !exists {
		return false
	}
	for _, validState := range validStates {
		if validState == to {
			return true
		}
	}
	return false
}

// History returns a copy of the transition history (thread-safe)
func (sm *StateMachine) History() []Transition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]Transition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}
