package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/exitsignal"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"
)

const DefaultPollInterval = 2 * time.Second

// ProcessProbe resolves a pid to a live process
type ProcessProbe interface {
	IsAlive(pid int) bool
}

type ProbeFunc func(pid int) bool

func (f ProbeFunc) IsAlive(pid int) bool { return f(pid) }

// SettingsSource reads the persisted settings fresh on every call
type SettingsSource interface {
	Load() (settings.Settings, error)
}

type RestartRequester interface {
	RequestRestart(reason string) restartgovernor.Outcome
}

type Options struct {
	TargetPID    int
	Marker       *exitsignal.Marker
	Probe        ProcessProbe
	Settings     SettingsSource
	Restarter    RestartRequester
	ExitObserver process.ExitObserver
	PollInterval time.Duration
	Logger       logging.Logger
}

// Watchdog watches one main process from a separate process and requests a
// governed restart when it disappears without leaving an exit marker
type Watchdog struct {
	targetPID    int
	marker       *exitsignal.Marker
	probe        ProcessProbe
	settings     SettingsSource
	restarter    RestartRequester
	observer     process.ExitObserver
	pollInterval time.Duration
	stateMachine *StateMachine
	logger       logging.Logger
}

func New(options Options) *Watchdog {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	probe := options.Probe
	if probe == nil {
		probe = ProbeFunc(process.IsAlive)
	}
	observer := options.ExitObserver
	if observer == nil {
		observer = process.NoopExitObserver()
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watchdog{
		targetPID:    options.TargetPID,
		marker:       options.Marker,
		probe:        probe,
		settings:     options.Settings,
		restarter:    options.Restarter,
		observer:     observer,
		pollInterval: pollInterval,
		stateMachine: NewStateMachine(options.TargetPID, logger),
		logger:       logger,
	}
}

func (w *Watchdog) State() State {
	return w.stateMachine.Current()
}

func (w *Watchdog) History() []Transition {
	return w.stateMachine.History()
}

// Run blocks until the watchdog reaches Terminated. Failures inside the loop
// never escape: they terminate the watchdog. ctx only exists for tests and
// embedding; in production the loop ends via the marker or the target's death.
func (w *Watchdog) Run(ctx context.Context) (final State) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("Watchdog failed, terminating: %v", r)
			w.stateMachine.ForceTerminate(fmt.Sprintf("internal failure: %v", r))
		}
		final = w.stateMachine.Current()
	}()

	if w.marker == nil || w.targetPID <= 0 {
		w.stateMachine.ForceTerminate("invalid watchdog arguments")
		return
	}
	if err := w.stateMachine.Transition(StatePolling, "watchdog started"); err != nil {
		w.stateMachine.ForceTerminate(err.Error())
		return
	}

	var exited <-chan struct{}
	if w.observer.Available() {
		w.logger.Debugf("Exit observer available, target PID: %d", w.targetPID)
		exited = w.observer.Watch(ctx, w.targetPID)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(w.pollInterval)
		case <-exited:
			w.logger.Infof("Exit observer reported target exit, PID: %d", w.targetPID)
			exited = nil
		case <-ctx.Done():
			w.stateMachine.ForceTerminate("cancelled")
			return
		}

		if done := w.pollOnce(); done {
			return
		}
	}
}

// pollOnce reports whether the watchdog reached Terminated
func (w *Watchdog) pollOnce() (done bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("Watchdog poll failed, terminating: %v", r)
			w.stateMachine.ForceTerminate(fmt.Sprintf("poll failure: %v", r))
			done = true
		}
	}()

	// The marker wins over a dead target: a deliberate exit writes it first
	if w.marker.Exists() {
		if _, err := w.marker.Consume(); err != nil {
			w.logger.Warnf("Failed to delete exit marker: %v", err)
		}
		w.stateMachine.ForceTerminate("exit marker observed")
		return true
	}

	if w.probe.IsAlive(w.targetPID) {
		return false
	}

	if err := w.stateMachine.Transition(StateCleanup, "target process vanished"); err != nil {
		w.stateMachine.ForceTerminate(err.Error())
		return true
	}
	w.cleanup()
	return true
}

func (w *Watchdog) cleanup() {
	current := settings.DefaultSettings()
	if w.settings != nil {
		loaded, err := w.settings.Load()
		if err != nil {
			w.logger.Warnf("Failed to load settings, using defaults: %v", err)
		}
		current = loaded
	}

	if current.TopmostAccessibilityMode {
		w.stateMachine.ForceTerminate("topmost accessibility mode manages its own lifecycle")
		return
	}
	if !current.CrashAction.RestartsAutomatically() {
		w.stateMachine.ForceTerminate(fmt.Sprintf("crash action is %s", current.CrashAction))
		return
	}
	if w.restarter == nil {
		w.stateMachine.ForceTerminate("no restart requester configured")
		return
	}

	outcome := w.restarter.RequestRestart(fmt.Sprintf("process %d exited unexpectedly", w.targetPID))
	w.stateMachine.ForceTerminate(fmt.Sprintf("restart requested, outcome: %s", outcome))
}
