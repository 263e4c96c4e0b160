package restartgovernor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/notice"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
)

const (
	DefaultMaxRestarts = 5

	// ExitCodeRestartCeiling is used when automatic recovery gave up
	ExitCodeRestartCeiling = 1
	// ExitCodeRestarting is used by a process that just relaunched its successor
	ExitCodeRestarting = 2

	// SkipInstanceCheckArg marks a governed relaunch
	SkipInstanceCheckArg = "--skip-instance-check"
	PredecessorPIDArg    = "--predecessor-pid"
)

// Outcome reports what RequestRestart did
type Outcome string

const (
	OutcomeRelaunched       Outcome = "relaunched"
	OutcomeRelaunchFailed   Outcome = "relaunch_failed"
	OutcomeCeilingReached   Outcome = "ceiling_reached"
	OutcomeCounterFailed    Outcome = "counter_failed"
	OutcomeAlreadyRequested Outcome = "already_requested"
)

type Relauncher interface {
	Relaunch(reason string) error
}

type Exiter interface {
	Exit(code int)
}

// Handover is told before a restart request takes the process down, so
// that no other supervisor acts on the same failure
type Handover interface {
	Handover(reason string) error
}

// ExitFunc adapts a plain function, e.g. os.Exit, to Exiter
type ExitFunc func(code int)

func (f ExitFunc) Exit(code int) { f(code) }

// ProcessRelauncher starts a fresh copy of the executable with
// SkipInstanceCheckArg so the successor does not yield to its dying
// predecessor. Args are appended, e.g. the configuration file path.
type ProcessRelauncher struct {
	Identity       process.Identity
	// PredecessorPID is the instance being replaced; the successor waits
	// for it but yields to any other owner
	PredecessorPID int
	Args           []string
	Logger         logging.Logger
}

func (r *ProcessRelauncher) Relaunch(reason string) error {
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	logger.Infof("Relaunching application, executable: %s, reason: %s", r.Identity.ExecutablePath, reason)
	return process.Relaunch(r.Identity, r.args(), logger)
}

func (r *ProcessRelauncher) args() []string {
	args := []string{SkipInstanceCheckArg}
	if r.PredecessorPID > 0 {
		args = append(args, PredecessorPIDArg, strconv.Itoa(r.PredecessorPID))
	}
	return append(args, r.Args...)
}

type Options struct {
	Counter     *Counter
	MaxRestarts int
	Relauncher  Relauncher
	Exiter      Exiter
	Notifier    notice.Notifier
	Logger      logging.Logger

	// Handover is set in the main process only; the watchdog has nobody to tell
	Handover Handover
}

// Governor bounds consecutive automatic restarts. The same type serves both
// the in-process failure handler and the watchdog; they share the persisted
// counter and the ceiling.
type Governor struct {
	counter     *Counter
	maxRestarts int
	relauncher  Relauncher
	exiter      Exiter
	handover    Handover
	notifier    notice.Notifier
	logger      logging.Logger

	mutex     sync.Mutex
	requested bool
}

func NewGovernor(options Options) *Governor {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	maxRestarts := options.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	exiter := options.Exiter
	if exiter == nil {
		exiter = ExitFunc(os.Exit)
	}
	notifier := options.Notifier
	if notifier == nil {
		notifier = notice.NewLoggerNotifier(logger)
	}
	return &Governor{
		counter:     options.Counter,
		maxRestarts: maxRestarts,
		relauncher:  options.Relauncher,
		exiter:      exiter,
		handover:    options.Handover,
		notifier:    notifier,
		logger:      logger,
	}
}

func (g *Governor) MaxRestarts() int {
	return g.maxRestarts
}

// RequestRestart bumps the counter and either relaunches the application or,
// at the ceiling, surfaces a blocking error. Both paths terminate the calling
// process with a non-zero code. Only the first call per process does anything.
func (g *Governor) RequestRestart(reason string) Outcome {
	g.mutex.Lock()
	if g.requested {
		g.mutex.Unlock()
		g.logger.Debugf("Restart already requested, ignoring: %s", reason)
		return OutcomeAlreadyRequested
	}
	g.requested = true
	g.mutex.Unlock()

	g.logger.Warnf("Restart requested, reason: %s", reason)

	// The watchdog must not count and relaunch this failure a second time
	if g.handover != nil {
		if err := g.handover.Handover(reason); err != nil {
			g.logger.Warnf("Handover before restart incomplete: %v", err)
		}
	}

	count, err := g.counter.Increment(reason)
	if err != nil {
		// Without a durable count the ceiling cannot be enforced
		g.logger.Errorf("Failed to update restart counter, giving up automatic recovery: %v", err)
		g.notifier.BlockingError("Automatic recovery unavailable",
			fmt.Sprintf("The application stopped responding (%s) and could not be restarted automatically.", reason))
		g.exiter.Exit(ExitCodeRestartCeiling)
		return OutcomeCounterFailed
	}

	if count >= g.maxRestarts {
		g.logger.Errorf("Restart ceiling reached, count: %d, max: %d", count, g.maxRestarts)
		g.notifier.BlockingError("Automatic recovery disabled",
			fmt.Sprintf("The application failed %d times in a row. Automatic restart has been disabled for this run.", count))
		if err := g.counter.Reset("restart ceiling acknowledged"); err != nil {
			g.logger.Errorf("Failed to reset restart counter: %v", err)
		}
		g.exiter.Exit(ExitCodeRestartCeiling)
		return OutcomeCeilingReached
	}

	outcome := OutcomeRelaunched
	if g.relauncher == nil {
		g.logger.Errorf("No relauncher configured, cannot restart")
		outcome = OutcomeRelaunchFailed
	} else if err := g.relauncher.Relaunch(reason); err != nil {
		g.logger.Errorf("Failed to relaunch application: %v", err)
		outcome = OutcomeRelaunchFailed
	} else {
		g.logger.Infof("Application relaunched, restart %d of %d", count, g.maxRestarts-1)
	}

	g.exiter.Exit(ExitCodeRestarting)
	return outcome
}

// AcknowledgeCleanRun resets the counter after a restart-free run or an
// explicit user acknowledgement
func (g *Governor) AcknowledgeCleanRun(reason string) error {
	return g.counter.Reset(reason)
}

// ScheduleCleanRunReset resets the counter once the process has stayed up
// for stableAfter without requesting a restart
func (g *Governor) ScheduleCleanRunReset(ctx context.Context, stableAfter time.Duration) {
	if stableAfter <= 0 {
		return
	}
	go func() {
		timer := time.NewTimer(stableAfter)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		g.mutex.Lock()
		requested := g.requested
		g.mutex.Unlock()
		if requested {
			return
		}

		count, err := g.counter.Get()
		if err != nil || count == 0 {
			return
		}
		if err := g.AcknowledgeCleanRun(fmt.Sprintf("stable for %s", stableAfter)); err != nil {
			g.logger.Warnf("Failed to reset restart counter after clean run: %v", err)
		}
	}()
}
