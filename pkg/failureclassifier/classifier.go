package failureclassifier

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/crashlog"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/notice"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"
)

type Verdict string

const (
	VerdictBenign      Verdict = "benign"
	VerdictRecoverable Verdict = "recoverable"
)

type CrashRecorder interface {
	Record(entry crashlog.Entry)
}

type RestartRequester interface {
	RequestRestart(reason string) restartgovernor.Outcome
}

type Options struct {
	Filter    BenignFilter
	CrashLog  CrashRecorder
	Notifier  notice.Notifier
	Policy    settings.PolicySource
	Restarter RestartRequester
	Logger    logging.Logger
}

// Classifier decides what happens to failures captured at the UI and
// background boundaries
type Classifier struct {
	filter    BenignFilter
	crashLog  CrashRecorder
	notifier  notice.Notifier
	policy    settings.PolicySource
	restarter RestartRequester
	logger    logging.Logger
}

func NewClassifier(options Options) *Classifier {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	filter := options.Filter
	if filter == nil {
		filter = NewDefaultPatternFilter()
	}
	notifier := options.Notifier
	if notifier == nil {
		notifier = notice.NewLoggerNotifier(logger)
	}
	return &Classifier{
		filter:    filter,
		crashLog:  options.CrashLog,
		notifier:  notifier,
		policy:    options.Policy,
		restarter: options.Restarter,
		logger:    logger,
	}
}

func (c *Classifier) Classify(failure Failure) Verdict {
	if c.filter.IsKnownBenignFailure(failure) {
		return VerdictBenign
	}
	return VerdictRecoverable
}

// HandleFailure always marks the failure handled. Recoverable failures are
// logged, shown to the user and, under SilentRestart, passed to the governor.
// Under NoAction the process stays alive.
func (c *Classifier) HandleFailure(failure Failure) Verdict {
	verdict := c.Classify(failure)
	if verdict == VerdictBenign {
		c.logger.Warnf("Ignoring known benign failure, %s", failure)
		return verdict
	}

	c.logger.Errorf("Unhandled %s", failure)
	if c.crashLog != nil {
		c.crashLog.Record(crashlog.Entry{
			Time:    time.Now(),
			Title:   fmt.Sprintf("%s failure (%s)", failure.Surface, failure.Type),
			Message: failure.Message,
			Stack:   failure.Stack,
		})
	}
	c.notifier.Notice(fmt.Sprintf("An unexpected error occurred: %s", failure.Message))

	action := settings.CrashActionSilentRestart
	if c.policy != nil {
		action = c.policy.CurrentCrashAction()
	}
	if !action.RestartsAutomatically() {
		c.logger.Warnf("Crash action is %s, continuing in current process", action)
		return verdict
	}
	if c.restarter == nil {
		c.logger.Errorf("No restart requester configured, continuing in current process")
		return verdict
	}

	outcome := c.restarter.RequestRestart(failure.String())
	c.logger.Infof("Restart request finished, outcome: %s", outcome)
	return verdict
}

// Guard runs fn and handles any panic escaping it as a failure on surface.
// It reports whether fn panicked.
func (c *Classifier) Guard(surface Surface, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			c.HandleFailure(FromPanic(surface, r, debug.Stack()))
		}
	}()
	fn()
	return false
}

// Go runs fn on a new goroutine guarded as a background failure surface
func (c *Classifier) Go(fn func()) {
	go c.Guard(SurfaceBackground, fn)
}

// ReportError hands an error captured by a collaborator to the classifier
func (c *Classifier) ReportError(surface Surface, err error) Verdict {
	if err == nil {
		return VerdictBenign
	}
	return c.HandleFailure(FromError(surface, err, debug.Stack()))
}

// HandleExit records a normal process exit. It never restarts.
func (c *Classifier) HandleExit(code int) {
	c.logger.Infof("Process exiting, code: %d", code)
}
