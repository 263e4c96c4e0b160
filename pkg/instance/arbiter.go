package instance

import (
	"context"
	"os"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"

	"github.com/gofrs/flock"
)

const (
	DefaultUpdateHandoffDelay = 1 * time.Second
	DefaultRelaunchLockWait   = 5 * time.Second

	lockRetryDelay = 100 * time.Millisecond
)

// Decision is the outcome of single-instance arbitration
type Decision string

const (
	// DecisionOwn: this process holds the instance lock of its mode
	DecisionOwn Decision = "own"
	// DecisionProceedUnowned: another process owns the mode, start anyway
	DecisionProceedUnowned Decision = "proceed_unowned"
	// DecisionYield: another process owns the mode, exit after handoff
	DecisionYield Decision = "yield"
)

type Result struct {
	Decision          Decision
	Mode              string
	OwnerPID          int
	DeliveryAttempted bool
	Delivered         bool
}

// OwnerChannel reaches the owning instance over its handoff server
type OwnerChannel interface {
	Deliver(ctx context.Context, payload handoff.Payload) (handoff.DeliveryResponse, error)
	Health(ctx context.Context) (handoff.HealthResponse, error)
}

type Config struct {
	UpdateHandoffDelay time.Duration         `yaml:"update_handoff_delay"`
	RelaunchLockWait   time.Duration         `yaml:"relaunch_lock_wait"`
	DeliveryTimeout    time.Duration         `yaml:"delivery_timeout"`
	Transport          handoff.TransportType `yaml:"transport"`
}

// WithDefaults fills unset fields
func (c Config) WithDefaults() Config {
	if c.UpdateHandoffDelay == 0 {
		c.UpdateHandoffDelay = DefaultUpdateHandoffDelay
	}
	if c.RelaunchLockWait == 0 {
		c.RelaunchLockWait = DefaultRelaunchLockWait
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = handoff.DefaultDeliveryTimeout
	}
	if c.Transport == "" {
		c.Transport = handoff.TransportAuto
	}
	return c
}

// Arbiter decides whether this launch owns the application
type Arbiter struct {
	files  *processfile.ProcessFileManager
	config Config
	runID  string
	logger logging.Logger

	// Overridable in tests
	dial  func(mode string) (OwnerChannel, error)
	sleep func(d time.Duration)
	alive func(pid int) bool

	lock *flock.Flock
	mode string
}

func NewArbiter(files *processfile.ProcessFileManager, config Config, runID string, logger logging.Logger) *Arbiter {
	config = config.WithDefaults()
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	a := &Arbiter{
		files:  files,
		config: config,
		runID:  runID,
		logger: logger,
		sleep:  time.Sleep,
		alive:  process.IsAlive,
	}
	a.dial = func(mode string) (OwnerChannel, error) {
		endpoint := handoff.NewEndpoint(files, mode, config.Transport)
		return handoff.NewClient(endpoint, config.DeliveryTimeout, logger)
	}
	return a
}

// Arbitrate runs once per launch. On DecisionOwn the lock is held until
// Release or process exit.
func (a *Arbiter) Arbitrate(ctx context.Context, args launchargs.Args) (Result, error) {
	mode := args.Mode()
	result := Result{Mode: mode}

	if mode != launchargs.ModeNormal {
		// The updater runs old and new executables side by side for a short
		// window; give the predecessor time to vacate shared files and ports
		a.logger.Infof("Launch mode %s skips instance arbitration, waiting %s", mode, a.config.UpdateHandoffDelay)
		a.sleep(a.config.UpdateHandoffDelay)

		acquired, err := a.tryLock(mode)
		if err != nil {
			return result, err
		}
		result.Decision = DecisionProceedUnowned
		if acquired {
			result.Decision = DecisionOwn
		}
		return result, nil
	}

	acquired, err := a.tryLock(mode)
	if err != nil {
		return result, err
	}
	if acquired {
		result.Decision = DecisionOwn
		return result, nil
	}

	result.OwnerPID = a.ownerPID(mode)

	if args.MultiInstance {
		a.logger.Infof("Instance already running (PID %d), multi-instance requested, proceeding", result.OwnerPID)
		result.Decision = DecisionProceedUnowned
		return result, nil
	}

	if args.SkipInstanceCheck {
		// Automatic restart: the predecessor is on its way out
		acquired, err := a.waitLock(ctx, mode)
		if err != nil {
			return result, err
		}
		if acquired {
			result.Decision = DecisionOwn
			return result, nil
		}

		// Another successor of the same failure may have won the lock
		ownerPID, active := a.activeOwner(ctx, mode)
		if ownerPID > 0 {
			result.OwnerPID = ownerPID
		}
		if active && ownerPID != args.PredecessorPID {
			a.logger.Infof("Instance lock held by live instance (PID %d), not the predecessor (PID %d), yielding", ownerPID, args.PredecessorPID)
			result.Decision = DecisionYield
			return result, nil
		}
		a.logger.Warnf("Instance lock still held after %s, proceeding without it", a.config.RelaunchLockWait)
		result.Decision = DecisionProceedUnowned
		return result, nil
	}

	result.Decision = DecisionYield
	payload, ok := PayloadFromArgs(args, a.runID)
	if !ok {
		a.logger.Infof("Instance already running (PID %d), nothing to hand off", result.OwnerPID)
		return result, nil
	}

	result.DeliveryAttempted = true
	if err := a.deliver(ctx, mode, payload); err != nil {
		a.logger.Warnf("Failed to hand off %s to running instance (PID %d): %v", payload.Kind, result.OwnerPID, err)
		return result, nil
	}
	result.Delivered = true
	a.logger.Infof("Handed off %s to running instance (PID %d)", payload.Kind, result.OwnerPID)
	return result, nil
}

// activeOwner asks the owner's handoff server first and falls back to the
// owner PID file when the server does not answer
func (a *Arbiter) activeOwner(ctx context.Context, mode string) (int, bool) {
	if channel, err := a.dial(mode); err == nil {
		healthCtx, cancel := context.WithTimeout(ctx, a.config.DeliveryTimeout)
		health, err := channel.Health(healthCtx)
		cancel()
		if err == nil && health.OwnerPID > 0 {
			return health.OwnerPID, true
		}
	}

	pid := a.ownerPID(mode)
	return pid, pid > 0 && a.alive(pid)
}

func (a *Arbiter) deliver(ctx context.Context, mode string, payload handoff.Payload) error {
	channel, err := a.dial(mode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.DeliveryTimeout)
	defer cancel()

	_, err = channel.Deliver(ctx, payload)
	return err
}

func (a *Arbiter) tryLock(mode string) (bool, error) {
	lock, err := a.newLock(mode)
	if err != nil {
		return false, err
	}
	locked, err := lock.TryLock()
	if err != nil {
		return false, errors.NewIOError("failed to acquire instance lock", err).WithContext("path", lock.Path())
	}
	if locked {
		a.own(lock, mode)
	}
	return locked, nil
}

func (a *Arbiter) waitLock(ctx context.Context, mode string) (bool, error) {
	lock, err := a.newLock(mode)
	if err != nil {
		return false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.config.RelaunchLockWait)
	defer cancel()

	locked, err := lock.TryLockContext(waitCtx, lockRetryDelay)
	if err != nil && waitCtx.Err() == nil {
		return false, errors.NewIOError("failed to acquire instance lock", err).WithContext("path", lock.Path())
	}
	if locked {
		a.own(lock, mode)
	}
	return locked, nil
}

func (a *Arbiter) newLock(mode string) (*flock.Flock, error) {
	path := a.files.GenerateInstanceLockPath(mode)
	if err := processfile.ValidateDirectory(path); err != nil {
		return nil, err
	}
	return flock.New(path), nil
}

func (a *Arbiter) own(lock *flock.Flock, mode string) {
	a.lock = lock
	a.mode = mode
	if err := a.files.WritePIDFile(ownerFileID(mode), os.Getpid()); err != nil {
		a.logger.Warnf("Failed to write owner PID file: %v", err)
	}
	a.logger.Infof("Instance lock acquired, mode: %s, path: %s", mode, lock.Path())
}

func (a *Arbiter) ownerPID(mode string) int {
	pid, err := a.files.ReadPIDFile(ownerFileID(mode))
	if err != nil {
		return 0
	}
	return pid
}

func (a *Arbiter) Owned() bool {
	return a.lock != nil && a.lock.Locked()
}

func (a *Arbiter) Mode() string {
	return a.mode
}

// Release gives up ownership; normally the lock lives until process exit
func (a *Arbiter) Release() error {
	if a.lock == nil {
		return nil
	}
	a.files.RemovePIDFile(ownerFileID(a.mode))
	if err := a.lock.Unlock(); err != nil {
		return errors.NewIOError("failed to release instance lock", err).WithContext("path", a.lock.Path())
	}
	a.lock = nil
	return nil
}

func ownerFileID(mode string) string {
	return "instance-" + mode
}
