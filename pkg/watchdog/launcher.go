package watchdog

import (
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
)

const defaultStopTimeout = 5 * time.Second

// Launcher starts the watchdog as a second invocation of the executable
type Launcher struct {
	ExecutablePath string
	// ExtraArgs follow the watchdog arguments, e.g. the configuration file path
	ExtraArgs []string
	Logger    logging.Logger
}

func (l *Launcher) Spawn(target process.Identity, markerPath string) (*Handle, error) {
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	executable := l.ExecutablePath
	if executable == "" {
		executable = target.ExecutablePath
	}

	proc, err := process.Spawn(process.SpawnOptions{
		ExecutablePath: executable,
		Args:           append(launchargs.WatchdogArgs(target.PID, markerPath), l.ExtraArgs...),
		Detach:         true,
	}, logger)
	if err != nil {
		return nil, err
	}
	return newHandle(proc, logger), nil
}

// Handle is held by the main process to stop its watchdog on deliberate exit
type Handle struct {
	process *os.Process
	done    chan struct{}
	logger  logging.Logger

	mutex   sync.Mutex
	stopped bool
}

func newHandle(proc *os.Process, logger logging.Logger) *Handle {
	h := &Handle{
		process: proc,
		done:    make(chan struct{}),
		logger:  logger,
	}

	go func() {
		state, err := proc.Wait()
		if err != nil {
			logger.Infof("Watchdog PID %d wait failed: %v", proc.Pid, err)
		} else {
			logger.Infof("Watchdog PID %d exited with status: %v", proc.Pid, state)
		}
		close(h.done)
	}()

	return h
}

func (h *Handle) PID() int {
	return h.process.Pid
}

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop kills the watchdog if it is still running. Safe to call more than once.
func (h *Handle) Stop() error {
	h.mutex.Lock()
	if h.stopped {
		h.mutex.Unlock()
		return nil
	}
	h.stopped = true
	h.mutex.Unlock()

	if h.Exited() {
		return nil
	}

	pid := h.process.Pid
	h.logger.Infof("Stopping watchdog PID %d", pid)
	// The watchdog holds no state worth a graceful shutdown
	if err := h.process.Kill(); err != nil && !h.Exited() {
		return errors.NewProcessError("failed to kill watchdog", err).WithContext("pid", pid)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(defaultStopTimeout):
		return errors.NewTimeoutError("watchdog did not exit after kill", nil).WithContext("pid", pid)
	}
}
