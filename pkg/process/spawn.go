package process

import (
	"os"
	"os/exec"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

type SpawnOptions struct {
	ExecutablePath   string
	Args             []string
	WorkingDirectory string
	Env              []string
	// Detach starts the child in its own session / process group so it
	// outlives the parent
	Detach bool
}

// Spawn starts a new process without waiting for it
func Spawn(options SpawnOptions, logger logging.Logger) (*os.Process, error) {
	if options.ExecutablePath == "" {
		return nil, errors.NewValidationError("executable path is required", nil)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	cmd := exec.Command(options.ExecutablePath, options.Args...)
	cmd.Dir = options.WorkingDirectory
	if len(options.Env) > 0 {
		cmd.Env = append(os.Environ(), options.Env...)
	}
	if options.Detach {
		setDetachedSysProcAttr(cmd)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start process", err).
			WithContext("executable", options.ExecutablePath)
	}

	logger.Infof("Process spawned, executable: %s, args: %v, PID: %d",
		options.ExecutablePath, options.Args, cmd.Process.Pid)
	return cmd.Process, nil
}

// Relaunch starts a fresh, detached copy of the identified executable and
// forgets about it
func Relaunch(identity Identity, args []string, logger logging.Logger) error {
	proc, err := Spawn(SpawnOptions{
		ExecutablePath: identity.ExecutablePath,
		Args:           args,
		Detach:         true,
	}, logger)
	if err != nil {
		return err
	}
	return proc.Release()
}
