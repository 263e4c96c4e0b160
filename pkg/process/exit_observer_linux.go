//go:build linux

package process

import (
	"context"

	"golang.org/x/sys/unix"
)

const pidfdPollTimeoutMs = 500

type pidfdExitObserver struct{}

// NewExitObserver returns a pidfd based observer when the kernel supports
// pidfd_open (5.3+), otherwise the no-op observer
func NewExitObserver() ExitObserver {
	fd, err := unix.PidfdOpen(unix.Getpid(), 0)
	if err != nil {
		return NoopExitObserver()
	}
	unix.Close(fd)
	return pidfdExitObserver{}
}

func (pidfdExitObserver) Available() bool { return true }

func (pidfdExitObserver) Watch(ctx context.Context, pid int) <-chan struct{} {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		if err == unix.ESRCH {
			exited := make(chan struct{})
			close(exited)
			return exited
		}
		return nil
	}

	exited := make(chan struct{})
	go func() {
		defer unix.Close(fd)
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for ctx.Err() == nil {
			n, err := unix.Poll(fds, pidfdPollTimeoutMs)
			if err != nil && err != unix.EINTR {
				return
			}
			if n > 0 {
				close(exited)
				return
			}
		}
	}()
	return exited
}
