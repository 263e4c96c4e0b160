package process

import "context"

// ExitObserver is an optional platform facility that notifies when a process
// exits. When Available is false, callers rely on polling alone.
type ExitObserver interface {
	Available() bool
	// Watch returns a channel closed once pid exits. A nil channel (never
	// ready) is returned when observation is not possible.
	Watch(ctx context.Context, pid int) <-chan struct{}
}

type noopExitObserver struct{}

func (noopExitObserver) Available() bool { return false }

func (noopExitObserver) Watch(ctx context.Context, pid int) <-chan struct{} { return nil }

// NoopExitObserver never reports exits
func NoopExitObserver() ExitObserver {
	return noopExitObserver{}
}
