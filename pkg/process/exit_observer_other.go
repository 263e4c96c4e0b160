//go:build !linux

package process

func NewExitObserver() ExitObserver {
	return NoopExitObserver()
}
