package failureclassifier

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InstallSignalHandlers logs termination requests (interrupt, terminate,
// hangup, which Windows raises for console close and session end) and then
// calls onSignal so the owner can shut down. The signal itself never
// triggers a restart. The returned function uninstalls the handlers.
func (c *Classifier) InstallSignalHandlers(ctx context.Context, onSignal func(os.Signal)) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case received := <-signals:
				c.logger.Warnf("Termination requested, surface: %s, signal: %v", SurfaceTermination, received)
				if onSignal != nil {
					onSignal(received)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
}
