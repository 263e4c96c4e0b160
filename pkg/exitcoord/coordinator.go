package exitcoord

import (
	"sync"

	"github.com/core-tools/hsu-guardian-go/pkg/logging"

	"go.uber.org/multierr"
)

type CounterResetter interface {
	Reset(reason string) error
}

type ExitMarker interface {
	Write() error
}

// WatchdogHandle is the main process's grip on its watchdog
type WatchdogHandle interface {
	Exited() bool
	Stop() error
}

// Coordinator makes a deliberate shutdown distinguishable from a crash
type Coordinator struct {
	counter CounterResetter
	marker  ExitMarker
	logger  logging.Logger

	mutex    sync.Mutex
	watchdog WatchdogHandle
	exited   bool
}

func NewCoordinator(counter CounterResetter, marker ExitMarker, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Coordinator{
		counter: counter,
		marker:  marker,
		logger:  logger,
	}
}

// SetWatchdog records the watchdog spawned for this process, if any
func (c *Coordinator) SetWatchdog(handle WatchdogHandle) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.watchdog = handle
}

// Exit runs on user-confirmed shutdown only. It resets the restart counter,
// writes the exit marker and stops the watchdog. Later calls are no-ops.
// All steps are attempted even if one fails.
func (c *Coordinator) Exit(reason string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.exited {
		c.logger.Debugf("Exit already coordinated, ignoring: %s", reason)
		return nil
	}
	c.exited = true
	c.logger.Infof("Coordinating deliberate exit, reason: %s", reason)

	var err error
	if c.counter != nil {
		err = multierr.Append(err, c.counter.Reset("deliberate exit"))
	}
	// The marker must exist before the watchdog's next poll
	if c.marker != nil {
		err = multierr.Append(err, c.marker.Write())
	}
	if c.watchdog != nil && !c.watchdog.Exited() {
		err = multierr.Append(err, c.watchdog.Stop())
	}

	if err != nil {
		c.logger.Warnf("Exit coordination incomplete: %v", err)
	}
	return err
}

// Handover runs when this process restarts itself. The marker and the
// stopped watchdog keep the watchdog from restarting the same failure; the
// restart counter is left to the governor. Later Exit calls are no-ops.
func (c *Coordinator) Handover(reason string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.exited {
		return nil
	}
	c.exited = true
	c.logger.Infof("Handing over to successor, reason: %s", reason)

	var err error
	if c.marker != nil {
		err = multierr.Append(err, c.marker.Write())
	}
	if c.watchdog != nil && !c.watchdog.Exited() {
		err = multierr.Append(err, c.watchdog.Stop())
	}
	return err
}

func (c *Coordinator) Exited() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exited
}
