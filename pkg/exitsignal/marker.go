package exitsignal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

const markerContent = "exit-by-user"

// Marker is a per-process file whose presence tells the watchdog that its
// target exited deliberately. Content is never parsed.
type Marker struct {
	path   string
	logger logging.Logger
	mutex  sync.Mutex
}

func NewMarker(path string, logger logging.Logger) *Marker {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Marker{path: path, logger: logger}
}

func (m *Marker) Path() string {
	return m.path
}

// Write creates the marker. Writing an existing marker is a no-op.
func (m *Marker) Write() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			m.logger.Debugf("Exit signal already present: %s", m.path)
			return nil
		}
		return errors.NewIOError("failed to create exit signal", err).WithContext("path", m.path)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s %s\n", markerContent, time.Now().Format(time.RFC3339)); err != nil {
		return errors.NewIOError("failed to write exit signal", err).WithContext("path", m.path)
	}
	m.logger.Infof("Exit signal written: %s", m.path)
	return nil
}

func (m *Marker) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Consume deletes the marker and reports whether it was present
func (m *Marker) Consume() (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := os.Remove(m.path)
	if err == nil {
		m.logger.Infof("Exit signal consumed: %s", m.path)
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.NewIOError("failed to remove exit signal", err).WithContext("path", m.path)
}

// RemoveStale deletes a marker left behind by an earlier process that reused
// this path. It is called once at startup before a watchdog is spawned.
func (m *Marker) RemoveStale() {
	removed, err := m.Consume()
	if err != nil {
		m.logger.Warnf("Failed to remove stale exit signal: %v", err)
		return
	}
	if removed {
		m.logger.Infof("Removed stale exit signal: %s", m.path)
	}
}
