package restartgovernor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	counterLockTimeout    = 2 * time.Second
	counterLockRetryDelay = 20 * time.Millisecond
)

// CounterRecord is the persisted form of the restart counter
type CounterRecord struct {
	Count     int       `yaml:"count"`
	UpdatedAt time.Time `yaml:"updated_at"`
	UpdatedBy int       `yaml:"updated_by"`
	Reason    string    `yaml:"reason,omitempty"`
}

// Counter is a durable integer shared by the main process and its watchdog.
// Each update is a read-modify-write under a file lock; the two writers are
// never live at the same time in practice, so a rare duplicate increment is
// tolerated rather than prevented.
type Counter struct {
	path     string
	fileLock *flock.Flock
	logger   logging.Logger

	// a Flock treats a second lock by the same holder as already held
	mutex sync.Mutex
}

func NewCounter(path string, logger logging.Logger) *Counter {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Counter{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger,
	}
}

func (c *Counter) Path() string {
	return c.path
}

func (c *Counter) Get() (int, error) {
	record, err := c.read()
	if err != nil {
		return 0, err
	}
	return record.Count, nil
}

func (c *Counter) Increment(reason string) (int, error) {
	record, err := c.update(func(record *CounterRecord) {
		record.Count++
		record.Reason = reason
	})
	if err != nil {
		return 0, err
	}
	c.logger.Infof("Restart counter incremented, count: %d, reason: %s", record.Count, reason)
	return record.Count, nil
}

func (c *Counter) Reset(reason string) error {
	_, err := c.update(func(record *CounterRecord) {
		record.Count = 0
		record.Reason = reason
	})
	if err != nil {
		return err
	}
	c.logger.Infof("Restart counter reset, reason: %s", reason)
	return nil
}

func (c *Counter) update(modify func(record *CounterRecord)) (CounterRecord, error) {
	if err := processfile.ValidateDirectory(c.path); err != nil {
		return CounterRecord{}, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), counterLockTimeout)
	defer cancel()

	locked, err := c.fileLock.TryLockContext(ctx, counterLockRetryDelay)
	if err != nil {
		return CounterRecord{}, errors.NewIOError("failed to lock restart counter", err).WithContext("path", c.path)
	}
	if !locked {
		return CounterRecord{}, errors.NewTimeoutError("restart counter is locked", nil).WithContext("path", c.path)
	}
	defer func() { _ = c.fileLock.Unlock() }()

	record, err := c.read()
	if err != nil {
		// A corrupt cell must not disable the ceiling forever
		c.logger.Warnf("Restart counter unreadable, starting from zero: %v", err)
		record = CounterRecord{}
	}

	modify(&record)
	record.UpdatedAt = time.Now()
	record.UpdatedBy = os.Getpid()

	if err := c.write(record); err != nil {
		return CounterRecord{}, err
	}
	return record, nil
}

func (c *Counter) read() (CounterRecord, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CounterRecord{}, nil
		}
		return CounterRecord{}, errors.NewIOError("failed to read restart counter", err).WithContext("path", c.path)
	}

	var record CounterRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return CounterRecord{}, errors.NewValidationError("failed to parse restart counter", err).WithContext("path", c.path)
	}
	if record.Count < 0 {
		record.Count = 0
	}
	return record, nil
}

func (c *Counter) write(record CounterRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return errors.NewInternalError("failed to marshal restart counter", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.NewIOError("failed to write restart counter", err).WithContext("path", tmpPath)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewIOError("failed to replace restart counter", err).WithContext("path", c.path)
	}
	return nil
}
