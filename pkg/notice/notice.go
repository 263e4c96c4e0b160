package notice

import (
	"sync"

	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

// Notifier is implemented by the UI layer
type Notifier interface {
	// Notice shows a one-line, non-blocking message
	Notice(message string)
	// BlockingError shows a modal and returns once the user acknowledged it
	BlockingError(title, message string)
}

type loggerNotifier struct {
	logger logging.Logger
}

// NewLoggerNotifier is used where no UI is attached, e.g. in the watchdog
func NewLoggerNotifier(logger logging.Logger) Notifier {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &loggerNotifier{logger: logger}
}

func (n *loggerNotifier) Notice(message string) {
	n.logger.Warnf("Notice: %s", message)
}

func (n *loggerNotifier) BlockingError(title, message string) {
	n.logger.Errorf("%s: %s", title, message)
}

// Recorder keeps every notification, for tests and headless runs
type Recorder struct {
	mutex          sync.Mutex
	Notices        []string
	BlockingErrors []string
}

func (r *Recorder) Notice(message string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Notices = append(r.Notices, message)
}

func (r *Recorder) BlockingError(title, message string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.BlockingErrors = append(r.BlockingErrors, title+": "+message)
}

func (r *Recorder) NoticeCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.Notices)
}

func (r *Recorder) BlockingErrorCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.BlockingErrors)
}
