package crashlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Entry is one diagnostic record
type Entry struct {
	Time    time.Time
	Title   string
	Message string
	Stack   string
}

type Options struct {
	// Path of this run's log file
	Path string
	// FallbackPath receives a single inline line when Path cannot be written
	FallbackPath string
	Identity     process.Identity
	Logger       logging.Logger
}

// Log is the append-only crash log of one run. Record never fails and never
// panics: a crash handler must not crash.
type Log struct {
	path         string
	fallbackPath string
	identity     process.Identity
	runID        string
	logger       logging.Logger
	snapshot     func(identity process.Identity, now time.Time) process.Snapshot

	mutex         sync.Mutex
	headerWritten bool
}

func New(options Options) *Log {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	fallbackPath := options.FallbackPath
	if fallbackPath == "" {
		fallbackPath = filepath.Join(os.TempDir(), processfile.DefaultAppName+"-crash-fallback.log")
	}
	return &Log{
		path:         options.Path,
		fallbackPath: fallbackPath,
		identity:     options.Identity,
		runID:        uuid.NewString(),
		logger:       logger,
		snapshot:     process.TakeSnapshot,
	}
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) FallbackPath() string {
	return l.fallbackPath
}

// RunID identifies this run across the crash log and handoff traffic
func (l *Log) RunID() string {
	return l.runID
}

func (l *Log) Record(entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("Crash log write panicked: %v", r)
		}
	}()

	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	text := l.format(entry)
	if !l.headerWritten {
		text = l.header() + text
	}

	if err := l.appendPrimary(text); err != nil {
		l.logger.Warnf("Failed to write crash log, using fallback, path: %s, error: %v", l.path, err)
		l.appendFallback(entry)
		return
	}
	l.headerWritten = true
}

func (l *Log) header() string {
	var b strings.Builder
	fmt.Fprintf(&b, "==== crash log, run %s ====\n", l.runID)
	fmt.Fprintf(&b, "pid: %d\n", l.identity.PID)
	fmt.Fprintf(&b, "executable: %s\n", l.identity.ExecutablePath)
	if !l.identity.LaunchedAt.IsZero() {
		fmt.Fprintf(&b, "launched: %s\n", l.identity.LaunchedAt.Format(timestampLayout))
	}
	fmt.Fprintf(&b, "platform: %s/%s %s\n\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return b.String()
}

func (l *Log) format(entry Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", entry.Time.Format(timestampLayout), entry.Title)
	if entry.Message != "" {
		fmt.Fprintf(&b, "message: %s\n", entry.Message)
	}
	fmt.Fprintf(&b, "status: %s\n", l.snapshot(l.identity, entry.Time))
	if entry.Stack != "" {
		b.WriteString("stack:\n")
		b.WriteString(strings.TrimRight(entry.Stack, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (l *Log) appendPrimary(text string) error {
	if l.path == "" {
		return fmt.Errorf("crash log path is not set")
	}
	if err := processfile.ValidateDirectory(l.path); err != nil {
		return err
	}
	return appendFile(l.path, text)
}

func (l *Log) appendFallback(entry Entry) {
	line := fmt.Sprintf("%s pid=%d run=%s %s: %s\n",
		entry.Time.Format(time.RFC3339), l.identity.PID, l.runID, entry.Title, firstLine(entry.Message))
	if err := appendFile(l.fallbackPath, line); err != nil {
		// Last resort failed too; nothing left to try
		l.logger.Debugf("Fallback crash log write failed: %v", err)
	}
}

func appendFile(path, text string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(text); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
