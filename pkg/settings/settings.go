package settings

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"

	"gopkg.in/yaml.v3"
)

// CrashAction is the user's choice of what happens after a crash or hang
type CrashAction string

const (
	CrashActionSilentRestart CrashAction = "silent_restart"
	CrashActionNoAction      CrashAction = "no_action"
)

func ParseCrashAction(value string) (CrashAction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(CrashActionSilentRestart), "silentrestart":
		return CrashActionSilentRestart, nil
	case string(CrashActionNoAction), "noaction":
		return CrashActionNoAction, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown crash action %q", value), nil)
	}
}

func (a CrashAction) String() string {
	return string(a)
}

func (a CrashAction) RestartsAutomatically() bool {
	return a == CrashActionSilentRestart
}

func (a *CrashAction) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCrashAction(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Settings is the subset of the application's persisted settings read by the
// supervision core. The settings UI owns writes.
type Settings struct {
	CrashAction CrashAction `yaml:"crash_action"`
	// TopmostAccessibilityMode runs the UI under a separately managed
	// always-on-top host; the watchdog must not restart it
	TopmostAccessibilityMode bool `yaml:"topmost_accessibility_mode,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{CrashAction: CrashActionSilentRestart}
}

// PolicySource yields the current crash action. Implementations must not cache:
// callers rely on every call reflecting the latest persisted value.
type PolicySource interface {
	CurrentCrashAction() CrashAction
}

// Store reads and writes the settings file. Last write wins.
type Store struct {
	path   string
	logger logging.Logger
	mutex  sync.Mutex
}

func NewStore(path string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the settings fresh from disk; a missing file yields defaults
func (s *Store) Load() (Settings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), errors.NewIOError("failed to read settings", err).WithContext("path", s.path)
	}

	loaded := DefaultSettings()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return DefaultSettings(), errors.NewValidationError("failed to parse settings", err).WithContext("path", s.path)
	}
	if loaded.CrashAction == "" {
		loaded.CrashAction = CrashActionSilentRestart
	}
	return loaded, nil
}

func (s *Store) Save(value Settings) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := yaml.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to marshal settings", err)
	}
	if err := processfile.ValidateDirectory(s.path); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.NewIOError("failed to write settings", err).WithContext("path", s.path)
	}
	return nil
}

// CurrentCrashAction re-reads the file on every call. Read errors fall back
// to the default policy and are logged.
func (s *Store) CurrentCrashAction() CrashAction {
	loaded, err := s.Load()
	if err != nil {
		s.logger.Warnf("Failed to load settings, using default crash action: %v", err)
	}
	return loaded.CrashAction
}

// StaticPolicy is a fixed PolicySource
type StaticPolicy CrashAction

func (p StaticPolicy) CurrentCrashAction() CrashAction {
	return CrashAction(p)
}
