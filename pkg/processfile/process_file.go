package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

// ServiceContext selects the platform root the guardian keeps its files under
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

const (
	DefaultAppName = "hsu-guardian"

	CrashDirectoryName = "Crashes"
	crashLogTimeLayout = "20060102-150405"
)

type ProcessFileConfig struct {
	BaseDirectory   string         `yaml:"base_directory,omitempty"`
	ServiceContext  ServiceContext `yaml:"service_context,omitempty"`
	AppName         string         `yaml:"app_name,omitempty"`
	UseSubdirectory bool           `yaml:"use_subdirectory,omitempty"`
}

// ProcessFileManager resolves every on-disk location shared between the
// main instance and its watchdog
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &ProcessFileManager{config: config, logger: logger}
}

func (m *ProcessFileManager) AppName() string {
	return m.config.AppName
}

// GenerateDataDirectoryPath returns the root directory for persisted state
func (m *ProcessFileManager) GenerateDataDirectoryPath() string {
	base := m.config.BaseDirectory
	if base == "" {
		base = defaultBaseDirectory(m.config.ServiceContext)
		// Platform roots are shared, always separate by app name
		return filepath.Join(base, m.config.AppName)
	}
	if m.config.UseSubdirectory {
		return filepath.Join(base, m.config.AppName)
	}
	return base
}

func (m *ProcessFileManager) GeneratePIDFilePath(processID string) string {
	return filepath.Join(m.GenerateDataDirectoryPath(), processID+".pid")
}

func (m *ProcessFileManager) GeneratePortFilePath(processID string) string {
	return filepath.Join(m.GenerateDataDirectoryPath(), processID+".port")
}

func (m *ProcessFileManager) GenerateInstanceLockPath(mode string) string {
	return filepath.Join(m.GenerateDataDirectoryPath(), fmt.Sprintf("%s-%s.lock", m.config.AppName, mode))
}

func (m *ProcessFileManager) GenerateHandoffSocketPath(mode string) string {
	return filepath.Join(m.GenerateDataDirectoryPath(), fmt.Sprintf("handoff-%s.sock", mode))
}

func (m *ProcessFileManager) GenerateRestartCounterPath() string {
	return filepath.Join(m.GenerateDataDirectoryPath(), "restart_counter.yaml")
}

func (m *ProcessFileManager) GenerateSettingsFilePath() string {
	return filepath.Join(m.GenerateDataDirectoryPath(), "settings.yaml")
}

func (m *ProcessFileManager) GenerateLogFilePath(name string) string {
	return filepath.Join(m.GenerateDataDirectoryPath(), "logs", name)
}

func (m *ProcessFileManager) GenerateCrashDirectoryPath() string {
	return filepath.Join(m.GenerateDataDirectoryPath(), CrashDirectoryName)
}

// GenerateCrashLogFilePath names the per-run crash log by the run's start time
func (m *ProcessFileManager) GenerateCrashLogFilePath(runStart time.Time) string {
	return filepath.Join(m.GenerateCrashDirectoryPath(), runStart.Format(crashLogTimeLayout)+".log")
}

// GenerateExitMarkerPath is always under the system temporary directory so
// that the watchdog can find it without any configuration
func (m *ProcessFileManager) GenerateExitMarkerPath(pid int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-exit-%d.signal", m.config.AppName, pid))
}

func (m *ProcessFileManager) WritePIDFile(processID string, pid int) error {
	return m.writeIntFile(m.GeneratePIDFilePath(processID), pid)
}

func (m *ProcessFileManager) ReadPIDFile(processID string) (int, error) {
	path := m.GeneratePIDFilePath(processID)
	pid, err := readIntFile(path)
	if err != nil {
		return 0, errors.NewIOError("invalid PID in PID file", err).WithContext("path", path)
	}
	return pid, nil
}

func (m *ProcessFileManager) WritePortFile(processID string, port int) error {
	return m.writeIntFile(m.GeneratePortFilePath(processID), port)
}

func (m *ProcessFileManager) ReadPortFile(processID string) (int, error) {
	path := m.GeneratePortFilePath(processID)
	port, err := readIntFile(path)
	if err != nil {
		return 0, errors.NewIOError("invalid port in port file", err).WithContext("path", path)
	}
	return port, nil
}

func (m *ProcessFileManager) RemovePIDFile(processID string) {
	m.removeFile(m.GeneratePIDFilePath(processID))
}

func (m *ProcessFileManager) RemovePortFile(processID string) {
	m.removeFile(m.GeneratePortFilePath(processID))
}

func (m *ProcessFileManager) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove file: %s, error: %v", path, err)
	}
}

func (m *ProcessFileManager) writeIntFile(path string, value int) error {
	if err := ValidateDirectory(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)+"\n"), 0644); err != nil {
		return errors.NewIOError("failed to write file", err).WithContext("path", path)
	}
	m.logger.Debugf("File written: %s, value: %d", path, value)
	return nil
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// ValidateDirectory ensures the parent directory of path exists
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
	}
	return nil
}

// GetRecommendedProcessFileConfig maps a deployment scenario to a config
func GetRecommendedProcessFileConfig(scenario, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch scenario {
	case "system":
		return ProcessFileConfig{ServiceContext: SystemService, AppName: appName, UseSubdirectory: true}
	case "session":
		return ProcessFileConfig{ServiceContext: SessionService, AppName: appName, UseSubdirectory: false}
	case "development":
		cwd, err := os.Getwd()
		if err != nil {
			cwd = os.TempDir()
		}
		return ProcessFileConfig{
			ServiceContext:  UserService,
			AppName:         appName,
			BaseDirectory:   filepath.Join(cwd, ".guardian"),
			UseSubdirectory: false,
		}
	default:
		return ProcessFileConfig{ServiceContext: UserService, AppName: appName, UseSubdirectory: true}
	}
}

func defaultBaseDirectory(serviceContext ServiceContext) string {
	switch serviceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			if programData := os.Getenv("ProgramData"); programData != "" {
				return programData
			}
			return `C:\ProgramData`
		case "darwin":
			return "/Library/Application Support"
		default:
			return "/var/lib"
		}
	case SessionService:
		return os.TempDir()
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return dir
		}
		return os.TempDir()
	}
}
