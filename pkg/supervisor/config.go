package supervisor

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/failureclassifier"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/heartbeat"
	"github.com/core-tools/hsu-guardian-go/pkg/instance"
	"github.com/core-tools/hsu-guardian-go/pkg/logging/zaplogging"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/watchdog"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCleanRunResetAfter = 2 * time.Minute

	mainLogFileName     = "guardian.log"
	watchdogLogFileName = "watchdog.log"
)

// Config is the top-level guardian.yaml document
type Config struct {
	Files     processfile.ProcessFileConfig `yaml:"files"`
	Heartbeat heartbeat.Config              `yaml:"heartbeat"`
	Instance  instance.Config               `yaml:"instance"`
	Restart   RestartConfig                 `yaml:"restart"`
	Watchdog  WatchdogConfig                `yaml:"watchdog"`
	Logging   LoggingConfig                 `yaml:"logging"`

	// SettingsFile overrides the location of the persisted user settings
	SettingsFile string `yaml:"settings_file,omitempty"`

	// BenignPatterns replace the built-in benign failure patterns when set
	BenignPatterns []failureclassifier.BenignPattern `yaml:"benign_patterns,omitempty"`

	// BenignPatternsFile adds the benign_patterns list of a separate YAML file
	BenignPatternsFile string `yaml:"benign_patterns_file,omitempty"`
}

type RestartConfig struct {
	MaxRestarts int `yaml:"max_restarts,omitempty"`
	// CleanRunResetAfter zeroes the restart counter once an instance has
	// stayed up this long; negative disables the reset
	CleanRunResetAfter time.Duration `yaml:"clean_run_reset_after,omitempty"`
}

type WatchdogConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	// Directory holds guardian.log and watchdog.log; defaults to the data directory
	Directory string `yaml:"directory,omitempty"`
	// Console keeps stderr output alongside the log file
	Console *bool `yaml:"console,omitempty"`
}

// DefaultConfig is used when no configuration file is given
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.Files.AppName == "" {
		config.Files.AppName = processfile.DefaultAppName
	}
	if config.Files.ServiceContext == "" {
		config.Files.ServiceContext = processfile.UserService
	}

	config.Heartbeat = config.Heartbeat.WithDefaults()
	config.Instance = config.Instance.WithDefaults()

	if config.Restart.MaxRestarts == 0 {
		config.Restart.MaxRestarts = restartgovernor.DefaultMaxRestarts
	}
	if config.Restart.CleanRunResetAfter == 0 {
		config.Restart.CleanRunResetAfter = DefaultCleanRunResetAfter
	}

	if config.Watchdog.PollInterval == 0 {
		config.Watchdog.PollInterval = watchdog.DefaultPollInterval
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Console == nil {
		console := true
		config.Logging.Console = &console
	}
}

func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := config.Heartbeat.Validate(); err != nil {
		return errors.NewValidationError("invalid heartbeat configuration", err)
	}

	if config.Restart.MaxRestarts < 0 {
		return errors.NewValidationError("max restarts cannot be negative", nil).
			WithContext("max_restarts", config.Restart.MaxRestarts)
	}
	if config.Watchdog.PollInterval < 0 {
		return errors.NewValidationError("watchdog poll interval cannot be negative", nil).
			WithContext("poll_interval", config.Watchdog.PollInterval)
	}
	if config.Instance.UpdateHandoffDelay < 0 || config.Instance.RelaunchLockWait < 0 || config.Instance.DeliveryTimeout < 0 {
		return errors.NewValidationError("instance timings cannot be negative", nil)
	}

	switch config.Instance.Transport {
	case handoff.TransportAuto, handoff.TransportUDS, handoff.TransportTCP:
	default:
		return errors.NewValidationError("unsupported handoff transport", nil).
			WithContext("transport", config.Instance.Transport)
	}

	for i, pattern := range config.BenignPatterns {
		if err := pattern.Validate(); err != nil {
			return errors.NewValidationError("invalid benign pattern", err).WithContext("index", i)
		}
	}

	if _, err := zaplogging.ParseLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError("invalid log level", err).WithContext("level", config.Logging.Level)
	}

	return nil
}

// ResolveConfig loads filename or falls back to the defaults, then validates
func ResolveConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if filename != "" {
		var err error
		config, err = LoadConfigFromFile(filename)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// BenignFilter builds the classifier filter from the configured patterns
func (c *Config) BenignFilter() (failureclassifier.BenignFilter, error) {
	patterns := c.BenignPatterns
	if c.BenignPatternsFile != "" {
		loaded, err := failureclassifier.LoadPatternFilterFromFile(c.BenignPatternsFile)
		if err != nil {
			return nil, err
		}
		patterns = append(append([]failureclassifier.BenignPattern(nil), patterns...), loaded.Patterns()...)
	}
	if len(patterns) == 0 {
		return failureclassifier.NewDefaultPatternFilter(), nil
	}
	filter, err := failureclassifier.NewPatternFilter(patterns)
	if err != nil {
		return nil, err
	}
	return filter, nil
}

// LoggerOptions resolves the zap options for the main or watchdog process
func (c *Config) LoggerOptions(files *processfile.ProcessFileManager, watchdogMode bool, levelOverride string) zaplogging.Options {
	name := mainLogFileName
	if watchdogMode {
		name = watchdogLogFileName
	}
	path := files.GenerateLogFilePath(name)
	if c.Logging.Directory != "" {
		path = filepath.Join(c.Logging.Directory, name)
	}
	level := c.Logging.Level
	if levelOverride != "" {
		level = levelOverride
	}
	console := c.Logging.Console == nil || *c.Logging.Console
	return zaplogging.Options{
		Level:    level,
		FilePath: path,
		Console:  console,
	}
}
