package supervisor

import (
	"context"

	"github.com/core-tools/hsu-guardian-go/pkg/crashlog"
	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/exitcoord"
	"github.com/core-tools/hsu-guardian-go/pkg/exitsignal"
	"github.com/core-tools/hsu-guardian-go/pkg/failureclassifier"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/heartbeat"
	"github.com/core-tools/hsu-guardian-go/pkg/instance"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/notice"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"
	"github.com/core-tools/hsu-guardian-go/pkg/watchdog"
)

// App is the desktop application hosted by the supervisor. The supervisor
// never touches UI state directly; it only posts through the dispatcher and
// hands over delivered payloads.
type App interface {
	// Dispatcher posts work onto the UI loop
	Dispatcher() heartbeat.Dispatcher
	Notifier() notice.Notifier
	PayloadHandler() handoff.PayloadHandler
	// Run blocks on the UI loop until the user quits or ctx is cancelled
	Run(ctx context.Context, session *Session) error
}

// WatchdogSpawner starts the watchdog sibling for target
type WatchdogSpawner interface {
	SpawnWatchdog(target process.Identity, markerPath string) (exitcoord.WatchdogHandle, error)
}

type launcherSpawner struct {
	launcher *watchdog.Launcher
}

func (s launcherSpawner) SpawnWatchdog(target process.Identity, markerPath string) (exitcoord.WatchdogHandle, error) {
	handle, err := s.launcher.Spawn(target, markerPath)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Dependencies replaces process-level side effects, mostly for tests.
// Zero values select the real implementations.
type Dependencies struct {
	Exiter          restartgovernor.Exiter
	Relauncher      restartgovernor.Relauncher
	WatchdogSpawner WatchdogSpawner
	Notifier        notice.Notifier

	// Watchdog mode
	Probe        watchdog.ProcessProbe
	ExitObserver process.ExitObserver
}

// Context holds every supervision component of one process
type Context struct {
	Config   *Config
	Args     launchargs.Args
	Identity process.Identity
	Files    *processfile.ProcessFileManager
	Settings *settings.Store

	Counter     *restartgovernor.Counter
	Governor    *restartgovernor.Governor
	Marker      *exitsignal.Marker
	CrashLog    *crashlog.Log
	Classifier  *failureclassifier.Classifier
	Arbiter     *instance.Arbiter
	Coordinator *exitcoord.Coordinator

	WatchdogSpawner WatchdogSpawner

	logger logging.Logger
}

// forwardedArgs are carried over to relaunched instances and the watchdog
func forwardedArgs(args launchargs.Args) []string {
	var forwarded []string
	if args.Config != "" {
		forwarded = append(forwarded, "--config", args.Config)
	}
	if args.LogLevel != "" {
		forwarded = append(forwarded, "--log-level", args.LogLevel)
	}
	return forwarded
}

func NewContext(config *Config, args launchargs.Args, identity process.Identity, deps Dependencies, logger logging.Logger) (*Context, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	files := processfile.NewProcessFileManager(config.Files, logger)

	settingsPath := config.SettingsFile
	if settingsPath == "" {
		settingsPath = files.GenerateSettingsFilePath()
	}
	store := settings.NewStore(settingsPath, logger)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notice.NewLoggerNotifier(logger)
	}

	relauncher := deps.Relauncher
	if relauncher == nil {
		relauncher = &restartgovernor.ProcessRelauncher{
			Identity:       identity,
			PredecessorPID: identity.PID,
			Args:           forwardedArgs(args),
			Logger:         logger,
		}
	}

	counter := restartgovernor.NewCounter(files.GenerateRestartCounterPath(), logger)
	marker := exitsignal.NewMarker(files.GenerateExitMarkerPath(identity.PID), logger)
	coordinator := exitcoord.NewCoordinator(counter, marker, logger)

	governor := restartgovernor.NewGovernor(restartgovernor.Options{
		Counter:     counter,
		MaxRestarts: config.Restart.MaxRestarts,
		Relauncher:  relauncher,
		Exiter:      deps.Exiter,
		Notifier:    notifier,
		Logger:      logger,
		Handover:    coordinator,
	})

	filter, err := config.BenignFilter()
	if err != nil {
		return nil, err
	}

	crashLog := crashlog.New(crashlog.Options{
		Path:     files.GenerateCrashLogFilePath(identity.LaunchedAt),
		Identity: identity,
		Logger:   logger,
	})

	classifier := failureclassifier.NewClassifier(failureclassifier.Options{
		Filter:    filter,
		CrashLog:  crashLog,
		Notifier:  notifier,
		Policy:    store,
		Restarter: governor,
		Logger:    logger,
	})

	spawner := deps.WatchdogSpawner
	if spawner == nil {
		spawner = launcherSpawner{launcher: &watchdog.Launcher{
			ExecutablePath: identity.ExecutablePath,
			ExtraArgs:      forwardedArgs(args),
			Logger:         logger,
		}}
	}

	return &Context{
		Config:          config,
		Args:            args,
		Identity:        identity,
		Files:           files,
		Settings:        store,
		Counter:         counter,
		Governor:        governor,
		Marker:          marker,
		CrashLog:        crashLog,
		Classifier:      classifier,
		Arbiter:         instance.NewArbiter(files, config.Instance, crashLog.RunID(), logger),
		Coordinator:     coordinator,
		WatchdogSpawner: spawner,
		logger:          logger,
	}, nil
}
