package supervisor

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/exitsignal"
	"github.com/core-tools/hsu-guardian-go/pkg/failureclassifier"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/heartbeat"
	"github.com/core-tools/hsu-guardian-go/pkg/instance"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"
	"github.com/core-tools/hsu-guardian-go/pkg/watchdog"
)

const (
	ExitCodeOK      = 0
	ExitCodeFailure = 1

	handoffShutdownTimeout = 5 * time.Second
)

// Session is the application's handle on supervision while its UI loop runs
type Session struct {
	sc      *Context
	monitor *heartbeat.Monitor
	result  instance.Result
	cancel  context.CancelFunc
}

func (s *Session) Args() launchargs.Args {
	return s.sc.Args
}

// Arbitration reports whether this process owns its launch mode
func (s *Session) Arbitration() instance.Result {
	return s.result
}

func (s *Session) SplashShown() {
	s.monitor.MarkSplashShown(time.Now())
}

func (s *Session) StartupComplete() {
	s.monitor.MarkStartupComplete(time.Now())
}

// Guard runs one unit of UI work; a panic in it is classified, not fatal
func (s *Session) Guard(fn func()) bool {
	return s.sc.Classifier.Guard(failureclassifier.SurfaceUIThread, fn)
}

// Go runs background work whose panics are classified
func (s *Session) Go(fn func()) {
	s.sc.Classifier.Go(fn)
}

func (s *Session) ReportError(err error) {
	s.sc.Classifier.ReportError(failureclassifier.SurfaceUIThread, err)
}

// Exit is the user-confirmed shutdown. It makes the exit distinguishable
// from a crash and ends the UI loop.
func (s *Session) Exit(reason string) error {
	err := s.sc.Coordinator.Exit(reason)
	s.cancel()
	return err
}

// RunMain drives one main-process launch and returns its exit code
func RunMain(ctx context.Context, sc *Context, app App) int {
	logger := sc.logger
	logger.Infof("Starting, pid: %d, platform: %s/%s, mode: %s", sc.Identity.PID, runtime.GOOS, runtime.GOARCH, sc.Args.Mode())

	// A previous process with the same pid may have left its marker behind
	sc.Marker.RemoveStale()

	result, err := sc.Arbiter.Arbitrate(ctx, sc.Args)
	if err != nil {
		logger.Errorf("Instance arbitration failed: %v", err)
		return ExitCodeFailure
	}
	if result.Decision == instance.DecisionYield {
		// Only the marker: the owner's restart counter is not ours to reset
		if err := sc.Marker.Write(); err != nil {
			logger.Warnf("Failed to write exit marker: %v", err)
		}
		sc.Classifier.HandleExit(ExitCodeOK)
		return ExitCodeOK
	}
	defer func() {
		if err := sc.Arbiter.Release(); err != nil {
			logger.Warnf("Failed to release instance lock: %v", err)
		}
	}()

	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopSignals := sc.Classifier.InstallSignalHandlers(appCtx, func(os.Signal) {
		cancel()
	})
	defer stopSignals()

	monitor := heartbeat.NewMonitor(sc.Config.Heartbeat, app.Dispatcher(), sc.Settings, sc.Governor, logger)
	monitor.Start(appCtx)
	defer monitor.Stop()

	sc.startWatchdog()

	if result.Decision == instance.DecisionOwn {
		stopHandoff := sc.startHandoff(appCtx, result.Mode, app.PayloadHandler())
		defer stopHandoff()
	}

	sc.Governor.ScheduleCleanRunReset(appCtx, sc.Config.Restart.CleanRunResetAfter)

	session := &Session{sc: sc, monitor: monitor, result: result, cancel: cancel}

	var runErr error
	panicked := sc.Classifier.Guard(failureclassifier.SurfaceUIThread, func() {
		runErr = app.Run(appCtx, session)
	})

	code := ExitCodeOK
	switch {
	case panicked:
		// The loop cannot be resumed; no marker, so a watchdog restarts us
		logger.Errorf("UI loop ended by an unhandled failure")
		code = ExitCodeFailure
	case runErr != nil && appCtx.Err() == nil:
		sc.Classifier.ReportError(failureclassifier.SurfaceUIThread, runErr)
		code = ExitCodeFailure
	}

	if !sc.Coordinator.Exited() {
		logger.Warnf("UI loop ended without a deliberate exit")
	}
	sc.Classifier.HandleExit(code)
	return code
}

func (sc *Context) startWatchdog() {
	action := sc.Settings.CurrentCrashAction()
	if action != settings.CrashActionSilentRestart {
		sc.logger.Infof("Crash action is %s, not starting watchdog", action)
		return
	}
	handle, err := sc.WatchdogSpawner.SpawnWatchdog(sc.Identity, sc.Marker.Path())
	if err != nil {
		sc.logger.Errorf("Failed to start watchdog, continuing unsupervised: %v", err)
		return
	}
	sc.Coordinator.SetWatchdog(handle)
}

func (sc *Context) startHandoff(ctx context.Context, mode string, handler handoff.PayloadHandler) func() {
	endpoint := handoff.NewEndpoint(sc.Files, mode, sc.Config.Instance.Transport)
	server, err := handoff.NewServer(endpoint, handler, sc.logger)
	if err == nil {
		err = server.Start(ctx)
	}
	if err != nil {
		sc.logger.Errorf("Failed to start handoff server, later launches cannot forward work: %v", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), handoffShutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			sc.logger.Warnf("Failed to stop handoff server: %v", err)
		}
	}
}

// RunWatchdog drives the watchdog process. It always returns ExitCodeOK;
// its own failures must never look like a crash of the application.
func RunWatchdog(ctx context.Context, config *Config, args launchargs.Args, deps Dependencies, logger logging.Logger) int {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	logger.Infof("Watchdog starting, target PID: %d, marker: %s", args.TargetPID, args.ExitMarkerPath)

	files := processfile.NewProcessFileManager(config.Files, logger)
	settingsPath := config.SettingsFile
	if settingsPath == "" {
		settingsPath = files.GenerateSettingsFilePath()
	}

	relauncher := deps.Relauncher
	if relauncher == nil {
		identity, err := process.CurrentIdentity(time.Now())
		if err != nil {
			logger.Errorf("Watchdog cannot resolve executable, exiting: %v", err)
			return ExitCodeOK
		}
		relauncher = &restartgovernor.ProcessRelauncher{
			Identity:       identity,
			PredecessorPID: args.TargetPID,
			Args:           forwardedArgs(args),
			Logger:         logger,
		}
	}

	exiter := deps.Exiter
	if exiter == nil {
		exiter = restartgovernor.ExitFunc(func(code int) {
			logger.Debugf("Governor finished with code %d, watchdog exits on its own", code)
		})
	}

	governor := restartgovernor.NewGovernor(restartgovernor.Options{
		Counter:     restartgovernor.NewCounter(files.GenerateRestartCounterPath(), logger),
		MaxRestarts: config.Restart.MaxRestarts,
		Relauncher:  relauncher,
		Exiter:      exiter,
		Notifier:    deps.Notifier,
		Logger:      logger,
	})

	observer := deps.ExitObserver
	if observer == nil {
		observer = process.NewExitObserver()
	}

	w := watchdog.New(watchdog.Options{
		TargetPID:    args.TargetPID,
		Marker:       exitsignal.NewMarker(args.ExitMarkerPath, logger),
		Probe:        deps.Probe,
		Settings:     settings.NewStore(settingsPath, logger),
		Restarter:    governor,
		ExitObserver: observer,
		PollInterval: config.Watchdog.PollInterval,
		Logger:       logger,
	})

	final := w.Run(ctx)
	logger.Infof("Watchdog finished, state: %s", final)
	return ExitCodeOK
}
