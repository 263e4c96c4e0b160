package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/headless"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/logging/zaplogging"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
	"github.com/core-tools/hsu-guardian-go/pkg/supervisor"
)

func logPrefix(watchdogMode bool) string {
	if watchdogMode {
		return fmt.Sprintf("[watchdog %d] ", os.Getpid())
	}
	return fmt.Sprintf("[guardian %d] ", os.Getpid())
}

// setupFailureCode is the exit code when the process cannot even start
// supervising. A watchdog exit must never look like an application crash.
func setupFailureCode(watchdogMode bool) int {
	if watchdogMode {
		return supervisor.ExitCodeOK
	}
	return supervisor.ExitCodeFailure
}

func main() {
	launchedAt := time.Now()

	args, err := launchargs.Parse(os.Args[1:])
	if err != nil {
		if launchargs.IsHelp(err) {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := supervisor.ResolveConfig(args.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(setupFailureCode(args.Watchdog))
	}

	files := processfile.NewProcessFileManager(config.Files, nil)
	logger, cleanup, err := zaplogging.NewLogger(logPrefix(args.Watchdog), config.LoggerOptions(files, args.Watchdog, args.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(setupFailureCode(args.Watchdog))
	}

	ctx := context.Background()

	if args.Watchdog {
		code := supervisor.RunWatchdog(ctx, config, args, supervisor.Dependencies{}, logger)
		cleanup()
		os.Exit(code)
	}

	identity, err := process.CurrentIdentity(launchedAt)
	if err != nil {
		logger.Errorf("Failed to resolve process identity: %v", err)
		cleanup()
		os.Exit(1)
	}

	app := headless.New(headless.Options{
		RunDuration: time.Duration(args.RunDuration) * time.Second,
		Logger:      logger,
	})

	sc, err := supervisor.NewContext(config, args, identity, supervisor.Dependencies{Notifier: app.Notifier()}, logger)
	if err != nil {
		logger.Errorf("Failed to initialize supervision: %v", err)
		cleanup()
		os.Exit(1)
	}

	code := supervisor.RunMain(ctx, sc, app)
	cleanup()
	os.Exit(code)
}
