package launchargs

import (
	"strconv"
	"strings"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"

	flags "github.com/jessevdk/go-flags"
)

// Launch modes; each has its own single-instance lock
const (
	ModeNormal = "normal"
	ModeUpdate = "update"
	ModeFinal  = "final"
)

type Options struct {
	Watchdog          bool   `long:"watchdog" description:"Run as watchdog: --watchdog <target-pid> <exit-marker-path>"`
	UpdateMode        bool   `long:"update-mode" description:"Launched by the updater while the previous version is still running"`
	FinalApp          bool   `long:"final-app" description:"First launch after an update completed"`
	SkipInstanceCheck bool   `long:"skip-instance-check" description:"Do not yield to a running instance (set on automatic restarts)"`
	PredecessorPID    int    `long:"predecessor-pid" description:"Instance replaced by this automatic restart"`
	MultiInstance     bool   `long:"multi-instance" description:"Allow running next to an existing instance"`
	Board             bool   `long:"board" description:"Enter whiteboard mode"`
	Show              bool   `long:"show" description:"Show the floating bar"`
	Config            string `long:"config" short:"c" description:"Supervisor configuration file path (YAML)"`
	RunDuration       int    `long:"run-duration" description:"Seconds to run before exiting deliberately (debug feature)"`
	LogLevel          string `long:"log-level" description:"Log level (debug, info, warn, error), overrides the configuration file"`
}

// Args is a parsed launch argument vector
type Args struct {
	Options

	// Set in watchdog mode
	TargetPID      int
	ExitMarkerPath string

	// DocumentPath is the first positional argument outside watchdog mode
	DocumentPath string
}

func Parse(argv []string) (Args, error) {
	var args Args
	parser := flags.NewParser(&args.Options, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	rest, err := parser.ParseArgs(argv)
	if err != nil {
		return Args{}, err
	}

	positional := make([]string, 0, len(rest))
	for _, arg := range rest {
		// Unknown flags are tolerated, shell integrations add their own
		if strings.HasPrefix(arg, "-") {
			continue
		}
		positional = append(positional, arg)
	}

	if args.Watchdog {
		if len(positional) < 2 {
			return Args{}, errors.NewValidationError("watchdog mode requires a target PID and an exit marker path", nil).
				WithContext("args", strings.Join(argv, " "))
		}
		pid, err := strconv.Atoi(positional[0])
		if err != nil || pid <= 0 {
			return Args{}, errors.NewValidationError("invalid watchdog target PID", err).
				WithContext("pid", positional[0])
		}
		args.TargetPID = pid
		args.ExitMarkerPath = positional[1]
		return args, nil
	}

	if len(positional) > 0 {
		args.DocumentPath = positional[0]
	}
	return args, nil
}

// IsHelp reports whether err is the go-flags help request
func IsHelp(err error) bool {
	flagsErr, ok := err.(*flags.Error)
	return ok && flagsErr.Type == flags.ErrHelp
}

// Mode names the single-instance lock this launch competes for
func (a Args) Mode() string {
	switch {
	case a.UpdateMode:
		return ModeUpdate
	case a.FinalApp:
		return ModeFinal
	default:
		return ModeNormal
	}
}

// WatchdogArgs builds the argument vector of a watchdog for targetPID
func WatchdogArgs(targetPID int, exitMarkerPath string) []string {
	return []string{"--watchdog", strconv.Itoa(targetPID), exitMarkerPath}
}
