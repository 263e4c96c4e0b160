package instance

import (
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
)

// PayloadFromArgs picks the work a yielding launch forwards to the owner.
// A document wins over the whiteboard directive, which wins over the floating bar.
func PayloadFromArgs(args launchargs.Args, runID string) (handoff.Payload, bool) {
	payload := handoff.Payload{
		SenderPID:   os.Getpid(),
		SenderRunID: runID,
		SentAt:      time.Now(),
	}

	switch {
	case args.DocumentPath != "":
		payload.Kind = handoff.PayloadOpenDocument
		payload.Path = args.DocumentPath
		// The owner may run in another working directory
		if absolute, err := filepath.Abs(args.DocumentPath); err == nil {
			payload.Path = absolute
		}
	case args.Board:
		payload.Kind = handoff.PayloadEnterWhiteboard
	case args.Show:
		payload.Kind = handoff.PayloadShowFloatingBar
	default:
		return handoff.Payload{}, false
	}
	return payload, true
}
