package headless

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/heartbeat"
	"github.com/core-tools/hsu-guardian-go/pkg/instance"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/notice"
	"github.com/core-tools/hsu-guardian-go/pkg/supervisor"
)

const DefaultQueueSize = 64

type Options struct {
	QueueSize int
	// RunDuration ends the loop with a deliberate exit; zero runs until cancelled
	RunDuration time.Duration
	Logger      logging.Logger
}

// App stands in for the desktop UI: a single loop goroutine drains posted
// work, and delivered payloads are recorded instead of shown
type App struct {
	queue       chan func()
	runDuration time.Duration
	notifier    notice.Notifier
	logger      logging.Logger

	mutex    sync.Mutex
	payloads []handoff.Payload
}

func New(options Options) *App {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &App{
		queue:       make(chan func(), queueSize),
		runDuration: options.RunDuration,
		notifier:    notice.NewLoggerNotifier(logger),
		logger:      logger,
	}
}

func (a *App) Dispatcher() heartbeat.Dispatcher {
	return a
}

func (a *App) Notifier() notice.Notifier {
	return a.notifier
}

func (a *App) PayloadHandler() handoff.PayloadHandler {
	return handoff.PayloadHandlerFunc(a.handlePayload)
}

// Post never blocks. Work posted to a full queue is dropped, which a
// heartbeat monitor then sees as a stalled loop.
func (a *App) Post(fn func()) {
	a.tryPost(fn)
}

func (a *App) tryPost(fn func()) bool {
	select {
	case a.queue <- fn:
		return true
	default:
		a.logger.Warnf("UI queue full, dropping work")
		return false
	}
}

func (a *App) handlePayload(ctx context.Context, payload handoff.Payload) error {
	a.logger.Infof("Received %s from PID %d", payload.Kind, payload.SenderPID)
	queued := a.tryPost(func() {
		a.apply(payload)
	})
	if !queued {
		return errors.NewConflictError("UI loop is busy, payload not accepted", nil).
			WithContext("kind", payload.Kind)
	}
	return nil
}

func (a *App) apply(payload handoff.Payload) {
	a.mutex.Lock()
	a.payloads = append(a.payloads, payload)
	a.mutex.Unlock()

	switch payload.Kind {
	case handoff.PayloadOpenDocument:
		a.logger.Infof("Opening document %s", payload.Path)
	case handoff.PayloadEnterWhiteboard:
		a.logger.Infof("Entering whiteboard mode")
	case handoff.PayloadShowFloatingBar:
		a.logger.Infof("Showing floating bar")
	}
}

// Payloads returns everything applied on the loop so far
func (a *App) Payloads() []handoff.Payload {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return append([]handoff.Payload(nil), a.payloads...)
}

func (a *App) Run(ctx context.Context, session *supervisor.Session) error {
	session.SplashShown()
	if payload, ok := instance.PayloadFromArgs(session.Args(), ""); ok {
		session.Guard(func() {
			a.apply(payload)
		})
	}
	session.StartupComplete()
	a.logger.Infof("Headless UI loop running, owner: %t", session.Arbitration().Decision == instance.DecisionOwn)

	var deadline <-chan time.Time
	if a.runDuration > 0 {
		timer := time.NewTimer(a.runDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case fn := <-a.queue:
			session.Guard(fn)
		case <-deadline:
			return session.Exit("run duration elapsed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
