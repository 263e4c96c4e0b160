package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"
)

const (
	DefaultBeatInterval         = 1 * time.Second
	DefaultEvaluateInterval     = 3 * time.Second
	DefaultRuntimeHangThreshold = 10 * time.Second
	DefaultStartupHangCeiling   = 2 * time.Minute
)

// Dispatcher runs fn on the UI loop. If the loop is stalled fn does not run,
// which is what makes the heartbeat a measure of UI responsiveness. Post
// must not block the caller.
type Dispatcher interface {
	Post(fn func())
}

type RestartRequester interface {
	RequestRestart(reason string) restartgovernor.Outcome
}

type Config struct {
	BeatInterval         time.Duration `yaml:"beat_interval"`
	EvaluateInterval     time.Duration `yaml:"evaluate_interval"`
	RuntimeHangThreshold time.Duration `yaml:"runtime_hang_threshold"`
	StartupHangCeiling   time.Duration `yaml:"startup_hang_ceiling"`
}

// WithDefaults fills unset intervals
func (c Config) WithDefaults() Config {
	if c.BeatInterval == 0 {
		c.BeatInterval = DefaultBeatInterval
	}
	if c.EvaluateInterval == 0 {
		c.EvaluateInterval = DefaultEvaluateInterval
	}
	if c.RuntimeHangThreshold == 0 {
		c.RuntimeHangThreshold = DefaultRuntimeHangThreshold
	}
	if c.StartupHangCeiling == 0 {
		c.StartupHangCeiling = DefaultStartupHangCeiling
	}
	return c
}

func (c Config) Validate() error {
	if c.BeatInterval < 0 || c.EvaluateInterval < 0 || c.RuntimeHangThreshold < 0 || c.StartupHangCeiling < 0 {
		return errors.NewValidationError("heartbeat intervals must not be negative", nil)
	}
	if c.RuntimeHangThreshold != 0 && c.BeatInterval >= c.RuntimeHangThreshold {
		return errors.NewValidationError("beat interval must be shorter than the runtime hang threshold", nil).
			WithContext("beat_interval", c.BeatInterval).
			WithContext("runtime_hang_threshold", c.RuntimeHangThreshold)
	}
	return nil
}

type Verdict string

const (
	VerdictHealthy     Verdict = "healthy"
	VerdictStartupHang Verdict = "startup_hang"
	VerdictRuntimeHang Verdict = "runtime_hang"
)

// State is a copy of the monitor's state
type State struct {
	LastHeartbeat     time.Time
	StartupComplete   bool
	StartupCompleteAt time.Time
	SplashStartTime   *time.Time
	HangReported      bool
}

type Monitor struct {
	config     Config
	dispatcher Dispatcher
	policy     settings.PolicySource
	restarter  RestartRequester
	logger     logging.Logger

	mutex             sync.Mutex
	lastHeartbeat     time.Time
	startupComplete   bool
	startupCompleteAt time.Time
	splashStartTime   *time.Time
	// runtimeHangReported is re-armed by the next beat; a startup hang is
	// reported at most once per process
	runtimeHangReported bool
	startupHangReported bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(config Config, dispatcher Dispatcher, policy settings.PolicySource, restarter RestartRequester, logger logging.Logger) *Monitor {
	config = config.WithDefaults()
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Monitor{
		config:        config,
		dispatcher:    dispatcher,
		policy:        policy,
		restarter:     restarter,
		logger:        logger,
		lastHeartbeat: time.Now(),
		stopChan:      make(chan struct{}),
	}
}

// Beat records that the UI loop is responsive
func (m *Monitor) Beat(now time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if now.After(m.lastHeartbeat) {
		m.lastHeartbeat = now
	}
	if m.runtimeHangReported {
		m.logger.Infof("Heartbeat resumed after hang")
		m.runtimeHangReported = false
	}
}

func (m *Monitor) MarkSplashShown(now time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.startupComplete {
		return
	}
	shownAt := now
	m.splashStartTime = &shownAt
}

func (m *Monitor) MarkStartupComplete(now time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.startupComplete {
		return
	}
	m.startupComplete = true
	m.startupCompleteAt = now
	// Restart the runtime window so the startup duration is not counted as a hang
	if now.After(m.lastHeartbeat) {
		m.lastHeartbeat = now
	}
	m.logger.Infof("Startup complete")
}

func (m *Monitor) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	state := State{
		LastHeartbeat:     m.lastHeartbeat,
		StartupComplete:   m.startupComplete,
		StartupCompleteAt: m.startupCompleteAt,
		HangReported:      m.runtimeHangReported || m.startupHangReported,
	}
	if m.splashStartTime != nil {
		splash := *m.splashStartTime
		state.SplashStartTime = &splash
	}
	return state
}

// Evaluate runs both hang checks at now and acts on the first new hang
func (m *Monitor) Evaluate(now time.Time) Verdict {
	verdict, reason, report := m.check(now)
	if report {
		m.onHang(verdict, reason)
	}
	return verdict
}

func (m *Monitor) check(now time.Time) (Verdict, string, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.startupComplete {
		if m.splashStartTime == nil {
			return VerdictHealthy, "", false
		}
		elapsed := now.Sub(*m.splashStartTime)
		if elapsed <= m.config.StartupHangCeiling {
			return VerdictHealthy, "", false
		}
		reason := fmt.Sprintf("startup did not complete within %s", m.config.StartupHangCeiling)
		if m.startupHangReported {
			return VerdictStartupHang, reason, false
		}
		m.startupHangReported = true
		return VerdictStartupHang, reason, true
	}

	stale := now.Sub(m.lastHeartbeat)
	if stale <= m.config.RuntimeHangThreshold {
		return VerdictHealthy, "", false
	}
	reason := fmt.Sprintf("UI unresponsive for %s", stale.Round(time.Millisecond))
	if m.runtimeHangReported {
		return VerdictRuntimeHang, reason, false
	}
	m.runtimeHangReported = true
	return VerdictRuntimeHang, reason, true
}

func (m *Monitor) onHang(verdict Verdict, reason string) {
	action := settings.CrashActionSilentRestart
	if m.policy != nil {
		action = m.policy.CurrentCrashAction()
	}

	if !action.RestartsAutomatically() {
		m.logger.Warnf("Hang detected, crash action is %s, leaving process alone, verdict: %s, reason: %s",
			action, verdict, reason)
		return
	}

	m.logger.Errorf("Hang detected, requesting restart, verdict: %s, reason: %s", verdict, reason)
	if m.restarter == nil {
		m.logger.Errorf("No restart requester configured")
		return
	}
	outcome := m.restarter.RequestRestart(reason)
	m.logger.Infof("Restart request finished, outcome: %s", outcome)
}

// Start runs the liveness and evaluation tickers until ctx is done or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.beatLoop(ctx)
	go m.evaluateLoop(ctx)
	m.logger.Infof("Heartbeat monitor started, beat: %s, evaluate: %s, runtime threshold: %s, startup ceiling: %s",
		m.config.BeatInterval, m.config.EvaluateInterval, m.config.RuntimeHangThreshold, m.config.StartupHangCeiling)
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

func (m *Monitor) beatLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.BeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.dispatcher == nil {
				m.Beat(time.Now())
				continue
			}
			m.dispatcher.Post(func() {
				m.Beat(time.Now())
			})
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) evaluateLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Evaluate(time.Now())
		case <-ctx.Done():
			m.logger.Debugf("Heartbeat evaluation loop stopped")
			return
		case <-m.stopChan:
			m.logger.Debugf("Heartbeat evaluation loop stopped")
			return
		}
	}
}
