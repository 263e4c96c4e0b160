package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRestarter struct {
	mock.Mock
}

func (m *mockRestarter) RequestRestart(reason string) restartgovernor.Outcome {
	args := m.Called(reason)
	return args.Get(0).(restartgovernor.Outcome)
}

// stallableDispatcher runs posted funcs inline unless stalled
type stallableDispatcher struct {
	mutex   sync.Mutex
	stalled bool
	posted  int
}

func (d *stallableDispatcher) Post(fn func()) {
	d.mutex.Lock()
	stalled := d.stalled
	d.posted++
	d.mutex.Unlock()
	if !stalled {
		fn()
	}
}

func (d *stallableDispatcher) setStalled(stalled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stalled = stalled
}

func testConfig() Config {
	return Config{
		BeatInterval:         time.Second,
		EvaluateInterval:     3 * time.Second,
		RuntimeHangThreshold: 10 * time.Second,
		StartupHangCeiling:   2 * time.Minute,
	}
}

func TestMonitor_RuntimeHangRequestsExactlyOneRestart(t *testing.T) {
	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeRelaunched)
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)

	start := time.Now()
	monitor.MarkStartupComplete(start)
	monitor.Beat(start)

	assert.Equal(t, VerdictHealthy, monitor.Evaluate(start.Add(9*time.Second)))
	assert.Equal(t, VerdictRuntimeHang, monitor.Evaluate(start.Add(11*time.Second)))
	assert.Equal(t, VerdictRuntimeHang, monitor.Evaluate(start.Add(14*time.Second)))
	assert.Equal(t, VerdictRuntimeHang, monitor.Evaluate(start.Add(17*time.Second)))

	restarter.AssertNumberOfCalls(t, "RequestRestart", 1)
	assert.True(t, monitor.State().HangReported)
}

func TestMonitor_FreshBeatRearmsHangDetection(t *testing.T) {
	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeAlreadyRequested)
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)

	start := time.Now()
	monitor.MarkStartupComplete(start)

	monitor.Evaluate(start.Add(11 * time.Second))
	monitor.Beat(start.Add(12 * time.Second))
	assert.False(t, monitor.State().HangReported)
	assert.Equal(t, VerdictHealthy, monitor.Evaluate(start.Add(13*time.Second)))
	monitor.Evaluate(start.Add(30 * time.Second))

	restarter.AssertNumberOfCalls(t, "RequestRestart", 2)
}

func TestMonitor_NoActionPolicyNeverRequestsRestart(t *testing.T) {
	restarter := &mockRestarter{}
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionNoAction), restarter, nil)

	start := time.Now()
	monitor.MarkSplashShown(start)
	assert.Equal(t, VerdictStartupHang, monitor.Evaluate(start.Add(3*time.Minute)))

	monitor.MarkStartupComplete(start.Add(3 * time.Minute))
	assert.Equal(t, VerdictRuntimeHang, monitor.Evaluate(start.Add(4*time.Minute)))

	restarter.AssertNotCalled(t, "RequestRestart", mock.Anything)
}

func TestMonitor_PolicyIsReadAtHangTime(t *testing.T) {
	store := settings.NewStore(t.TempDir()+"/settings.yaml", nil)
	require.NoError(t, store.Save(settings.Settings{CrashAction: settings.CrashActionSilentRestart}))

	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeRelaunched)
	monitor := NewMonitor(testConfig(), nil, store, restarter, nil)

	start := time.Now()
	monitor.MarkStartupComplete(start)

	// The user opts out after the monitor was built
	require.NoError(t, store.Save(settings.Settings{CrashAction: settings.CrashActionNoAction}))
	monitor.Evaluate(start.Add(20 * time.Second))

	restarter.AssertNotCalled(t, "RequestRestart", mock.Anything)
}

func TestMonitor_StartupHangOnlyBeforeStartupComplete(t *testing.T) {
	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeRelaunched)
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)

	start := time.Now()
	monitor.MarkSplashShown(start)
	assert.Equal(t, VerdictHealthy, monitor.Evaluate(start.Add(time.Minute)))

	monitor.MarkStartupComplete(start.Add(90 * time.Second))
	monitor.Beat(start.Add(5 * time.Minute))

	// Splash timestamp is still set but the startup branch is inert
	state := monitor.State()
	require.NotNil(t, state.SplashStartTime)
	assert.True(t, state.StartupComplete)
	assert.Equal(t, VerdictHealthy, monitor.Evaluate(start.Add(5*time.Minute+time.Second)))

	restarter.AssertNotCalled(t, "RequestRestart", mock.Anything)
}

func TestMonitor_StartupHangWithoutSplashIsIgnored(t *testing.T) {
	restarter := &mockRestarter{}
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)

	assert.Equal(t, VerdictHealthy, monitor.Evaluate(time.Now().Add(time.Hour)))
	restarter.AssertNotCalled(t, "RequestRestart", mock.Anything)
}

func TestMonitor_StartupHangReportedOnce(t *testing.T) {
	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeRelaunched)
	monitor := NewMonitor(testConfig(), nil, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)

	start := time.Now()
	monitor.MarkSplashShown(start)
	monitor.Evaluate(start.Add(3 * time.Minute))
	monitor.Beat(start.Add(3 * time.Minute))
	monitor.Evaluate(start.Add(4 * time.Minute))

	restarter.AssertNumberOfCalls(t, "RequestRestart", 1)
}

func TestMonitor_StalledDispatcherIsDetected(t *testing.T) {
	config := Config{
		BeatInterval:         5 * time.Millisecond,
		EvaluateInterval:     10 * time.Millisecond,
		RuntimeHangThreshold: 60 * time.Millisecond,
		StartupHangCeiling:   time.Minute,
	}
	dispatcher := &stallableDispatcher{}
	restarter := &mockRestarter{}
	restarter.On("RequestRestart", mock.Anything).Return(restartgovernor.OutcomeRelaunched)
	monitor := NewMonitor(config, dispatcher, settings.StaticPolicy(settings.CrashActionSilentRestart), restarter, nil)
	monitor.MarkStartupComplete(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()

	time.Sleep(50 * time.Millisecond)
	restarter.AssertNotCalled(t, "RequestRestart", mock.Anything)

	dispatcher.setStalled(true)
	assert.Eventually(t, func() bool {
		return monitor.State().HangReported
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	monitor.Stop()
	restarter.AssertNumberOfCalls(t, "RequestRestart", 1)
}

func TestConfig_Validate(t *testing.T) {
	config := testConfig()
	assert.NoError(t, config.Validate())

	config.BeatInterval = 20 * time.Second
	assert.Error(t, config.Validate())

	config = testConfig()
	config.EvaluateInterval = -time.Second
	assert.Error(t, config.Validate())
}
