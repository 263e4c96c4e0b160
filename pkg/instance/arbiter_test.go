package instance

import (
	"context"
	stderrors "errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOwner struct {
	mock.Mock
}

func (m *mockOwner) Deliver(ctx context.Context, payload handoff.Payload) (handoff.DeliveryResponse, error) {
	args := m.Called(payload)
	return args.Get(0).(handoff.DeliveryResponse), args.Error(1)
}

func (m *mockOwner) Health(ctx context.Context) (handoff.HealthResponse, error) {
	args := m.Called()
	return args.Get(0).(handoff.HealthResponse), args.Error(1)
}

func newFiles(t *testing.T) *processfile.ProcessFileManager {
	return processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory: t.TempDir(),
		AppName:       "test-app",
	}, nil)
}

func newTestArbiter(files *processfile.ProcessFileManager, owner OwnerChannel) *Arbiter {
	arbiter := NewArbiter(files, Config{RelaunchLockWait: 200 * time.Millisecond}, "run-1", nil)
	arbiter.sleep = func(time.Duration) {}
	arbiter.dial = func(mode string) (OwnerChannel, error) {
		return owner, nil
	}
	return arbiter
}

func parseArgs(t *testing.T, argv ...string) launchargs.Args {
	args, err := launchargs.Parse(argv)
	require.NoError(t, err)
	return args
}

func TestArbiter_FirstLaunchOwns(t *testing.T) {
	files := newFiles(t)
	arbiter := newTestArbiter(files, &mockOwner{})
	defer arbiter.Release()

	result, err := arbiter.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)

	assert.Equal(t, DecisionOwn, result.Decision)
	assert.True(t, arbiter.Owned())

	pid, err := files.ReadPIDFile("instance-normal")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestArbiter_SecondLaunchWithDocumentYieldsWithOneDelivery(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	deliverer := &mockOwner{}
	deliverer.On("Deliver", mock.Anything).Return(handoff.DeliveryResponse{Accepted: true}, nil)
	second := newTestArbiter(files, deliverer)

	result, err := second.Arbitrate(context.Background(), parseArgs(t, "lesson.pdf"))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.Equal(t, os.Getpid(), result.OwnerPID)
	assert.True(t, result.DeliveryAttempted)
	assert.True(t, result.Delivered)
	assert.False(t, second.Owned())
	deliverer.AssertNumberOfCalls(t, "Deliver", 1)

	payload := deliverer.Calls[0].Arguments.Get(0).(handoff.Payload)
	assert.Equal(t, handoff.PayloadOpenDocument, payload.Kind)
	assert.Contains(t, payload.Path, "lesson.pdf")
	assert.Equal(t, "run-1", payload.SenderRunID)
}

func TestArbiter_FailedDeliveryIsNotRetried(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	deliverer := &mockOwner{}
	deliverer.On("Deliver", mock.Anything).Return(handoff.DeliveryResponse{}, stderrors.New("connection refused"))
	second := newTestArbiter(files, deliverer)

	result, err := second.Arbitrate(context.Background(), parseArgs(t, "--board"))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.True(t, result.DeliveryAttempted)
	assert.False(t, result.Delivered)
	deliverer.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestArbiter_YieldWithoutPayloadDeliversNothing(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	deliverer := &mockOwner{}
	result, err := newTestArbiter(files, deliverer).Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.False(t, result.DeliveryAttempted)
	deliverer.AssertNotCalled(t, "Deliver", mock.Anything)
}

func TestArbiter_MultiInstanceProceeds(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	deliverer := &mockOwner{}
	result, err := newTestArbiter(files, deliverer).Arbitrate(context.Background(), parseArgs(t, "--multi-instance", "lesson.pdf"))
	require.NoError(t, err)

	assert.Equal(t, DecisionProceedUnowned, result.Decision)
	deliverer.AssertNotCalled(t, "Deliver", mock.Anything)
}

func TestArbiter_SkipInstanceCheckTakesOverReleasedLock(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		owner.Release()
	}()

	successor := newTestArbiter(files, &mockOwner{})
	defer successor.Release()
	result, err := successor.Arbitrate(context.Background(), parseArgs(t, "--skip-instance-check"))
	require.NoError(t, err)

	assert.Equal(t, DecisionOwn, result.Decision)
	assert.True(t, successor.Owned())
}

func TestArbiter_SkipInstanceCheckYieldsToAnotherLiveOwner(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	// The handoff server is not up; the owner PID file names a live process
	channel := &mockOwner{}
	channel.On("Health").Return(handoff.HealthResponse{}, stderrors.New("connection refused"))
	successor := newTestArbiter(files, channel)

	result, err := successor.Arbitrate(context.Background(), parseArgs(t, "--skip-instance-check", "--predecessor-pid", "4242"))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.Equal(t, os.Getpid(), result.OwnerPID)
	assert.False(t, result.DeliveryAttempted)
	assert.False(t, successor.Owned())
	channel.AssertNotCalled(t, "Deliver", mock.Anything)
}

func TestArbiter_SkipInstanceCheckYieldsToHealthyOwner(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	channel := &mockOwner{}
	channel.On("Health").Return(handoff.HealthResponse{Status: "healthy", OwnerPID: 5151}, nil)
	successor := newTestArbiter(files, channel)
	successor.alive = func(int) bool { return false }

	result, err := successor.Arbitrate(context.Background(), parseArgs(t, "--skip-instance-check", "--predecessor-pid", "4242"))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.Equal(t, 5151, result.OwnerPID)
}

func TestArbiter_SkipInstanceCheckProceedsWhenPredecessorKeepsLock(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	channel := &mockOwner{}
	channel.On("Health").Return(handoff.HealthResponse{}, stderrors.New("connection refused"))
	predecessor := strconv.Itoa(os.Getpid())

	result, err := newTestArbiter(files, channel).Arbitrate(context.Background(),
		parseArgs(t, "--skip-instance-check", "--predecessor-pid", predecessor, "lesson.pdf"))
	require.NoError(t, err)

	assert.Equal(t, DecisionProceedUnowned, result.Decision)
	channel.AssertNotCalled(t, "Deliver", mock.Anything)
}

func TestArbiter_SkipInstanceCheckProceedsWhenOwnerIsGone(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	channel := &mockOwner{}
	channel.On("Health").Return(handoff.HealthResponse{}, stderrors.New("connection refused"))
	successor := newTestArbiter(files, channel)
	successor.alive = func(int) bool { return false }

	result, err := successor.Arbitrate(context.Background(), parseArgs(t, "--skip-instance-check", "--predecessor-pid", "4242"))
	require.NoError(t, err)

	assert.Equal(t, DecisionProceedUnowned, result.Decision)
}

func TestArbiter_UpdateModeSkipsArbitrationAfterDelay(t *testing.T) {
	files := newFiles(t)
	owner := newTestArbiter(files, &mockOwner{})
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	updater := newTestArbiter(files, &mockOwner{})
	defer updater.Release()
	var slept time.Duration
	updater.sleep = func(d time.Duration) { slept = d }

	result, err := updater.Arbitrate(context.Background(), parseArgs(t, "--update-mode", "lesson.pdf"))
	require.NoError(t, err)

	assert.Equal(t, DefaultUpdateHandoffDelay, slept)
	assert.Equal(t, DecisionOwn, result.Decision)
	assert.Equal(t, launchargs.ModeUpdate, result.Mode)
	assert.NotEqual(t, files.GenerateInstanceLockPath(launchargs.ModeNormal), files.GenerateInstanceLockPath(launchargs.ModeUpdate))
}

func TestPayloadFromArgs_Priority(t *testing.T) {
	payload, ok := PayloadFromArgs(parseArgs(t, "--board", "--show", "lesson.pdf"), "run")
	require.True(t, ok)
	assert.Equal(t, handoff.PayloadOpenDocument, payload.Kind)

	payload, ok = PayloadFromArgs(parseArgs(t, "--board", "--show"), "run")
	require.True(t, ok)
	assert.Equal(t, handoff.PayloadEnterWhiteboard, payload.Kind)

	payload, ok = PayloadFromArgs(parseArgs(t, "--show"), "run")
	require.True(t, ok)
	assert.Equal(t, handoff.PayloadShowFloatingBar, payload.Kind)

	_, ok = PayloadFromArgs(parseArgs(t), "run")
	assert.False(t, ok)
}

func TestArbiter_HandoffOverRealChannel(t *testing.T) {
	files := newFiles(t)
	owner := NewArbiter(files, Config{Transport: handoff.TransportTCP}, "owner-run", nil)
	_, err := owner.Arbitrate(context.Background(), parseArgs(t))
	require.NoError(t, err)
	defer owner.Release()

	received := make(chan handoff.Payload, 1)
	server, err := handoff.NewServer(handoff.NewEndpoint(files, launchargs.ModeNormal, handoff.TransportTCP),
		handoff.PayloadHandlerFunc(func(ctx context.Context, payload handoff.Payload) error {
			received <- payload
			return nil
		}), nil)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop(context.Background())

	second := NewArbiter(files, Config{Transport: handoff.TransportTCP}, "second-run", nil)
	result, err := second.Arbitrate(context.Background(), parseArgs(t, "--show"))
	require.NoError(t, err)

	assert.Equal(t, DecisionYield, result.Decision)
	assert.True(t, result.Delivered)
	select {
	case payload := <-received:
		assert.Equal(t, handoff.PayloadShowFloatingBar, payload.Kind)
		assert.Equal(t, "second-run", payload.SenderRunID)
	case <-time.After(time.Second):
		t.Fatal("payload not received")
	}
}
