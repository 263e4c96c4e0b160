package headless

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/exitcoord"
	"github.com/core-tools/hsu-guardian-go/pkg/handoff"
	"github.com/core-tools/hsu-guardian-go/pkg/launchargs"
	"github.com/core-tools/hsu-guardian-go/pkg/process"
	"github.com/core-tools/hsu-guardian-go/pkg/processfile"
	"github.com/core-tools/hsu-guardian-go/pkg/restartgovernor"
	"github.com/core-tools/hsu-guardian-go/pkg/supervisor"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noWatchdog struct{}

func (noWatchdog) SpawnWatchdog(target process.Identity, markerPath string) (exitcoord.WatchdogHandle, error) {
	return nil, os.ErrPermission
}

func TestApp_PostDropsWhenQueueFull(t *testing.T) {
	app := New(Options{QueueSize: 1})

	app.Post(func() {})
	done := make(chan struct{})
	go func() {
		app.Post(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked on a full queue")
	}
	assert.Len(t, app.queue, 1)
}

func TestApp_PayloadIsAppliedOnLoop(t *testing.T) {
	app := New(Options{})

	err := app.PayloadHandler().HandlePayload(context.Background(), handoff.Payload{
		Kind:      handoff.PayloadEnterWhiteboard,
		SenderPID: 77,
	})
	require.NoError(t, err)
	assert.Empty(t, app.Payloads())

	fn := <-app.queue
	fn()

	require.Len(t, app.Payloads(), 1)
	assert.Equal(t, handoff.PayloadEnterWhiteboard, app.Payloads()[0].Kind)
}

func TestApp_PayloadRejectedWhenQueueFull(t *testing.T) {
	app := New(Options{QueueSize: 1})
	app.Post(func() {})

	err := app.PayloadHandler().HandlePayload(context.Background(), handoff.Payload{
		Kind:      handoff.PayloadShowFloatingBar,
		SenderPID: 78,
	})

	assert.True(t, errors.IsConflictError(err))
	assert.Len(t, app.queue, 1)
}

func TestApp_RunUnderSupervisor(t *testing.T) {
	config := supervisor.DefaultConfig()
	config.Files = processfile.ProcessFileConfig{
		BaseDirectory: t.TempDir(),
		AppName:       "headless-test-" + uuid.NewString()[:8],
	}
	config.Instance.Transport = handoff.TransportTCP
	require.NoError(t, supervisor.ValidateConfig(config))

	args, err := launchargs.Parse([]string{"--board"})
	require.NoError(t, err)

	identity := process.Identity{PID: 4100001, ExecutablePath: os.Args[0], LaunchedAt: time.Now()}
	app := New(Options{RunDuration: 50 * time.Millisecond})

	sc, err := supervisor.NewContext(config, args, identity, supervisor.Dependencies{
		Exiter:          restartgovernor.ExitFunc(func(int) {}),
		WatchdogSpawner: noWatchdog{},
		Notifier:        app.Notifier(),
	}, nil)
	require.NoError(t, err)
	defer os.Remove(sc.Marker.Path())

	code := supervisor.RunMain(context.Background(), sc, app)

	assert.Equal(t, supervisor.ExitCodeOK, code)
	assert.True(t, sc.Marker.Exists())
	require.Len(t, app.Payloads(), 1)
	assert.Equal(t, handoff.PayloadEnterWhiteboard, app.Payloads()[0].Kind)
}
