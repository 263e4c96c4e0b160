package process

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentIdentity(t *testing.T) {
	launchedAt := time.Now().Add(-time.Minute)

	identity, err := CurrentIdentity(launchedAt)

	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), identity.PID)
	assert.NotEmpty(t, identity.ExecutablePath)
	assert.InDelta(t, time.Minute.Seconds(), identity.Uptime(time.Now()).Seconds(), 1)
	assert.Zero(t, Identity{}.Uptime(time.Now()))
}

func TestIsAlive_CurrentProcess(t *testing.T) {
	assert.True(t, IsAlive(os.Getpid()))
	assert.False(t, IsAlive(0))
	assert.False(t, IsAlive(-5))
}

func TestIsAlive_ExitedChild(t *testing.T) {
	cmd := shortLivedCommand()
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	assert.False(t, IsAlive(pid))
}

func TestTakeSnapshot(t *testing.T) {
	identity := Identity{PID: os.Getpid(), LaunchedAt: time.Now().Add(-2 * time.Second)}

	snapshot := TakeSnapshot(identity, time.Now())

	assert.NotZero(t, snapshot.HeapAlloc)
	assert.NotZero(t, snapshot.SysMemory)
	assert.GreaterOrEqual(t, snapshot.Uptime, 2*time.Second)
	assert.Positive(t, snapshot.Goroutines)
	assert.Contains(t, snapshot.String(), "uptime=")
}

func TestExitObserver_ReportsChildExit(t *testing.T) {
	observer := NewExitObserver()
	if !observer.Available() {
		t.Skip("no process exit notification facility on this platform")
	}

	cmd := shortLivedCommand()
	require.NoError(t, cmd.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exited := observer.Watch(ctx, cmd.Process.Pid)
	require.NotNil(t, exited)
	require.NoError(t, cmd.Wait())

	select {
	case <-exited:
	case <-ctx.Done():
		t.Fatal("exit was not observed")
	}
}

func TestNoopExitObserver(t *testing.T) {
	observer := NoopExitObserver()

	assert.False(t, observer.Available())
	assert.Nil(t, observer.Watch(context.Background(), os.Getpid()))
}

func TestSpawn_RequiresExecutable(t *testing.T) {
	_, err := Spawn(SpawnOptions{}, nil)
	assert.Error(t, err)
}

func shortLivedCommand() *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/c", "exit", "0")
	}
	return exec.Command("/bin/sh", "-c", "exit 0")
}
