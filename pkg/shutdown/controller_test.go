package shutdown_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/shutdown"
	"github.com/stretchr/testify/require"
)

func TestManualStopTriggersCallbacksOnce(t *testing.T) {
	c := shutdown.New(shutdown.Config{StopFile: "/tmp/nomad-drain-stop-test-manual"})
	defer os.Remove(c.StopFilePath())

	var calls int
	c.OnStop(func() { calls++ })

	c.Stop("test")
	c.Stop("test again")

	require.Equal(t, 1, calls)
	require.True(t, c.IsStopped())
}

func TestStopFileDetectionTriggersStop(t *testing.T) {
	c := shutdown.New(shutdown.Config{
		StopFile:     "/tmp/nomad-drain-stop-test-file",
		PollInterval: 5 * time.Millisecond,
	})
	defer os.Remove(c.StopFilePath())
	os.Remove(c.StopFilePath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.NoError(t, c.CreateStopFile())

	select {
	case <-c.StopChannel():
	case <-time.After(time.Second):
		t.Fatal("stop file was not detected in time")
	}
	require.True(t, c.IsStopped())
}

func TestStopChannelNotClosedWithoutTrigger(t *testing.T) {
	c := shutdown.New(shutdown.Config{StopFile: "/tmp/nomad-drain-stop-test-idle", PollInterval: 5 * time.Millisecond})
	defer os.Remove(c.StopFilePath())
	os.Remove(c.StopFilePath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	select {
	case <-c.StopChannel():
		t.Fatal("stop channel closed without a trigger")
	case <-time.After(30 * time.Millisecond):
	}
	require.False(t, c.IsStopped())
}
