package breakpoint

import (
	"context"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobreak/gobreak/log"
)

func quietLogger() log.Logger {
	return log.New(io.Discard)
}

func TestSetDisabledReturnsImmediately(t *testing.T) {
	reset()

	done := make(chan struct{})
	go func() {
		Set()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked with the gate disabled")
	}
}

func TestSetContextCancelled(t *testing.T) {
	reset()
	Enable(quietLogger())
	defer reset()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := SetContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetReturnsOnSigcont(t *testing.T) {
	reset()
	Enable(quietLogger())
	defer reset()

	go func() {
		time.Sleep(50 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGCONT)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := SetContext(ctx)
	require.NoError(t, err, "SetContext should return once SIGCONT arrives")
}

// TestSetAfterAttachDoesNotBlock verifies the gate stays open once the
// console has attached: later Set calls go straight to the marker.
func TestSetAfterAttachDoesNotBlock(t *testing.T) {
	reset()
	Enable(quietLogger())
	defer reset()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGCONT))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, SetContext(ctx))

	done := make(chan struct{})
	go func() {
		Set()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked after the console had already attached")
	}
}

// TestReleaseOpensGate covers the two halves of the workflow together: a
// goroutine blocked in SetContext proceeds once Release signals the process.
func TestReleaseOpensGate(t *testing.T) {
	reset()
	Enable(quietLogger())
	defer reset()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- SetContext(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, Release(os.Getpid()))

	select {
	case err := <-done:
		require.NoError(t, err, "SetContext should return once Release signals the target")
	case <-time.After(5 * time.Second):
		t.Fatal("SetContext still blocked after Release")
	}
}

func TestReleaseRejectsBadPid(t *testing.T) {
	require.Error(t, Release(0))
	require.Error(t, Release(-1))
}

func TestEnableIdempotent(t *testing.T) {
	reset()
	defer reset()

	Enable(quietLogger())
	Enable(quietLogger())
	Enable(nil)
}

func TestSetLogger(t *testing.T) {
	reset()
	assert.False(t, SetLogger(quietLogger()), "SetLogger before Enable has nothing to install on")

	Enable(quietLogger())
	defer reset()

	assert.True(t, SetLogger(quietLogger()))
	assert.False(t, SetLogger(nil))
}
