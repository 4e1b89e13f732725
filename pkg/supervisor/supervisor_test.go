package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectSessionSkipsDiscovery(t *testing.T) {
	var registered atomic.Bool
	s := New(slog.Default(), Hooks{
		RegisterAll: func() { registered.Store(true) },
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, time.Millisecond)
	assert.True(t, registered.Load())

	cancel()
	<-done
}

func TestWildcardSessionRunsDiscoveryFirst(t *testing.T) {
	var discoverCalled atomic.Bool
	s := New(slog.Default(), Hooks{
		Discover: func(ctx context.Context) error {
			discoverCalled.Store(true)
			return nil
		},
	}, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, time.Millisecond)
	assert.True(t, discoverCalled.Load())

	cancel()
	<-done
}

func TestFirmwareCheckFailureStaysIdle(t *testing.T) {
	s := New(slog.Default(), Hooks{
		CheckFirmware: func(ctx context.Context) error { return assert.AnError },
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestConnectivityLossDegradesThenIdlesAfterTwoMisses(t *testing.T) {
	var unregistered atomic.Bool
	s := New(slog.Default(), Hooks{
		UnregisterAll: func() { unregistered.Store(true) },
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, time.Millisecond)

	s.ReportConnectivity(false)
	require.Eventually(t, func() bool { return s.State() == StateDegraded }, time.Second, time.Millisecond)

	s.ReportConnectivity(false)
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, time.Millisecond)
	assert.True(t, unregistered.Load())

	cancel()
	<-done
}
