package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitReadable(t *testing.T, fd int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 10)
		require.NoError(t, err)
		if n > 0 {
			return true
		}
	}
	return false
}

func TestOneShotFiresOnceAfterDelay(t *testing.T) {
	tr, err := NewOneShot(20 * time.Millisecond)
	require.NoError(t, err)
	defer tr.Close()

	require.True(t, waitReadable(t, tr.FD(), time.Second))
	count, ok, err := tr.Drain()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), count)

	// No further expiries: nothing becomes readable again.
	assert.False(t, waitReadable(t, tr.FD(), 100*time.Millisecond))
}

func TestPeriodicFiresRepeatedly(t *testing.T) {
	tr, err := NewPeriodic(15 * time.Millisecond)
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		require.True(t, waitReadable(t, tr.FD(), time.Second))
		_, ok, err := tr.Drain()
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestStopDisarms(t *testing.T) {
	tr, err := NewPeriodic(15 * time.Millisecond)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Stop())
	assert.False(t, waitReadable(t, tr.FD(), 100*time.Millisecond))
}
